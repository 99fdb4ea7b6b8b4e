package spinor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTiming(t *testing.T) {
	f := &Flash{}
	// worst case over known chips until the chip is identified
	assert.Equal(t, 200*time.Second, f.timing(flashCmdEraseChip))
	assert.Equal(t, 5*time.Millisecond, f.timing(flashCmdPageProgram))
	assert.Equal(t, 3*time.Microsecond, f.timing(flashCmdPowerUp))
	assert.Zero(t, f.timing(flashCmdRead))

	w25q16 := knownFlash[flashIDWinbondW25Q16]
	f.pr = &w25q16
	for op, want := range map[byte]time.Duration{
		flashCmdPowerUp:     3 * time.Microsecond,
		flashCmdPowerDown:   3 * time.Microsecond,
		flashCmdWriteStatus: 15 * time.Millisecond,
		flashCmdPageProgram: 3 * time.Millisecond,
		flashCmdErase4KB:    400 * time.Millisecond,
		flashCmdErase32KB:   1600 * time.Millisecond,
		flashCmdErase64KB:   2 * time.Second,
		flashCmdEraseChip:   25 * time.Second,
	} {
		assert.Equal(t, want, f.timing(op), "op 0x%02X", op)
	}
}

func TestLookupDeviceID(t *testing.T) {
	p, ok := lookupDeviceID(0xEF14)
	assert.True(t, ok)
	assert.Equal(t, 2<<20, p.capacity)

	// the Micron entry has no 0x90 id and must not match 0
	_, ok = lookupDeviceID(0)
	assert.False(t, ok)
}
