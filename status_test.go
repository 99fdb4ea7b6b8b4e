package spinor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusRegister(t *testing.T) {
	sr := StatusRegister(0x03)
	assert.True(t, sr.Busy())
	assert.True(t, sr.WriteEnabled())
	assert.Equal(t, 0, sr.BlockProtect())
	assert.Equal(t, "00000011 WEL,BUSY", sr.String())

	sr = StatusRegister(0xFC)
	assert.False(t, sr.Busy())
	assert.True(t, sr.StatusRegisterProtect())
	assert.True(t, sr.SectorProtect())
	assert.True(t, sr.TopBottom())
	assert.Equal(t, 7, sr.BlockProtect())
	assert.Equal(t, "11111100 SRP0,SEC,TB,BP2,BP1,BP0", sr.String())

	assert.Equal(t, "00000000", StatusRegister(0).String())
	assert.Equal(t, StatusRegister(0x14), StatusBP2|StatusBP0)
}

func TestStatusRegister1(t *testing.T) {
	sr := StatusRegister1(0xC2)
	assert.True(t, sr.Suspended())
	assert.True(t, sr.Complement())
	assert.True(t, sr.QuadEnabled())
	assert.Equal(t, "11000010 SUS,CMP,QE", sr.String())
}
