package spinor_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/gentam/spinor"
	"github.com/gentam/spinor/flashtest"
)

func registerChip(t *testing.T, name string, chip *flashtest.Chip) {
	t.Helper()
	require.NoError(t, spireg.Register(name, nil, -1, chip.Opener()))
}

func TestNewDevice(t *testing.T) {
	chip := flashtest.NewW25Q16()
	registerChip(t, "FLASHTEST_DEV", chip)
	require.NoError(t, gpioreg.Register(flashtest.NewPin("FLASHTEST_DEV_CS", chip)))

	inits := 0
	d, err := spinor.NewDevice(spinor.DeviceConfig{
		Port:       "FLASHTEST_DEV",
		CS:         "FLASHTEST_DEV_CS",
		SystemInit: func() error { inits++; return nil },
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inits)
	assert.Equal(t, 10*physic.MegaHertz, d.Link.Baud(), "60MHz / 6")

	id, err := d.Flash.ReadID()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xEF14), id)

	require.NoError(t, d.Flash.WriteBytes(0x1000, []byte{1, 2, 3}))
	got, err := d.Flash.ReadBytes(0x1000, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	assert.Error(t, d.SetWriteProtect(true), "no /WP pin")

	require.NoError(t, d.Close())
	assert.True(t, chip.Closed())
}

func TestNewDeviceMissingCS(t *testing.T) {
	chip := flashtest.NewW25Q16()
	registerChip(t, "FLASHTEST_NOCS", chip)

	_, err := spinor.NewDevice(spinor.DeviceConfig{
		Port:       "FLASHTEST_NOCS",
		CS:         "FLASHTEST_MISSING_PIN",
		SystemInit: func() error { return nil },
	})
	assert.ErrorContains(t, err, "FLASHTEST_MISSING_PIN")
	assert.True(t, chip.Closed())
}

func TestNewDeviceInitHook(t *testing.T) {
	initErr := errors.New("watchdog still running")
	_, err := spinor.NewDevice(spinor.DeviceConfig{
		Port:       "FLASHTEST_UNUSED",
		SystemInit: func() error { return initErr },
	})
	assert.ErrorIs(t, err, initErr)
}

func TestNewDeviceBadLink(t *testing.T) {
	chip := flashtest.NewW25Q16()
	registerChip(t, "FLASHTEST_BADLINK", chip)

	cfg := spinor.DefaultLinkConfig
	cfg.Baud = 40 * physic.MegaHertz
	_, err := spinor.NewDevice(spinor.DeviceConfig{
		Port:       "FLASHTEST_BADLINK",
		Link:       cfg,
		SystemInit: func() error { return nil },
	})
	assert.ErrorIs(t, err, spinor.ErrConfig)
	assert.True(t, chip.Closed())
}

func TestNewDevicePortChipSelect(t *testing.T) {
	chip := flashtest.NewW25Q16()
	registerChip(t, "FLASHTEST_PORTCS", chip)

	inits := 0
	cfg := spinor.DeviceConfig{
		Port:       "FLASHTEST_PORTCS",
		SystemInit: func() error { inits++; return nil },
		Logger:     zaptest.NewLogger(t),
	}
	d, err := spinor.NewDevice(cfg)
	require.NoError(t, err)

	id, err := d.Flash.ReadID()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xEF14), id)
	require.NoError(t, d.Flash.WriteBytes(0x2000, []byte{9, 8, 7}))
	got, err := d.Flash.ReadBytes(0x2000, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, got)
	require.NoError(t, d.Close())

	// a caller supplied init hook runs for every device
	d, err = spinor.NewDevice(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.Equal(t, 2, inits)
}
