package spinor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/gentam/spinor/flashtest"
)

func TestDivideBaud(t *testing.T) {
	const pclk = 48 * physic.MegaHertz
	for _, tc := range []struct {
		want, got physic.Frequency
	}{
		{24 * physic.MegaHertz, 24 * physic.MegaHertz},
		{12 * physic.MegaHertz, 12 * physic.MegaHertz},
		{10 * physic.MegaHertz, 8 * physic.MegaHertz}, // pclk/6
		{1 * physic.MegaHertz, 1 * physic.MegaHertz},
		{1 * physic.KiloHertz, 1 * physic.KiloHertz}, // 250 * 192
	} {
		got, err := divideBaud(pclk, tc.want)
		require.NoError(t, err, tc.want)
		assert.Equal(t, tc.got, got, tc.want)
		assert.LessOrEqual(t, got, tc.want)
	}

	for _, want := range []physic.Frequency{0, 25 * physic.MegaHertz, 100 * physic.Hertz} {
		_, err := divideBaud(pclk, want)
		assert.ErrorIs(t, err, ErrConfig, want)
	}
	_, err := divideBaud(0, physic.MegaHertz)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestConfigure(t *testing.T) {
	chip := flashtest.NewW25Q16()
	cfg := DefaultLinkConfig
	cfg.Mode = spi.Mode3
	cfg.Baud = 10 * physic.MegaHertz
	cfg.NoCS = true

	l, err := Configure(chip, Fixed(48*physic.MegaHertz), cfg)
	require.NoError(t, err)
	assert.Equal(t, 8*physic.MegaHertz, l.Baud())
	assert.Equal(t, cfg, l.Config())

	f, mode, bits := chip.Connection()
	assert.Equal(t, 8*physic.MegaHertz, f)
	assert.Equal(t, spi.Mode3|spi.NoCS, mode)
	assert.Equal(t, 8, bits)

	require.NoError(t, l.Close())
	assert.True(t, chip.Closed())
	assert.ErrorIs(t, l.Transfer([]byte{0}, nil, 1), ErrTransport)
}

func TestConfigureRejects(t *testing.T) {
	clk := Fixed(48 * physic.MegaHertz)
	for name, mutate := range map[string]func(*LinkConfig){
		"slave":        func(c *LinkConfig) { c.Role = Slave },
		"role":         func(c *LinkConfig) { c.Role = 7 },
		"mode":         func(c *LinkConfig) { c.Mode = 5 },
		"frame narrow": func(c *LinkConfig) { c.FrameBits = 3 },
		"frame wide":   func(c *LinkConfig) { c.FrameBits = 17 },
		"rx threshold": func(c *LinkConfig) { c.RxThreshold = 9 },
		"interrupt":    func(c *LinkConfig) { c.Interrupt = 3 },
		"baud":         func(c *LinkConfig) { c.Baud = 30 * physic.MegaHertz },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultLinkConfig
			mutate(&cfg)
			_, err := Configure(flashtest.NewW25Q16(), clk, cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}

	_, err := Configure(flashtest.NewW25Q16(), nil, DefaultLinkConfig)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = Configure(nil, clk, DefaultLinkConfig)
	assert.ErrorIs(t, err, ErrConfig)

	// the port refuses 16-bit frames
	cfg := DefaultLinkConfig
	cfg.FrameBits = 16
	_, err = Configure(flashtest.NewW25Q16(), clk, cfg)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestTransfer(t *testing.T) {
	chip := flashtest.NewW25Q16()
	l, err := Configure(chip, Fixed(48*physic.MegaHertz), DefaultLinkConfig)
	require.NoError(t, err)

	// pure receive: zeros are clocked out
	rx := make([]byte, 4)
	require.NoError(t, l.Transfer(nil, rx, 4))
	assert.Equal(t, [][]byte{{0, 0, 0, 0}}, chip.Frames())

	// full duplex in place
	buf := []byte{0x9F, 0, 0, 0}
	require.NoError(t, l.Transfer(buf, buf, len(buf)))
	assert.Equal(t, []byte{0, 0xEF, 0x40, 0x15}, buf)

	assert.ErrorIs(t, l.Transfer(nil, nil, 0), ErrTransport)
	assert.ErrorIs(t, l.Transfer([]byte{1}, nil, 2), ErrTransport)
	assert.ErrorIs(t, l.Transfer(nil, make([]byte, 1), 2), ErrTransport)

	var nilLink *Link
	assert.ErrorIs(t, nilLink.Transfer(nil, nil, 1), ErrTransport)
}

func TestMaxTxSize(t *testing.T) {
	chip := flashtest.NewW25Q16()
	chip.MaxTx = 64
	l, err := Configure(chip, Fixed(48*physic.MegaHertz), DefaultLinkConfig)
	require.NoError(t, err)
	assert.Equal(t, 64, l.MaxTxSize())
}
