package spinor

import (
	"slices"

	"periph.io/x/conn/v3/physic"
)

// ClockSource reports the peripheral clock the SPI baud divisor is derived from.
type ClockSource interface {
	PeripheralClock() physic.Frequency
}

// Fixed is a ClockSource with a constant frequency, e.g. the reference clock
// of a USB bridge.
type Fixed physic.Frequency

func (f Fixed) PeripheralClock() physic.Frequency { return physic.Frequency(f) }

// OscSource selects the system clock oscillator.
type OscSource uint8

const (
	SrcIMOSC OscSource = 0 // internal main oscillator
	SrcEMOSC OscSource = 1 // external crystal
	SrcHFOSC OscSource = 2 // internal high frequency oscillator
	SrcISOSC OscSource = 4 // internal sub oscillator
)

func (s OscSource) String() string {
	switch s {
	case SrcIMOSC:
		return "IMOSC"
	case SrcEMOSC:
		return "EMOSC"
	case SrcHFOSC:
		return "HFOSC"
	case SrcISOSC:
		return "ISOSC"
	}
	return "OscSource(?)"
}

// Oscillator frequencies selectable per source.
var oscFreqs = map[OscSource][]physic.Frequency{
	SrcIMOSC: {5556 * physic.KiloHertz, 4194 * physic.KiloHertz, 2097 * physic.KiloHertz, 131 * physic.KiloHertz},
	SrcHFOSC: {48 * physic.MegaHertz, 24 * physic.MegaHertz, 12 * physic.MegaHertz, 6 * physic.MegaHertz},
	SrcISOSC: {27 * physic.KiloHertz},
}

var (
	hclkDividers = []int{1, 2, 3, 4, 5, 6, 8, 12, 16, 24, 32, 36, 64, 128, 256}
	pclkDividers = []int{1, 2, 4, 8, 16}
)

// SysClock is the system clock tree setting: oscillator, HCLK and PCLK dividers.
//
//	SCLK = OscFreq / HCLKDiv
//	PCLK = SCLK / PCLKDiv
type SysClock struct {
	Source  OscSource
	OscFreq physic.Frequency
	HCLKDiv int
	PCLKDiv int
}

// DefaultSysClock is the reset setting: IMOSC at 5.556MHz, no division.
var DefaultSysClock = SysClock{Source: SrcIMOSC, OscFreq: 5556 * physic.KiloHertz, HCLKDiv: 1, PCLKDiv: 1}

func (c SysClock) Validate() error {
	if c.Source == SrcEMOSC {
		if c.OscFreq <= 0 {
			return configErrorf("EMOSC frequency %s", c.OscFreq)
		}
	} else {
		freqs, ok := oscFreqs[c.Source]
		if !ok {
			return configErrorf("unknown clock source %d", c.Source)
		}
		if !slices.Contains(freqs, c.OscFreq) {
			return configErrorf("%s cannot run at %s", c.Source, c.OscFreq)
		}
	}
	if !slices.Contains(hclkDividers, c.HCLKDiv) {
		return configErrorf("HCLK divider %d", c.HCLKDiv)
	}
	if !slices.Contains(pclkDividers, c.PCLKDiv) {
		return configErrorf("PCLK divider %d", c.PCLKDiv)
	}
	return nil
}

// SystemClock returns SCLK (HCLK).
func (c SysClock) SystemClock() physic.Frequency {
	if c.HCLKDiv == 0 {
		return c.OscFreq
	}
	return c.OscFreq / physic.Frequency(c.HCLKDiv)
}

func (c SysClock) PeripheralClock() physic.Frequency {
	if c.PCLKDiv == 0 {
		return c.SystemClock()
	}
	return c.SystemClock() / physic.Frequency(c.PCLKDiv)
}
