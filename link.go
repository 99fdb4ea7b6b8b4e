package spinor

import (
	"fmt"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// Role of the controller on the bus.
type Role uint8

const (
	Master Role = iota
	Slave
)

// RxThreshold is the receive FIFO level (of 8 entries) that raises the
// receive interrupt.
type RxThreshold uint8

const (
	RxFIFO1of8 RxThreshold = iota
	RxFIFO1of4
	RxFIFO1of2
)

// Interrupt selects which SPI interrupt is enabled at configuration time.
// Transfers made through a Link are blocking regardless.
type Interrupt uint8

const (
	IntNone Interrupt = iota
	IntTx
	IntRx
)

// Baud divisor limits: CPSDVSR is even in [2, 254], SCR in [0, 255].
const (
	minPrescale = 2
	maxPrescale = 254
	maxSCR      = 255
)

// LinkConfig describes one SPI channel.
type LinkConfig struct {
	Role        Role
	Mode        spi.Mode // Mode0..Mode3
	FrameBits   int      // 4..16
	Baud        physic.Frequency
	RxThreshold RxThreshold
	Interrupt   Interrupt

	// NoCS asks the port not to drive its own chip select; the flash uses a
	// separate ChipSelect line held across multi-phase transfers.
	NoCS bool
}

// DefaultLinkConfig is the setting used for W25Q16 access: master, mode 0,
// 8-bit frames at 12MHz.
var DefaultLinkConfig = LinkConfig{
	Role:        Master,
	Mode:        spi.Mode0,
	FrameBits:   8,
	Baud:        12 * physic.MegaHertz,
	RxThreshold: RxFIFO1of2,
	Interrupt:   IntNone,
}

// Link is a configured SPI channel. It is not safe for concurrent use; a
// Flash serializes access to its link.
type Link struct {
	cfg    LinkConfig
	baud   physic.Frequency // achieved rate
	conn   spi.Conn
	closer func() error
}

// Configure validates cfg against the peripheral clock and connects port.
func Configure(port spi.Port, clk ClockSource, cfg LinkConfig) (*Link, error) {
	if port == nil {
		return nil, configErrorf("nil SPI port")
	}
	baud, err := cfg.validate(clk)
	if err != nil {
		return nil, err
	}

	mode := cfg.Mode
	if cfg.NoCS {
		mode |= spi.NoCS
	}
	c, err := port.Connect(baud, mode, cfg.FrameBits)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", ErrConfig, port, err)
	}

	l := &Link{cfg: cfg, baud: baud, conn: c}
	if pc, ok := port.(spi.PortCloser); ok {
		l.closer = pc.Close
	}
	return l, nil
}

func (cfg LinkConfig) validate(clk ClockSource) (physic.Frequency, error) {
	switch cfg.Role {
	case Master:
	case Slave:
		return 0, configErrorf("slave role is not supported by host SPI ports")
	default:
		return 0, configErrorf("role %d", cfg.Role)
	}
	if cfg.Mode < spi.Mode0 || cfg.Mode > spi.Mode3 {
		return 0, configErrorf("mode %d", cfg.Mode)
	}
	if cfg.FrameBits < 4 || cfg.FrameBits > 16 {
		return 0, configErrorf("frame width %d bits, want 4..16", cfg.FrameBits)
	}
	if cfg.RxThreshold > RxFIFO1of2 {
		return 0, configErrorf("rx threshold %d", cfg.RxThreshold)
	}
	if cfg.Interrupt > IntRx {
		return 0, configErrorf("interrupt mode %d", cfg.Interrupt)
	}
	if clk == nil {
		return 0, configErrorf("no peripheral clock")
	}
	if v, ok := clk.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return 0, err
		}
	}
	return divideBaud(clk.PeripheralClock(), cfg.Baud)
}

// divideBaud returns the fastest rate pclk/(CPSDVSR*(1+SCR)) not above want.
func divideBaud(pclk, want physic.Frequency) (physic.Frequency, error) {
	if pclk <= 0 {
		return 0, configErrorf("peripheral clock %s", pclk)
	}
	if want <= 0 {
		return 0, configErrorf("baud %s", want)
	}
	fmax := pclk / minPrescale
	fmin := pclk / (maxPrescale * (maxSCR + 1))
	if want > fmax {
		return 0, configErrorf("baud %s exceeds %s (pclk %s / %d)", want, fmax, pclk, minPrescale)
	}
	if want < fmin {
		return 0, configErrorf("baud %s below %s", want, fmin)
	}

	best := int64(0)
	for cpsr := int64(minPrescale); cpsr <= maxPrescale; cpsr += 2 {
		// smallest 1+SCR with pclk/(cpsr*(1+SCR)) <= want
		div := (int64(pclk) + int64(want)*cpsr - 1) / (int64(want) * cpsr)
		if div < 1 {
			div = 1
		}
		if div > maxSCR+1 {
			continue
		}
		if d := cpsr * div; best == 0 || d < best {
			best = d
		}
	}
	return pclk / physic.Frequency(best), nil
}

// Config returns the configuration the link was created with.
func (l *Link) Config() LinkConfig { return l.cfg }

// Baud returns the achieved bus rate.
func (l *Link) Baud() physic.Frequency { return l.baud }

// MaxTxSize returns the largest single transfer the port accepts, or 0 when
// unlimited or unknown.
func (l *Link) MaxTxSize() int {
	if l.conn == nil {
		return 0
	}
	if lim, ok := l.conn.(conn.Limits); ok {
		return lim.MaxTxSize()
	}
	return 0
}

func (l *Link) unitBytes() int {
	if l.cfg.FrameBits > 8 {
		return 2
	}
	return 1
}

// Transfer performs a blocking full-duplex exchange of n frame units. A nil tx
// clocks out zeros; a nil rx discards what is received.
func (l *Link) Transfer(tx, rx []byte, n int) error {
	if l == nil || l.conn == nil {
		return fmt.Errorf("%w: link not configured", ErrTransport)
	}
	if n <= 0 {
		return fmt.Errorf("%w: transfer length %d", ErrTransport, n)
	}
	nb := n * l.unitBytes()
	if tx != nil && len(tx) < nb {
		return fmt.Errorf("%w: tx buffer %d bytes, want %d", ErrTransport, len(tx), nb)
	}
	if rx != nil && len(rx) < nb {
		return fmt.Errorf("%w: rx buffer %d bytes, want %d", ErrTransport, len(rx), nb)
	}

	w := tx
	if w == nil {
		w = make([]byte, nb)
	}
	r := rx
	if r == nil {
		r = make([]byte, nb)
	}
	if err := l.conn.Tx(w[:nb], r[:nb]); err != nil {
		return transportError(err)
	}
	return nil
}

// Close releases the port. Transfers after Close fail.
func (l *Link) Close() error {
	l.conn = nil
	if l.closer == nil {
		return nil
	}
	closer := l.closer
	l.closer = nil
	return closer()
}

func (l *Link) String() string {
	if l.conn == nil {
		return "spinor.Link(closed)"
	}
	return fmt.Sprintf("%s@%s", l.conn, l.baud)
}
