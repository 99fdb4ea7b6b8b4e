// Package flashtest simulates a W25Q-series SPI NOR flash behind periph's
// spi.Port and spi.Conn interfaces, with a chip select pin.
//
// The simulation decodes the command set byte by byte as the host clocks it,
// so multi-phase transfers under one chip select behave as on hardware:
// programming only clears bits, page programs wrap inside the page, and
// program/erase/status writes keep BUSY set for a configurable number of
// status polls.
package flashtest

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
)

const (
	statusBusy = 0x01
	statusWEL  = 0x02

	pageSize = 256
)

// Chip is a simulated flash. Exported fields are read when a transaction
// starts and may be changed between transactions.
type Chip struct {
	// BusyPolls is how many status reads report BUSY after a program, erase
	// or status write.
	BusyPolls int
	// Stuck keeps BUSY set forever once it is set.
	Stuck bool
	// MaxTx limits the bytes of one Tx call; 0 is unlimited.
	MaxTx int
	// TxErr, if set, is returned by every Tx.
	TxErr error
	// OnStatusPoll runs after each status register read, with the chip
	// locked. It must not call back into the Chip.
	OnStatusPoll func()

	mu       sync.Mutex
	mem      []byte
	jedec    [3]byte
	deviceID uint16
	status   byte
	status2  byte

	busyLeft    int
	poweredDown bool
	selected    bool
	frame       []byte

	freq   physic.Frequency
	mode   spi.Mode
	bits   int
	frames [][]byte
	closed bool
}

// NewW25Q16 returns an erased 2MiB W25Q16JV.
func NewW25Q16() *Chip {
	return New(2<<20, [3]byte{0xEF, 0x40, 0x15}, 0xEF14)
}

// New returns an erased chip of size bytes with the given JEDEC and
// manufacturer/device ids.
func New(size int, jedec [3]byte, deviceID uint16) *Chip {
	c := &Chip{
		mem:      make([]byte, size),
		jedec:    jedec,
		deviceID: deviceID,
	}
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	return c
}

func (c *Chip) String() string { return "flashtest" }

// Connect implements spi.Port.
func (c *Chip) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bits != 8 {
		return nil, fmt.Errorf("flashtest: %d bit frames not supported", bits)
	}
	c.freq, c.mode, c.bits = f, mode, bits
	return &simConn{c: c}, nil
}

// LimitSpeed implements spi.Port.
func (c *Chip) LimitSpeed(f physic.Frequency) error { return nil }

// Close implements spi.PortCloser.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Opener returns a spireg.Opener handing out c, reopened if it was closed.
func (c *Chip) Opener() spireg.Opener {
	return func() (spi.PortCloser, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closed = false
		return c, nil
	}
}

// Closed reports whether the port was closed.
func (c *Chip) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connection returns the parameters of the last Connect.
func (c *Chip) Connection() (physic.Frequency, spi.Mode, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freq, c.mode, c.bits
}

// CS returns the chip select pin of the chip.
func (c *Chip) CS() *Pin { return NewPin("FLASHTEST_CS", c) }

// Frames returns the bytes the host sent in each completed transaction.
func (c *Chip) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.frames))
	for i, f := range c.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Ops returns the opcode of each completed transaction.
func (c *Chip) Ops() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]byte, 0, len(c.frames))
	for _, f := range c.frames {
		ops = append(ops, f[0])
	}
	return ops
}

// ResetLog forgets recorded transactions.
func (c *Chip) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// Status returns status register 1.
func (c *Chip) Status() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetBusy sets BUSY as if an internal operation were running for polls
// status reads.
func (c *Chip) SetBusy(polls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status |= statusBusy
	c.busyLeft = polls
}

// Mem returns a copy of the memory array between off and off+n.
func (c *Chip) Mem(off, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem[off:off+n]...)
}

// Pin is a gpio.PinIO driving the chip select of a Chip. Everything but Out
// comes from gpiotest.Pin, so it can be registered with gpioreg.
type Pin struct {
	gpiotest.Pin
	c *Chip
}

// NewPin returns a chip select pin for c named name.
func NewPin(name string, c *Chip) *Pin {
	return &Pin{Pin: gpiotest.Pin{N: name, Num: -1, L: gpio.High}, c: c}
}

func (p *Pin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	if l == gpio.Low {
		p.c.begin()
	} else if p.c.selected {
		p.c.end()
	}
	return nil
}

type simConn struct {
	c *Chip
}

func (s *simConn) String() string      { return "flashtest" }
func (s *simConn) Duplex() conn.Duplex { return conn.Full }
func (s *simConn) MaxTxSize() int      { return s.c.MaxTx }

func (s *simConn) Tx(w, r []byte) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("flashtest: port closed")
	}
	if c.TxErr != nil {
		return c.TxErr
	}
	n := max(len(w), len(r))
	if w != nil && r != nil && len(w) != len(r) {
		return fmt.Errorf("flashtest: tx %d bytes, rx %d bytes", len(w), len(r))
	}
	if c.MaxTx > 0 && n > c.MaxTx {
		return fmt.Errorf("flashtest: transfer of %d bytes exceeds %d", n, c.MaxTx)
	}

	// Without chip select every Tx is one transaction.
	own := !c.selected
	if own {
		c.begin()
	}
	for i := 0; i < n; i++ {
		var in byte
		if w != nil {
			in = w[i]
		}
		out := c.clock(in)
		if r != nil {
			r[i] = out
		}
	}
	if own {
		c.end()
	}
	return nil
}

func (s *simConn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := s.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chip) begin() {
	c.selected = true
	c.frame = c.frame[:0]
}

// clock shifts in one byte from the host and returns the byte shifted out.
func (c *Chip) clock(in byte) byte {
	pos := len(c.frame)
	c.frame = append(c.frame, in)
	if pos == 0 || c.poweredDown {
		return 0
	}

	switch c.frame[0] {
	case 0x05:
		return c.status
	case 0x35:
		return c.status2
	}
	if c.status&statusBusy != 0 {
		return 0
	}
	switch c.frame[0] {
	case 0x9F:
		if pos <= 3 {
			return c.jedec[pos-1]
		}
	case 0x90:
		// manufacturer and device id alternate after the address
		if pos >= 4 {
			if (pos-4)%2 == 0 {
				return byte(c.deviceID >> 8)
			}
			return byte(c.deviceID)
		}
	case 0x03:
		if pos >= 4 {
			return c.mem[(c.addr()+pos-4)%len(c.mem)]
		}
	case 0x0B:
		if pos >= 5 {
			return c.mem[(c.addr()+pos-5)%len(c.mem)]
		}
	}
	return 0
}

func (c *Chip) addr() int {
	return int(c.frame[1])<<16 | int(c.frame[2])<<8 | int(c.frame[3])
}

// end completes the transaction when chip select goes high.
func (c *Chip) end() {
	c.selected = false
	if len(c.frame) == 0 {
		return
	}
	frame := append([]byte(nil), c.frame...)
	c.frames = append(c.frames, frame)

	op := frame[0]
	if c.poweredDown {
		if op == 0xAB {
			c.poweredDown = false
		}
		return
	}
	if op == 0x05 {
		c.poll()
		return
	}
	if c.status&statusBusy != 0 {
		return
	}

	wel := c.status&statusWEL != 0
	switch op {
	case 0x06:
		c.status |= statusWEL
	case 0x04:
		c.status &^= statusWEL
	case 0xB9:
		c.poweredDown = true
	case 0x01:
		if wel && len(frame) >= 2 {
			c.status = c.status&(statusBusy|statusWEL) | frame[1]&^(statusBusy|statusWEL)
			c.startBusy()
		}
	case 0x02:
		if wel && len(frame) >= 4 {
			base := c.addr() &^ (pageSize - 1)
			off := c.addr() % pageSize
			for i, b := range frame[4:] {
				a := (base + (off+i)%pageSize) % len(c.mem)
				c.mem[a] &= b
			}
			c.startBusy()
		}
	case 0x20:
		c.erase(frame, 4<<10, wel)
	case 0x52:
		c.erase(frame, 32<<10, wel)
	case 0xD8:
		c.erase(frame, 64<<10, wel)
	case 0xC7, 0x60:
		if wel {
			c.fill(0, len(c.mem))
			c.startBusy()
		}
	}
}

func (c *Chip) erase(frame []byte, size int, wel bool) {
	if !wel || len(frame) < 4 {
		return
	}
	base := (c.addr() &^ (size - 1)) % len(c.mem)
	c.fill(base, size)
	c.startBusy()
}

func (c *Chip) fill(off, n int) {
	for i := off; i < off+n && i < len(c.mem); i++ {
		c.mem[i] = 0xFF
	}
}

func (c *Chip) startBusy() {
	c.status |= statusBusy
	c.busyLeft = c.BusyPolls
	if c.busyLeft == 0 && !c.Stuck {
		c.status &^= statusBusy | statusWEL
	}
}

func (c *Chip) poll() {
	if c.OnStatusPoll != nil {
		c.OnStatusPoll()
	}
	if c.status&statusBusy == 0 || c.Stuck {
		return
	}
	if c.busyLeft > 0 {
		c.busyLeft--
	}
	if c.busyLeft == 0 {
		c.status &^= statusBusy | statusWEL
	}
}
