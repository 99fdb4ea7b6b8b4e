package spinor

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// LinkState tracks the write-enable/busy cycle of the chip on one link.
//
//	Idle --WREN--> Armed --program/erase/WRSR--> Busy --status poll--> Idle
type LinkState uint8

const (
	Idle LinkState = iota
	Armed
	Busy
)

func (s LinkState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Busy:
		return "busy"
	}
	return fmt.Sprintf("LinkState(%d)", s)
}

// Flash drives a SPI NOR flash. All methods are safe for concurrent use; the
// link carries one command at a time.
type Flash struct {
	mu    sync.Mutex
	link  *Link
	cs    ChipSelect
	state LinkState

	geom      Geometry
	geomFixed bool
	wait      *WaitPolicy
	clk       clock.Clock
	log       *zap.Logger

	id [3]byte // JEDEC ID of the flash chip
	pr *flashParams
}

type Option func(*Flash)

func WithLogger(l *zap.Logger) Option { return func(f *Flash) { f.log = l } }

// WithClock replaces the clock used for busy-wait timeouts and AC delays.
// Sleeps on a mock clock block until it is advanced, so a test using a wait
// policy with a non-zero Interval must advance it from another goroutine.
func WithClock(c clock.Clock) Option { return func(f *Flash) { f.clk = c } }

// WithWaitPolicy uses p for every busy-wait instead of the chip timings.
func WithWaitPolicy(p WaitPolicy) Option { return func(f *Flash) { f.wait = &p } }

// WithGeometry fixes the chip layout. Without it the layout is W25Q16 until
// ReadJEDECID identifies a known chip.
func WithGeometry(g Geometry) Option {
	return func(f *Flash) {
		f.geom = g
		f.geomFixed = true
	}
}

// NewFlash returns a Flash on link with cs as chip select. The link must use
// 8-bit frames.
func NewFlash(link *Link, cs ChipSelect, opts ...Option) (*Flash, error) {
	if link == nil {
		return nil, fmt.Errorf("%w: link not configured", ErrTransport)
	}
	if bits := link.Config().FrameBits; bits != 8 {
		return nil, configErrorf("flash needs 8-bit frames, link has %d", bits)
	}
	f := &Flash{
		link: link,
		cs:   cs,
		geom: W25Q16,
		clk:  clock.New(),
		log:  zap.NewNop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Flash commands:
//   - [W25Q16|8.1.2 Instruction Set Table 1]
//   - [N25Q32|Table 16: Command Set]
const (
	flashCmdWriteEnable        = 0x06 // WREN
	flashCmdWriteDisable       = 0x04 // WRDI
	flashCmdReadStatusRegister = 0x05 // RDSR0, status register 1
	flashCmdReadStatus2        = 0x35 // RDSR1, status register 2
	flashCmdWriteStatus        = 0x01 // WRSR
	flashCmdRead               = 0x03
	flashCmdFastRead           = 0x0B
	flashCmdPageProgram        = 0x02
	flashCmdQuadPageProgram    = 0x32 // FPGPRO; needs quad I/O, not issued
	flashCmdErase4KB           = 0x20 // Sector Erase (4KB)
	flashCmdErase64KB          = 0xD8 // Block Erase (64KB)
	flashCmdErase32KB          = 0x52 // Block Erase (32KB)
	flashCmdEraseChip          = 0xC7
	flashCmdReadDeviceID       = 0x90 // Manufacturer/Device ID
	flashCmdReadID             = 0x9F // JEDEC ID
	flashCmdPowerUp            = 0xAB // Release Power Down
	flashCmdPowerDown          = 0xB9
)

// command frames one flash operation: opcode, optional 24-bit address sent
// big endian, then dummy bytes.
type command struct {
	op      byte
	addr    uint32
	hasAddr bool
	dummy   int
}

func (c command) header() []byte {
	b := make([]byte, 0, 4+c.dummy)
	b = append(b, c.op)
	if c.hasAddr {
		b = append(b, byte(c.addr>>16), byte(c.addr>>8), byte(c.addr))
	}
	return append(b, make([]byte, c.dummy)...)
}

// run sends c, then w, then reads into r, all under one chip select.
func (f *Flash) run(c command, w, r []byte) error {
	f.logCommand(c, w, r)
	if f.cs.pin == nil {
		return f.runPortCS(c, w, r)
	}

	hdr := c.header()
	return f.cs.Do(func() error {
		if err := f.link.Transfer(hdr, nil, len(hdr)); err != nil {
			return err
		}
		if err := f.chunked(w, func(p []byte) error { return f.link.Transfer(p, nil, len(p)) }); err != nil {
			return err
		}
		return f.chunked(r, func(p []byte) error { return f.link.Transfer(nil, p, len(p)) })
	})
}

// runPortCS is run for ports that drive chip select themselves and release it
// after every Tx: each command goes out as a single Tx. Long reads become
// several READ commands at advancing addresses.
func (f *Flash) runPortCS(c command, w, r []byte) error {
	maxTx := f.link.MaxTxSize()
	if maxTx <= 0 || !c.hasAddr || len(w) > 0 {
		return f.txOnce(c, w, r)
	}
	step := maxTx - len(c.header())
	if step <= 0 {
		return fmt.Errorf("%w: port transfer limit of %d bytes is too small", ErrTransport, maxTx)
	}
	for len(r) > 0 {
		n := min(len(r), step)
		if err := f.txOnce(c, nil, r[:n]); err != nil {
			return err
		}
		c.addr += uint32(n)
		r = r[n:]
	}
	return nil
}

// txOnce clocks header, w and len(r) filler bytes in one full-duplex Tx and
// copies the tail into r.
func (f *Flash) txOnce(c command, w, r []byte) error {
	buf := append(c.header(), w...)
	off := len(buf)
	buf = append(buf, make([]byte, len(r))...)
	if maxTx := f.link.MaxTxSize(); maxTx > 0 && len(buf) > maxTx {
		return fmt.Errorf("%w: %d byte command exceeds the port's %d byte transfer limit", ErrTransport, len(buf), maxTx)
	}
	if err := f.link.Transfer(buf, buf, len(buf)); err != nil {
		return err
	}
	copy(r, buf[off:])
	return nil
}

func (f *Flash) logCommand(c command, w, r []byte) {
	if ce := f.log.Check(zap.DebugLevel, "flash command"); ce != nil {
		fields := []zap.Field{zap.String("op", fmt.Sprintf("0x%02X", c.op))}
		if c.hasAddr {
			fields = append(fields, zap.String("addr", fmt.Sprintf("0x%06X", c.addr)))
		}
		if len(w) > 0 {
			fields = append(fields, zap.Int("tx", len(w)))
		}
		if len(r) > 0 {
			fields = append(fields, zap.Int("rx", len(r)))
		}
		ce.Write(fields...)
	}
}

// chunked splits p to stay within the link's maximum transfer size.
func (f *Flash) chunked(p []byte, fn func([]byte) error) error {
	maxTx := f.link.MaxTxSize()
	for len(p) > 0 {
		n := len(p)
		if maxTx > 0 {
			n = min(n, maxTx)
		}
		if err := fn(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// State returns where the link is in the write-enable/busy cycle.
func (f *Flash) State() LinkState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Geometry returns the chip layout in use.
func (f *Flash) Geometry() Geometry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.geom
}

func (f *Flash) PowerUp() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.run(command{op: flashCmdPowerUp}, nil, nil); err != nil {
		return err
	}
	f.clk.Sleep(f.timing(flashCmdPowerUp))
	return nil
}

func (f *Flash) PowerDown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.settle(); err != nil {
		return err
	}
	if err := f.run(command{op: flashCmdPowerDown}, nil, nil); err != nil {
		return err
	}
	f.clk.Sleep(f.timing(flashCmdPowerDown))
	return nil
}

// ReadID returns the manufacturer/device id (0x90) as manufacturer<<8 | device.
func (f *Flash) ReadID() (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readID()
}

func (f *Flash) readID() (uint16, error) {
	if err := f.settle(); err != nil {
		return 0, err
	}
	buf := make([]byte, 2)
	if err := f.run(command{op: flashCmdReadDeviceID, hasAddr: true}, nil, buf); err != nil {
		return 0, err
	}
	id := uint16(buf[0])<<8 | uint16(buf[1])
	if f.pr == nil {
		if params, ok := lookupDeviceID(id); ok {
			f.configure(params)
		}
	}
	return id, nil
}

// ExpectID reads the manufacturer/device id and compares it with want.
func (f *Flash) ExpectID(want uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	got, err := f.readID()
	if err != nil {
		return err
	}
	if got != want {
		return &UnexpectedIDError{Want: want, Got: got}
	}
	return nil
}

// ReadJEDECID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadJEDECID() (id [3]byte, name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err = f.settle(); err != nil {
		return
	}
	buf := make([]byte, 3)
	if err = f.run(command{op: flashCmdReadID}, nil, buf); err != nil {
		return
	}

	f.id = [3]byte(buf)
	if params, ok := knownFlash[f.id]; ok {
		f.configure(params)
		name = params.name
	}
	return f.id, name, nil
}

func (f *Flash) configure(params flashParams) {
	f.pr = &params
	if !f.geomFixed && params.capacity > 0 {
		f.geom = Geometry{Capacity: params.capacity}
	}
	f.log.Debug("flash identified", zap.String("name", params.name), zap.Int("capacity", params.capacity))
}

// ReadStatus returns status register 1. It is the first byte clocked in after
// the opcode.
func (f *Flash) ReadStatus() (StatusRegister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readStatus()
}

func (f *Flash) readStatus() (StatusRegister, error) {
	buf := []byte{flashCmdReadStatusRegister, 0}
	if err := f.cs.Do(func() error {
		return f.link.Transfer(buf, buf, len(buf))
	}); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

// ReadStatus1 returns status register 2.
func (f *Flash) ReadStatus1() (StatusRegister1, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := []byte{flashCmdReadStatus2, 0}
	if err := f.cs.Do(func() error {
		return f.link.Transfer(buf, buf, len(buf))
	}); err != nil {
		return 0, err
	}
	return StatusRegister1(buf[1]), nil
}

// WaitIdle polls the status register until the chip is idle, bounded by the
// configured wait policy or the chip's longest cycle time.
func (f *Flash) WaitIdle() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitIdle("wait idle", f.policy(time.Millisecond, f.timing(flashCmdEraseChip)))
}

// WaitIdleWith polls with an explicit bound for this call.
func (f *Flash) WaitIdleWith(p WaitPolicy) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitIdle("wait idle", p)
}

func (f *Flash) WriteEnable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.settle(); err != nil {
		return err
	}
	return f.writeEnable()
}

func (f *Flash) writeEnable() error {
	if err := f.run(command{op: flashCmdWriteEnable}, nil, nil); err != nil {
		return err
	}
	f.state = Armed
	return nil
}

func (f *Flash) WriteDisable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.settle(); err != nil {
		return err
	}
	if err := f.run(command{op: flashCmdWriteDisable}, nil, nil); err != nil {
		return err
	}
	f.state = Idle
	return nil
}

// mutate runs the write-enable, command, wait sequence shared by program,
// erase and status writes.
func (f *Flash) mutate(op string, c command, data []byte, p WaitPolicy) error {
	if err := f.settle(); err != nil {
		return err
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	if err := f.run(c, data, nil); err != nil {
		return err
	}
	f.state = Busy
	return f.waitIdle(op, p)
}

// WriteStatus writes status register 1 (SRP0, SEC, TB, BP2-0).
func (f *Flash) WriteStatus(value byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate("write status", command{op: flashCmdWriteStatus}, []byte{value},
		f.policy(time.Millisecond, f.timing(flashCmdWriteStatus)))
}

// EraseChip erases the entire chip.
func (f *Flash) EraseChip() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate("chip erase", command{op: flashCmdEraseChip}, nil,
		f.policy(time.Second, f.timing(flashCmdEraseChip)))
}

// EraseSector erases the 4KB sector containing addr.
func (f *Flash) EraseSector(addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eraseSector(addr)
}

func (f *Flash) eraseSector(addr uint32) error {
	addr = SectorBase(addr)
	if err := f.geom.checkRange(addr, SectorSize); err != nil {
		return err
	}
	return f.mutate("sector erase", command{op: flashCmdErase4KB, addr: addr, hasAddr: true}, nil,
		f.policy(50*time.Millisecond, f.timing(flashCmdErase4KB)))
}

// EraseBlock32K erases the 32KB half block containing addr.
func (f *Flash) EraseBlock32K(addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr = Block32Base(addr)
	if err := f.geom.checkRange(addr, Block32Size); err != nil {
		return err
	}
	return f.mutate("block erase 32K", command{op: flashCmdErase32KB, addr: addr, hasAddr: true}, nil,
		f.policy(100*time.Millisecond, f.timing(flashCmdErase32KB)))
}

// EraseBlock erases the 64KB block containing addr.
func (f *Flash) EraseBlock(addr uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eraseBlock(addr)
}

func (f *Flash) eraseBlock(addr uint32) error {
	addr = BlockBase(addr)
	if err := f.geom.checkRange(addr, BlockSize); err != nil {
		return err
	}
	return f.mutate("block erase", command{op: flashCmdErase64KB, addr: addr, hasAddr: true}, nil,
		f.policy(100*time.Millisecond, f.timing(flashCmdErase64KB)))
}

// Erase erases size bytes starting at the sector aligned baseAddr with 64KB
// blocks where aligned and 4KB sectors for the rest. size is rounded up to a
// whole sector.
func (f *Flash) Erase(baseAddr uint32, size int) error {
	if baseAddr%SectorSize != 0 {
		return fmt.Errorf("%w: 0x%06X is not sector aligned", ErrAddressRange, baseAddr)
	}
	if size <= 0 {
		return nil
	}
	size = (size + SectorSize - 1) / SectorSize * SectorSize

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.geom.checkRange(baseAddr, size); err != nil {
		return err
	}

	addr := baseAddr
	for remaining := size; remaining > 0; {
		if addr%BlockSize == 0 && remaining >= BlockSize {
			if err := f.eraseBlock(addr); err != nil {
				return err
			}
			addr += BlockSize
			remaining -= BlockSize
			continue
		}
		if err := f.eraseSector(addr); err != nil {
			return err
		}
		addr += SectorSize
		remaining -= SectorSize
	}
	return nil
}

// ReadBytes reads n bytes starting at addr.
func (f *Flash) ReadBytes(addr uint32, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrAddressRange, n)
	}
	out := make([]byte, n)
	if err := f.ReadInto(addr, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadInto fills p from addr with the READ command. Reads are not bounded by
// pages; the chip advances through the whole array.
func (f *Flash) ReadInto(addr uint32, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(command{op: flashCmdRead, addr: addr, hasAddr: true}, p)
}

// FastRead fills p from addr with FAST READ (one dummy byte after the address).
func (f *Flash) FastRead(addr uint32, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read(command{op: flashCmdFastRead, addr: addr, hasAddr: true, dummy: 1}, p)
}

func (f *Flash) read(c command, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := f.geom.checkRange(c.addr, len(p)); err != nil {
		return err
	}
	if err := f.settle(); err != nil {
		return err
	}
	return f.run(c, nil, p)
}

// ReadAt implements io.ReaderAt over the chip.
func (f *Flash) ReadAt(p []byte, off int64) (int, error) {
	capacity := int64(f.Geometry().Capacity)
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrAddressRange, off)
	}
	if off >= capacity {
		return 0, io.EOF
	}
	n := len(p)
	if rem := capacity - off; int64(n) > rem {
		n = int(rem)
	}
	if err := f.ReadInto(uint32(off), p[:n]); err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteBytes programs data into a single page starting at addr. data must not
// be longer than a page nor cross a page boundary; the chip would wrap to the
// start of the page.
func (f *Flash) WriteBytes(addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageProgram(addr, data)
}

// addr: 24 bit
// data: max 256 bytes, within one page
func (f *Flash) pageProgram(addr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > PageSize {
		return fmt.Errorf("%w: %d bytes", ErrPageOverflow, len(data))
	}
	if PageOffset(addr)+len(data) > PageSize {
		return fmt.Errorf("%w: %d bytes at 0x%06X cross the page end", ErrPageOverflow, len(data), addr)
	}
	if err := f.geom.checkRange(addr, len(data)); err != nil {
		return err
	}
	return f.mutate("page program", command{op: flashCmdPageProgram, addr: addr, hasAddr: true}, data,
		f.policy(100*time.Microsecond, f.timing(flashCmdPageProgram)))
}

// Write programs data starting at addr, split at page boundaries. The target
// range must already be erased.
func (f *Flash) Write(addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.geom.checkRange(addr, len(data)); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), PageSize-PageOffset(addr))
		if err := f.pageProgram(addr, data[:n]); err != nil {
			return err
		}
		addr += uint32(n)
		data = data[n:]
	}
	return nil
}

// WriteFrom programs everything read from r starting at addr and returns the
// number of bytes written.
func (f *Flash) WriteFrom(addr uint32, r io.Reader) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := [PageSize]byte{}
	written := 0
	for {
		n, err := io.ReadFull(r, buf[:PageSize-PageOffset(addr)])
		if n > 0 {
			if perr := f.pageProgram(addr, buf[:n]); perr != nil {
				return written, perr
			}
			addr += uint32(n)
			written += n
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
	}
}
