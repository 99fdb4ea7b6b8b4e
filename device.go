package spinor

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// DeviceConfig selects the host SPI port and pins a flash is wired to.
type DeviceConfig struct {
	// Port is the spireg name, e.g. "SPI0.0" or "/dev/spidev0.0". Empty opens
	// the first registered port. Ignored when FTDI is set.
	Port string
	// CS is the gpioreg name of the chip select line. Empty leaves chip select
	// to the port; every flash command is then sent as a single Tx.
	CS string
	// WP is the gpioreg name of the /WP line, optional.
	WP string
	// FTDI uses the first FT2232H found, with ADBUS4 as chip select.
	FTDI bool

	Link LinkConfig
	// Clock is the reference the baud divisor is computed from.
	// Defaults to 60MHz, the MPSSE base clock.
	Clock ClockSource

	// SystemInit replaces the default host driver initialization. It runs on
	// every NewDevice; the default host.Init runs once per process.
	SystemInit func() error

	Logger *zap.Logger
	Flash  []Option
}

// Device is a flash attached to a host SPI port.
type Device struct {
	FTDI  *ftdi.FT232H
	Link  *Link
	Flash *Flash

	cs gpio.PinIO // nil when the port drives chip select
	wp gpio.PinIO
}

const mpsseClock = 60 * physic.MegaHertz // [FTDI-AN_135|3.2.1 Divisors]

var hostInitialized atomic.Bool

func hostInit() error {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			hostInitialized.Store(false)
			return err
		}
	}
	return nil
}

// NewDevice initializes the host, opens the SPI port and configures the flash.
func NewDevice(cfg DeviceConfig) (*Device, error) {
	initFn := cfg.SystemInit
	if initFn == nil {
		initFn = hostInit
	}
	if err := initFn(); err != nil {
		return nil, fmt.Errorf("host initialization failed: %w", err)
	}
	if cfg.Link == (LinkConfig{}) {
		cfg.Link = DefaultLinkConfig
	}
	if cfg.Clock == nil {
		cfg.Clock = Fixed(mpsseClock)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	d := &Device{}
	var port spi.PortCloser
	if cfg.FTDI {
		ft, err := findFT2232H(ftdi.All())
		if err != nil {
			return nil, err
		}
		d.FTDI = ft
		p, err := d.FTDI.SPI()
		if err != nil {
			return nil, fmt.Errorf("failed to get SPI port: %w", err)
		}
		port = p
		// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)]
		// ADBUS0 | SCK
		// ADBUS1 | MOSI
		// ADBUS2 | MISO
		// ADBUS4 | /CS
		d.cs = d.FTDI.D4
	} else {
		p, err := spireg.Open(cfg.Port)
		if err != nil {
			return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.Port, err)
		}
		port = p
		if cfg.CS != "" {
			if d.cs = gpioreg.ByName(cfg.CS); d.cs == nil {
				return nil, multierr.Append(fmt.Errorf("chip select pin %q not found", cfg.CS), port.Close())
			}
		}
	}
	if cfg.WP != "" {
		if d.wp = gpioreg.ByName(cfg.WP); d.wp == nil {
			return nil, multierr.Append(fmt.Errorf("write protect pin %q not found", cfg.WP), port.Close())
		}
	}

	var err error
	d.Link, err = Configure(port, cfg.Clock, cfg.Link)
	if err != nil {
		return nil, multierr.Append(err, port.Close())
	}

	var cs ChipSelect
	if d.cs != nil {
		if err := d.cs.Out(gpio.High); err != nil {
			return nil, multierr.Append(err, d.Link.Close())
		}
		cs = NewChipSelect(d.cs)
	}
	opts := append([]Option{WithLogger(log)}, cfg.Flash...)
	d.Flash, err = NewFlash(d.Link, cs, opts...)
	if err != nil {
		return nil, multierr.Append(err, d.Link.Close())
	}
	log.Info("spi link configured", zap.Stringer("link", d.Link))
	return d, nil
}

// SetWriteProtect drives /WP low (protected) or high.
func (d *Device) SetWriteProtect(protect bool) error {
	if d.wp == nil {
		return errors.New("no write protect pin configured")
	}
	return d.wp.Out(!gpio.Level(protect))
}

func (d *Device) Close() error {
	return d.Link.Close()
}

// FT2232H USB ids.
const (
	ftdiVendorID    = 0x0403
	ft2232hDeviceID = 0x6010
)

// findFT2232H returns the first FT2232H in devs. Its channel A is the MPSSE
// the flash hangs off.
func findFT2232H(devs []ftdi.Dev) (*ftdi.FT232H, error) {
	var seen []string
	for _, dev := range devs {
		var info ftdi.Info
		dev.Info(&info)
		if ft, ok := dev.(*ftdi.FT232H); ok && info.VenID == ftdiVendorID && info.DevID == ft2232hDeviceID {
			return ft, nil
		}
		seen = append(seen, fmt.Sprintf("%s %04x:%04x", info.Type, info.VenID, info.DevID))
	}
	if len(seen) == 0 {
		return nil, errors.New("no FTDI device found")
	}
	return nil, fmt.Errorf("FT2232H not found, have %s", strings.Join(seen, ", "))
}
