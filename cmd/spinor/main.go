// Command spinor reads, writes and erases a W25Q-series SPI NOR flash through
// a host SPI port or an FT2232H.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/gentam/spinor"
	"github.com/gentam/spinor/flashtest"
)

const (
	flagPort     = "port"
	flagCS       = "cs"
	flagWP       = "wp"
	flagFTDI     = "ftdi"
	flagHz       = "hz"
	flagMode     = "mode"
	flagExpectID = "expect-id"
	flagTimeout  = "timeout"
	flagSim      = "sim"
	flagDebug    = "debug"

	simPort = "FLASHTEST"
	simCS   = "FLASHTEST_CS"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fatalf("%v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "spinor",
		Usage: "access a W25Q-series SPI NOR flash",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagPort,
				Usage:   "spireg name of the SPI port (default: first registered)",
				EnvVars: []string{"SPINOR_PORT"},
			},
			&cli.StringFlag{
				Name:    flagCS,
				Usage:   "gpioreg name of the chip select pin (default: driven by the port)",
				EnvVars: []string{"SPINOR_CS"},
			},
			&cli.StringFlag{
				Name:    flagWP,
				Usage:   "gpioreg name of the /WP pin",
				EnvVars: []string{"SPINOR_WP"},
			},
			&cli.BoolFlag{
				Name:    flagFTDI,
				Usage:   "use the first FT2232H, ADBUS4 as chip select",
				EnvVars: []string{"SPINOR_FTDI"},
			},
			&cli.StringFlag{
				Name:    flagHz,
				Value:   "12MHz",
				Usage:   "requested SCK `FREQUENCY`; the nearest achievable rate below it is used",
				EnvVars: []string{"SPINOR_HZ"},
			},
			&cli.IntFlag{
				Name:    flagMode,
				Usage:   "SPI mode 0-3",
				EnvVars: []string{"SPINOR_MODE"},
			},
			&cli.UintFlag{
				Name:        flagExpectID,
				Value:       0xEF14,
				DefaultText: "0xEF14",
				Usage:       "manufacturer/device id the demo expects",
				EnvVars:     []string{"SPINOR_EXPECT_ID"},
			},
			&cli.DurationFlag{
				Name:    flagTimeout,
				Usage:   "bound on every busy wait (default: the chip's maximum cycle time)",
				EnvVars: []string{"SPINOR_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:    flagSim,
				Usage:   "run against a simulated W25Q16; any --cs selects its chip select pin",
				EnvVars: []string{"SPINOR_SIM"},
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Usage:   "log every flash command",
				EnvVars: []string{"SPINOR_DEBUG"},
			},
		},
		Commands: []*cli.Command{
			infoCommand,
			statusCommand,
			readCommand,
			writeCommand,
			eraseCommand,
			demoCommand,
		},
	}
}

func newLogger(c *cli.Context) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if c.Bool(flagDebug) {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// simChip is registered once per process so repeated commands see the same
// memory.
var simChip = sync.OnceValues(func() (*flashtest.Chip, error) {
	chip := flashtest.NewW25Q16()
	chip.BusyPolls = 2
	if err := spireg.Register(simPort, nil, -1, chip.Opener()); err != nil {
		return nil, err
	}
	if err := gpioreg.Register(flashtest.NewPin(simCS, chip)); err != nil {
		return nil, err
	}
	return chip, nil
})

// openDevice builds a Device from the global flags and wakes the flash.
func openDevice(c *cli.Context) (*spinor.Device, *zap.Logger, error) {
	log, err := newLogger(c)
	if err != nil {
		return nil, nil, err
	}

	var hz physic.Frequency
	if err := hz.Set(c.String(flagHz)); err != nil {
		return nil, nil, fmt.Errorf("invalid --%s: %w", flagHz, err)
	}
	link := spinor.DefaultLinkConfig
	link.Baud = hz
	link.Mode = spi.Mode(c.Int(flagMode))

	cfg := spinor.DeviceConfig{
		Port:   c.String(flagPort),
		CS:     c.String(flagCS),
		WP:     c.String(flagWP),
		FTDI:   c.Bool(flagFTDI),
		Link:   link,
		Logger: log,
	}
	if d := c.Duration(flagTimeout); d > 0 {
		cfg.Flash = append(cfg.Flash, spinor.WithWaitPolicy(spinor.WaitPolicy{Interval: time.Millisecond, Timeout: d}))
	}
	if c.Bool(flagSim) {
		if _, err := simChip(); err != nil {
			return nil, nil, fmt.Errorf("simulated flash: %w", err)
		}
		// chip select stays with the port unless --cs asks for a pin
		if cfg.CS != "" {
			cfg.CS = simCS
		}
		cfg.Port, cfg.WP, cfg.FTDI = simPort, "", false
		cfg.SystemInit = func() error { return nil }
	}
	cfg.Link.NoCS = cfg.CS != ""

	d, err := spinor.NewDevice(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Flash.PowerUp(); err != nil {
		return nil, nil, multierr.Append(fmt.Errorf("flash power up failed: %w", err), d.Close())
	}
	return d, log, nil
}

// closeDevice puts the flash back into power-down and releases the port.
func closeDevice(d *spinor.Device, log *zap.Logger) error {
	err := multierr.Combine(d.Flash.PowerDown(), d.Close())
	_ = log.Sync()
	return err
}

// withDevice runs fn with an open device and closes it afterwards.
func withDevice(fn func(c *cli.Context, d *spinor.Device, log *zap.Logger) error) cli.ActionFunc {
	return func(c *cli.Context) (err error) {
		d, log, err := openDevice(c)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, closeDevice(d, log)) }()
		return fn(c, d, log)
	}
}
