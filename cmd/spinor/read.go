package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gentam/spinor"
)

var (
	addrFlag = &cli.UintFlag{
		Name:  "a",
		Usage: "start `ADDRESS`",
	}
	sizeFlag = &cli.StringFlag{
		Name:  "n",
		Value: "256",
		Usage: "number of bytes, e.g. 4096, 4k or 64KiB",
	}
)

var readCommand = &cli.Command{
	Name:  "read",
	Usage: "read flash memory",
	Flags: []cli.Flag{
		addrFlag,
		sizeFlag,
		&cli.StringFlag{
			Name:  "o",
			Usage: "output `FILE` (default: hexdump)",
		},
		&cli.BoolFlag{
			Name:  "fast",
			Usage: "use Fast Read (0x0B)",
		},
	},
	Action: withDevice(read),
}

// parseSize accepts plain byte counts and binary size suffixes.
func parseSize(s string) (int, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, cli.Exit(fmt.Sprintf("invalid size %q: %v", s, err), 2)
	}
	if n < 0 {
		return 0, cli.Exit(fmt.Sprintf("invalid size %q", s), 2)
	}
	return int(n), nil
}

func read(c *cli.Context, d *spinor.Device, log *zap.Logger) error {
	addr := uint32(c.Uint("a"))
	n, err := parseSize(c.String("n"))
	if err != nil {
		return err
	}

	if capacity := d.Flash.Geometry().Capacity; n > capacity {
		return cli.Exit(fmt.Sprintf("%d bytes exceed the %s flash", n, units.BytesSize(float64(capacity))), 2)
	}

	data := make([]byte, n)
	if c.Bool("fast") {
		err = d.Flash.FastRead(addr, data)
	} else {
		err = d.Flash.ReadInto(addr, data)
	}
	if err != nil {
		return fmt.Errorf("read flash failed: %w", err)
	}

	outFile := c.String("o")
	if outFile == "" {
		fmt.Fprint(c.App.Writer, hex.Dump(data))
		return nil
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		return fmt.Errorf("write file failed: %w", err)
	}
	log.Info("read", zap.String("file", outFile), zap.String("size", units.BytesSize(float64(n))))
	return nil
}
