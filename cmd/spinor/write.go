package main

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gentam/spinor"
)

var writeCommand = &cli.Command{
	Name:  "write",
	Usage: "program a file into flash memory",
	Flags: []cli.Flag{
		addrFlag,
		&cli.StringFlag{
			Name:  "f",
			Usage: "input `FILE`",
		},
		&cli.BoolFlag{
			Name:  "e",
			Usage: "erase the sectors the file covers first",
		},
	},
	Action: withDevice(write),
}

func write(c *cli.Context, d *spinor.Device, log *zap.Logger) error {
	filename := c.String("f")
	if filename == "" {
		return cli.Exit("input file is required", 2)
	}
	input, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer input.Close()

	addr := uint32(c.Uint("a"))
	if c.Bool("e") {
		fi, err := input.Stat()
		if err != nil {
			return err
		}
		if err := d.Flash.Erase(addr, int(fi.Size())); err != nil {
			return fmt.Errorf("erase flash failed: %w", err)
		}
	}

	n, err := d.Flash.WriteFrom(addr, input)
	if err != nil {
		return fmt.Errorf("write flash failed after %d bytes: %w", n, err)
	}
	log.Info("wrote", zap.String("file", filename), zap.String("size", units.BytesSize(float64(n))))
	return nil
}

var eraseCommand = &cli.Command{
	Name:  "erase",
	Usage: "erase sectors, or the whole chip",
	Flags: []cli.Flag{
		addrFlag,
		&cli.StringFlag{
			Name:  "n",
			Value: "4k",
			Usage: "number of bytes, rounded up to whole sectors",
		},
		&cli.BoolFlag{
			Name:  "chip",
			Usage: "bulk erase the entire flash",
		},
	},
	Action: withDevice(erase),
}

func erase(c *cli.Context, d *spinor.Device, log *zap.Logger) error {
	if c.Bool("chip") {
		if err := d.Flash.EraseChip(); err != nil {
			return fmt.Errorf("bulk erase flash failed: %w", err)
		}
		log.Info("chip erased")
		return nil
	}

	addr := uint32(c.Uint("a"))
	n, err := parseSize(c.String("n"))
	if err != nil {
		return err
	}
	if err := d.Flash.Erase(addr, n); err != nil {
		return fmt.Errorf("erase flash failed: %w", err)
	}
	log.Info("erased", zap.String("addr", fmt.Sprintf("%#06x", addr)), zap.String("size", units.BytesSize(float64(n))))
	return nil
}
