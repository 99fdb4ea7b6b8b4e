package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gentam/spinor"
)

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "print the status registers, optionally writing status register 1 first",
	Flags: []cli.Flag{
		&cli.UintFlag{
			Name:    "w",
			Aliases: []string{"write"},
			Usage:   "`VALUE` to write to status register 1",
		},
	},
	Action: withDevice(status),
}

func status(c *cli.Context, d *spinor.Device, log *zap.Logger) error {
	if c.IsSet("w") {
		v := c.Uint("w")
		if v > 0xFF {
			return cli.Exit(fmt.Sprintf("status value %#x does not fit in a byte", v), 2)
		}
		if err := d.Flash.WriteStatus(byte(v)); err != nil {
			return fmt.Errorf("write status register failed: %w", err)
		}
		log.Info("status register written", zap.Stringer("value", spinor.StatusRegister(v)))
	}
	return printStatus(c.App.Writer, d.Flash)
}
