package main

import (
	"fmt"
	"io"

	"github.com/docker/go-units"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/spinor"
)

var infoCommand = &cli.Command{
	Name:   "info",
	Usage:  "print the flash ids, capacity and status registers",
	Action: withDevice(info),
}

func info(c *cli.Context, d *spinor.Device, _ *zap.Logger) error {
	w := c.App.Writer
	if d.FTDI != nil {
		if err := ftdiInfo(w, d.FTDI); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "Link:            %s\n", d.Link)

	jedec, name, err := d.Flash.ReadJEDECID()
	if err != nil {
		return fmt.Errorf("read JEDEC id failed: %w", err)
	}
	if name == "" {
		name = "unknown"
	}
	fmt.Fprintf(w, "JEDEC ID:        %X\t%s\n", jedec, name)

	id, err := d.Flash.ReadID()
	if err != nil {
		return fmt.Errorf("read device id failed: %w", err)
	}
	fmt.Fprintf(w, "Device ID:       %#04x\n", id)

	g := d.Flash.Geometry()
	fmt.Fprintf(w, "Capacity:        %s (%d blocks, %d sectors, %d pages)\n",
		units.BytesSize(float64(g.Capacity)), g.Blocks(), g.Sectors(), g.Pages())

	return printStatus(w, d.Flash)
}

func printStatus(w io.Writer, f *spinor.Flash) error {
	sr, err := f.ReadStatus()
	if err != nil {
		return fmt.Errorf("read status register failed: %w", err)
	}
	sr1, err := f.ReadStatus1()
	if err != nil {
		return fmt.Errorf("read status register 2 failed: %w", err)
	}
	fmt.Fprintf(w, "Status 1:        %s\n", sr)
	fmt.Fprintf(w, "Status 2:        %s\n", sr1)
	return nil
}

// ftdiInfo prints the adapter, as periph's ftdi-list does.
func ftdiInfo(w io.Writer, ft *ftdi.FT232H) error {
	i := ftdi.Info{}
	ft.Info(&i)
	fmt.Fprintf(w, "Type:            %s\n", i.Type)
	fmt.Fprintf(w, "Vendor ID:       %#04x\n", i.VenID)
	fmt.Fprintf(w, "Device ID:       %#04x\n", i.DevID)

	ee := ftdi.EEPROM{}
	if err := ft.EEPROM(&ee); err != nil {
		return fmt.Errorf("failed to read EEPROM: %w", err)
	}
	fmt.Fprintf(w, "Manufacturer:    %s\n", ee.Manufacturer)
	fmt.Fprintf(w, "Desc:            %s\n", ee.Desc)
	fmt.Fprintf(w, "Serial:          %s\n", ee.Serial)
	return nil
}
