package main

import (
	"bytes"
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/gentam/spinor"
)

const demoAddr = 0x1000

var demoCommand = &cli.Command{
	Name:   "demo",
	Usage:  "check the id, then erase, program and verify 16 bytes at 0x1000",
	Action: withDevice(demo),
}

// demoPattern is the 16 bytes 26, 25, ..., 11.
func demoPattern() []byte {
	p := make([]byte, 16)
	for i := range p {
		p[i] = byte(26 - i)
	}
	return p
}

func demo(c *cli.Context, d *spinor.Device, log *zap.Logger) error {
	w := c.App.Writer
	f := d.Flash

	want := c.Uint(flagExpectID)
	if want > 0xFFFF {
		return cli.Exit(fmt.Sprintf("--%s %#x is not a 16-bit id", flagExpectID, want), 2)
	}
	if err := f.ExpectID(uint16(want)); err != nil {
		return err
	}
	fmt.Fprintf(w, "id %#04x ok\n", want)

	if err := f.EraseSector(demoAddr); err != nil {
		return fmt.Errorf("sector erase failed: %w", err)
	}
	pattern := demoPattern()
	got, err := f.ReadBytes(demoAddr, len(pattern))
	if err != nil {
		return err
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, len(pattern))) {
		return fmt.Errorf("sector at %#x not erased: % X", demoAddr, got)
	}
	fmt.Fprintf(w, "erased  % X\n", got)

	if err := f.WriteBytes(demoAddr, pattern); err != nil {
		return fmt.Errorf("page program failed: %w", err)
	}
	if got, err = f.ReadBytes(demoAddr, len(pattern)); err != nil {
		return err
	}
	fmt.Fprintf(w, "written % X\n", got)
	if !bytes.Equal(got, pattern) {
		log.Warn("read back mismatch", zap.Binary("want", pattern), zap.Binary("got", got))
		return fmt.Errorf("read back mismatch at %#x", demoAddr)
	}
	fmt.Fprintln(w, "verify ok")
	return nil
}
