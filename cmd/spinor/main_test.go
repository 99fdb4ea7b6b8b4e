package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/gentam/spinor"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"spinor", "--sim", "--timeout", "1s"}, args...))
	return out.String(), err
}

func TestDemo(t *testing.T) {
	out, err := run(t, "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "id 0xef14 ok")
	assert.Contains(t, out, "erased  FF FF FF FF")
	assert.Contains(t, out, "written 1A 19 18 17 16 15 14 13 12 11 10 0F 0E 0D 0C 0B")
	assert.Contains(t, out, "verify ok")

	chip, err := simChip()
	require.NoError(t, err)
	assert.Equal(t, demoPattern(), chip.Mem(demoAddr, 16))

	// a second run erases the sector again before programming
	_, err = run(t, "demo")
	require.NoError(t, err)
}

func TestDemoChipSelectPin(t *testing.T) {
	out, err := run(t, "--cs", "X", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "verify ok")
}

func TestReadSizeBounds(t *testing.T) {
	_, err := run(t, "read", "-n", "4MiB")
	assert.ErrorContains(t, err, "exceed the 2MiB flash")
}

func TestDemoUnexpectedID(t *testing.T) {
	_, err := run(t, "--expect-id", "0x1234", "demo")
	assert.ErrorIs(t, err, spinor.ErrUnexpectedID)
}

func TestInfo(t *testing.T) {
	out, err := run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "EF4015\tWinbond W25Q16JV 16Mb")
	assert.Contains(t, out, "Device ID:       0xef14")
	assert.Contains(t, out, "Capacity:        2MiB (32 blocks, 512 sectors, 8192 pages)")
	assert.Contains(t, out, "Status 1:        00000000")
}

func TestStatusWrite(t *testing.T) {
	out, err := run(t, "status", "-w", "0x1C")
	require.NoError(t, err)
	assert.Contains(t, out, "Status 1:        00011100 BP2,BP1,BP0")

	out, err = run(t, "status", "-w", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "Status 1:        00000000")

	_, err = run(t, "status", "-w", "0x100")
	assert.Error(t, err)
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i * 7)
	}
	require.NoError(t, os.WriteFile(in, data, 0644))

	_, err := run(t, "write", "-a", "0x2000", "-e", "-f", in)
	require.NoError(t, err)

	out := filepath.Join(dir, "out.bin")
	_, err = run(t, "read", "-a", "0x2000", "-n", "300", "-o", out)
	require.NoError(t, err)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	dump, err := run(t, "read", "--fast", "-a", "0x2000", "-n", "16")
	require.NoError(t, err)
	assert.Contains(t, dump, "00000000  00 07 0e 15 1c 23 2a 31  38 3f 46 4d 54 5b 62 69")
}

func TestWriteRequiresFile(t *testing.T) {
	_, err := run(t, "write")
	assert.ErrorContains(t, err, "input file is required")
}

func TestErase(t *testing.T) {
	chip, err := simChip()
	require.NoError(t, err)

	_, err = run(t, "demo")
	require.NoError(t, err)
	_, err = run(t, "erase", "-a", "0x1000", "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 16), chip.Mem(demoAddr, 16))

	_, err = run(t, "erase", "-a", "0x1001")
	assert.ErrorIs(t, err, spinor.ErrAddressRange)

	_, err = run(t, "erase", "-n", "lots")
	assert.Error(t, err)

	_, err = run(t, "erase", "--chip")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 16), chip.Mem(0x2000, 16))
}
