package spinor

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfig is returned when a link or clock configuration is outside what
	// the hardware supports.
	ErrConfig = errors.New("spinor: invalid configuration")
	// ErrTransport is returned when a bus transfer fails or the link is unusable.
	ErrTransport = errors.New("spinor: transport failure")
	// ErrDeviceTimeout is returned when the flash stays busy past the wait bound.
	ErrDeviceTimeout = errors.New("spinor: device busy timeout")
	// ErrUnexpectedID is returned by ExpectID when the identify response differs.
	ErrUnexpectedID = errors.New("spinor: unexpected device id")
	// ErrPageOverflow is returned for program data longer than a page or
	// crossing a page boundary. The chip would wrap silently.
	ErrPageOverflow = errors.New("spinor: program data exceeds page")
	// ErrAddressRange is returned for addresses outside the 24-bit space or the
	// device capacity.
	ErrAddressRange = errors.New("spinor: address out of range")
)

// TimeoutError describes a busy-wait that gave up.
type TimeoutError struct {
	Op      string
	Polls   int
	Elapsed time.Duration
	Status  StatusRegister // last status read
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("spinor: %s: device still busy after %d polls (%s), status %s",
		e.Op, e.Polls, e.Elapsed, e.Status)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrDeviceTimeout }

// UnexpectedIDError is returned when the manufacturer/device id does not match.
type UnexpectedIDError struct {
	Want, Got uint16
}

func (e *UnexpectedIDError) Error() string {
	return fmt.Sprintf("spinor: device id %#04x, want %#04x", e.Got, e.Want)
}

func (e *UnexpectedIDError) Is(target error) bool { return target == ErrUnexpectedID }

func configErrorf(format string, a ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, a...))
}

func transportError(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}

func rangeErrorf(addr uint32, n int, limit string) error {
	return fmt.Errorf("%w: 0x%06X+%d exceeds %s", ErrAddressRange, addr, n, limit)
}
