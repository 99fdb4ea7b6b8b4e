package spinor

import (
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
)

// SelectPin is the part of gpio.PinOut needed to drive chip select.
type SelectPin interface {
	Out(l gpio.Level) error
}

// ChipSelect is an active-low chip select line. It is a back-reference from a
// flash to its pin; the pin is not owned.
type ChipSelect struct {
	pin SelectPin
}

func NewChipSelect(pin SelectPin) ChipSelect { return ChipSelect{pin: pin} }

// Assert drives the line low.
func (cs ChipSelect) Assert() error {
	if cs.pin == nil {
		return nil
	}
	return transportError(cs.pin.Out(gpio.Low))
}

// Release drives the line high.
func (cs ChipSelect) Release() error {
	if cs.pin == nil {
		return nil
	}
	return transportError(cs.pin.Out(gpio.High))
}

// Do runs tx with the line asserted and releases it on every path.
func (cs ChipSelect) Do(tx func() error) (err error) {
	if err = cs.Assert(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, cs.Release())
	}()
	return tx()
}
