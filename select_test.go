package spinor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/gpio"
)

type recordPin struct {
	levels  []gpio.Level
	highErr error
}

func (p *recordPin) Out(l gpio.Level) error {
	p.levels = append(p.levels, l)
	if l == gpio.High {
		return p.highErr
	}
	return nil
}

func TestChipSelectDo(t *testing.T) {
	pin := &recordPin{}
	cs := NewChipSelect(pin)

	assert.NoError(t, cs.Do(func() error {
		assert.Equal(t, []gpio.Level{gpio.Low}, pin.levels)
		return nil
	}))
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, pin.levels)

	pin.levels = nil
	txErr := errors.New("overrun")
	err := cs.Do(func() error { return txErr })
	assert.ErrorIs(t, err, txErr)
	assert.Equal(t, []gpio.Level{gpio.Low, gpio.High}, pin.levels, "released on error")
}

func TestChipSelectReleaseError(t *testing.T) {
	relErr := errors.New("gpio stuck")
	pin := &recordPin{highErr: relErr}
	cs := NewChipSelect(pin)

	err := cs.Do(func() error { return nil })
	assert.ErrorIs(t, err, relErr)
	assert.ErrorIs(t, err, ErrTransport)

	txErr := errors.New("overrun")
	err = cs.Do(func() error { return txErr })
	assert.ErrorIs(t, err, txErr)
	assert.ErrorIs(t, err, relErr)
}

func TestChipSelectNone(t *testing.T) {
	called := false
	assert.NoError(t, ChipSelect{}.Do(func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
