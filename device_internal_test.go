package spinor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindFT2232HNone(t *testing.T) {
	ft, err := findFT2232H(nil)
	assert.Nil(t, ft)
	assert.EqualError(t, err, "no FTDI device found")
}
