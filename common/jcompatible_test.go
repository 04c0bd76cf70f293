package common

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJStringHashCode(t *testing.T) {
	cases := map[string]int32{
		"":         0,
		"1":        49,
		"中国":       642672,
		"𪚥":        1774428,
		"abc中ddd过": -1825084178,
	}
	for s, h := range cases {
		assert.Equal(t, h, JString(s).HashCode(), s)
	}
}

func TestJLongHashCode(t *testing.T) {
	assert.EqualValues(t, 0, JLong(0).HashCode())
	assert.EqualValues(t, 1, JLong(1).HashCode())
	assert.EqualValues(t, math.MinInt32, JLong(math.MaxInt64).HashCode())
	assert.EqualValues(t, math.MinInt32, JLong(math.MinInt64).HashCode())
	assert.EqualValues(t, 7, JInt(7).HashCode())
}
