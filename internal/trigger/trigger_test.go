package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type script struct {
	vals []bool
	i    int
}

func (s *script) Pressed() bool {
	if s.i >= len(s.vals) {
		return s.vals[len(s.vals)-1]
	}
	v := s.vals[s.i]
	s.i++
	return v
}

func TestButtonPulse(t *testing.T) {
	var b Button
	assert.False(t, b.Pressed())
	b.Press()
	assert.True(t, b.Pressed())
	assert.False(t, b.Pressed(), "a press is a single sample pulse")

	b.Hold(true)
	assert.True(t, b.Pressed())
	assert.True(t, b.Pressed())
	b.Hold(false)
	assert.False(t, b.Pressed())
}

func TestAnySamplesEveryInput(t *testing.T) {
	a := &script{vals: []bool{true, false}}
	b := &script{vals: []bool{false, true}}
	or := Any{a, b}

	assert.True(t, or.Pressed())
	assert.True(t, or.Pressed())
	assert.Equal(t, 2, a.i, "inputs after a pressed one are still sampled")
	assert.Equal(t, 2, b.i)
	assert.False(t, Any{}.Pressed())
}

func TestDebounce(t *testing.T) {
	in := &script{vals: []bool{true, false, true, true, true, false, false, false}}
	d := Debounce(in, 3)

	var got []bool
	for range in.vals {
		got = append(got, d.Pressed())
	}
	assert.Equal(t, []bool{false, false, false, false, true, true, true, false}, got)
}

func TestDebounceOnePassesThrough(t *testing.T) {
	in := &script{vals: []bool{true, false, true}}
	d := Debounce(in, 0)
	assert.True(t, d.Pressed())
	assert.False(t, d.Pressed())
	assert.True(t, d.Pressed())
}

func TestGPIOActiveLow(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO17", L: gpio.High}
	g, err := NewGPIO(pin)
	require.NoError(t, err)
	assert.Equal(t, gpio.PullUp, pin.P)

	assert.False(t, g.Pressed())
	pin.L = gpio.Low
	assert.True(t, g.Pressed())
}
