package trigger

import (
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIO is a start button wired between a pin and ground. The pin is pulled up
// so the button reads pressed when the line is low.
type GPIO struct {
	pin gpio.PinIn
}

// OpenGPIO initialises periph and configures the named pin as an input.
func OpenGPIO(name string) (*GPIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "periph host init")
	}
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, errors.Errorf("gpio pin %q not found", name)
	}
	return NewGPIO(pin)
}

// NewGPIO configures an already resolved pin.
func NewGPIO(pin gpio.PinIn) (*GPIO, error) {
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, errors.Wrapf(err, "configure pin %s", pin.Name())
	}
	return &GPIO{pin: pin}, nil
}

func (g *GPIO) Pressed() bool {
	return g.pin.Read() == gpio.Low
}
