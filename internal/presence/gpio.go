package presence

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Pin is a GPIO input read through periph.
type Pin struct {
	pin       gpio.PinIO
	activeLow bool
}

// OpenPin configures the named pin as an input with a pull resistor toward
// its inactive level.
func OpenPin(name string, activeLow bool) (*Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	pull := gpio.PullDown
	if activeLow {
		pull = gpio.PullUp
	}
	if err := p.In(pull, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure %s as input: %w", name, err)
	}
	return &Pin{pin: p, activeLow: activeLow}, nil
}

// Read reports whether the pin is at its active level.
func (p *Pin) Read() bool {
	level := p.pin.Read()
	if p.activeLow {
		return level == gpio.Low
	}
	return level == gpio.High
}

// Close returns the pin to its default state.
func (p *Pin) Close() error {
	return p.pin.Halt()
}

func (p *Pin) String() string {
	return p.pin.Name()
}
