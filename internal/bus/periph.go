package bus

import (
	"fmt"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// OpenPeriph opens the named I2C bus through periph's host drivers. An empty
// name selects the first registered bus.
func OpenPeriph(name string, addr uint16) (*Handle, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", name, err)
	}

	dev := &i2c.Dev{Bus: b, Addr: addr}
	return NewHandle(fmt.Sprintf("periph:%s@%#02x", b, addr), dev, b), nil
}
