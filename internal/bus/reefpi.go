package bus

import (
	"fmt"

	"github.com/reef-pi/rpi/i2c"
)

// reefConn adapts reef-pi's address-per-call bus to the Conn transaction shape.
type reefConn struct {
	bus  i2c.Bus
	addr byte
}

func (c *reefConn) Tx(w, r []byte) error {
	if len(w) > 0 {
		if err := c.bus.WriteBytes(c.addr, w); err != nil {
			return err
		}
	}
	if len(r) > 0 {
		data, err := c.bus.ReadBytes(c.addr, len(r))
		if err != nil {
			return err
		}
		if len(data) != len(r) {
			return fmt.Errorf("short read: got %d bytes, want %d", len(data), len(r))
		}
		copy(r, data)
	}
	return nil
}

// openReefBus opens the board's I2C bus. Tests replace it.
var openReefBus = func() (i2c.Bus, error) {
	b, err := i2c.New()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// OpenReefPi opens the board's default I2C bus through reef-pi's rpi driver.
func OpenReefPi(addr byte) (*Handle, error) {
	b, err := openReefBus()
	if err != nil {
		return nil, fmt.Errorf("failed to open reef-pi i2c bus: %w", err)
	}
	return NewHandle(fmt.Sprintf("reefpi@%#02x", addr), &reefConn{bus: b, addr: addr}, b), nil
}
