// Package bus provides byte-wide register access to a single device on an
// I2C bus. Errors never cross this boundary: a failed read yields Sentinel
// and a failed write yields false, leaving retry policy to the caller.
package bus

import (
	"fmt"
	"io"
	"sync"

	"github.com/picron-io/picron-agent/internal/monitoring"
)

// Sentinel is returned by ReadRegister when the transaction failed.
const Sentinel byte = 0xFF

// Transport is the register-level contract consumed by the virtual register
// protocol.
type Transport interface {
	// ReadRegister returns the register value, or Sentinel on any I/O error.
	ReadRegister(reg byte) byte
	// WriteRegister reports whether the value was written.
	WriteRegister(reg, value byte) bool
}

// Conn performs one combined write-then-read transaction with the device.
// periph's i2c.Dev satisfies it directly.
type Conn interface {
	Tx(w, r []byte) error
}

// Handle owns one bus connection to one fixed device address for the process
// lifetime. It is not safe for concurrent use.
type Handle struct {
	name   string
	conn   Conn
	closer io.Closer

	closeOnce sync.Once
	closeErr  error
}

// NewHandle wraps conn. closer, if not nil, is released by Close.
func NewHandle(name string, conn Conn, closer io.Closer) *Handle {
	return &Handle{name: name, conn: conn, closer: closer}
}

// ReadRegister selects reg and reads one byte back.
func (h *Handle) ReadRegister(reg byte) byte {
	buf := []byte{0}
	if err := h.conn.Tx([]byte{reg}, buf); err != nil {
		monitoring.Logger.Debug().Str("bus", h.name).Err(err).Msgf("read register %#02x failed", reg)
		return Sentinel
	}
	return buf[0]
}

// WriteRegister writes value to reg.
func (h *Handle) WriteRegister(reg, value byte) bool {
	if err := h.conn.Tx([]byte{reg, value}, nil); err != nil {
		monitoring.Logger.Debug().Str("bus", h.name).Err(err).Msgf("write register %#02x failed", reg)
		return false
	}
	return true
}

// Close releases the underlying bus. It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		if h.closer != nil {
			h.closeErr = h.closer.Close()
		}
	})
	return h.closeErr
}

func (h *Handle) String() string {
	return fmt.Sprintf("bus(%s)", h.name)
}
