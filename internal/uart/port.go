// Package uart opens serial-attached sensors and runs line-oriented AT
// command exchanges over them.
package uart

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/picron-io/picron-agent/internal/fault"
)

// Port is the minimal interface needed for a serial port. It lets tests run
// without real serial hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort is implemented by ports that support a read deadline.
type TimeoutPort interface {
	Port
	SetReadTimeout(timeout time.Duration) error
}

// Open opens a real serial port at path.
func Open(path string, opts PortOptions) (serial.Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	return port, nil
}

// Conn runs AT commands over a Port. Each command is answered by zero or
// more payload lines terminated by a line ending in OK or ERROR.
type Conn struct {
	port    Port
	buf     []byte
	chunk   [64]byte
	timeout time.Duration
}

// NewConn wraps port. timeout bounds each command when positive and is also
// installed as the port's read timeout when the port supports one.
func NewConn(port Port, timeout time.Duration) (*Conn, error) {
	if tp, ok := port.(TimeoutPort); ok && timeout > 0 {
		if err := tp.SetReadTimeout(timeout); err != nil {
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
	}
	return &Conn{port: port, timeout: timeout}, nil
}

// Command sends cmd followed by CRLF and returns the response payload with
// the trailing OK removed. A read that returns no data means the port's read
// timeout expired, and the command fails with a timeout fault.
func (c *Conn) Command(cmd string) (string, error) {
	if _, err := io.WriteString(c.port, cmd+"\r\n"); err != nil {
		return "", fmt.Errorf("failed to send %s: %w", cmd, err)
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}

	var payload []string
	for {
		line, err := c.readLine(cmd, deadline)
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasSuffix(line, "ERROR"):
			return "", fmt.Errorf("%s: device returned %q", cmd, line)
		case line == "OK":
			return strings.Join(payload, " "), nil
		case strings.HasSuffix(line, "OK"):
			payload = append(payload, strings.TrimSpace(strings.TrimSuffix(line, "OK")))
			return strings.Join(payload, " "), nil
		default:
			payload = append(payload, line)
		}
	}
}

func (c *Conn) readLine(cmd string, deadline time.Time) (string, error) {
	for {
		if i := bytes.IndexByte(c.buf, '\n'); i >= 0 {
			line := string(c.buf[:i])
			c.buf = c.buf[i+1:]
			return line, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return "", timedOut(cmd)
		}
		n, err := c.port.Read(c.chunk[:])
		c.buf = append(c.buf, c.chunk[:n]...)
		if err != nil {
			return "", fmt.Errorf("%s: failed to read response: %w", cmd, err)
		}
		if n == 0 {
			return "", timedOut(cmd)
		}
	}
}

func timedOut(cmd string) error {
	return fault.New(fault.Timeout, "uart.command", fmt.Errorf("%s: %w", cmd, fault.ErrTimeout))
}

// Close closes the underlying port.
func (c *Conn) Close() error {
	return c.port.Close()
}
