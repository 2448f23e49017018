package uart

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"time"
)

// TestablePort implements TimeoutPort with configurable behaviour for
// testing. Written command lines are passed to Respond and its answer is
// queued for reading.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// Respond returns the device answer for one command line, CRLF included.
	Respond func(cmd string) string

	// WriteError is returned by the next Write call if set
	WriteError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// Commands records every command line received
	Commands []string

	// Reads counts Read calls
	Reads int

	// TimeoutError is returned by SetReadTimeout if set
	TimeoutError error

	pending string
}

// NewTestablePort creates a new TestablePort for testing.
func NewTestablePort(respond func(cmd string) string) *TestablePort {
	return &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
		Respond:     respond,
	}
}

// Read reads from the read buffer. An empty buffer reads as (0, nil), the
// way go.bug.st/serial reports an expired read timeout.
func (t *TestablePort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	t.Reads++
	if t.ReadBuffer.Len() == 0 {
		return 0, nil
	}
	return t.ReadBuffer.Read(p)
}

// Write records the data and answers every complete line.
func (t *TestablePort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}

	t.WriteBuffer.Write(p)
	t.pending += string(p)
	for {
		i := strings.IndexByte(t.pending, '\n')
		if i < 0 {
			break
		}
		cmd := strings.TrimSpace(t.pending[:i])
		t.pending = t.pending[i+1:]
		t.Commands = append(t.Commands, cmd)
		if t.Respond != nil {
			t.ReadBuffer.WriteString(t.Respond(cmd))
		}
	}
	return len(p), nil
}

// Close marks the port as closed.
func (t *TestablePort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

// SetReadTimeout implements TimeoutPort.
func (t *TestablePort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.TimeoutError != nil {
		return t.TimeoutError
	}
	t.ReadTimeout = timeout
	return nil
}
