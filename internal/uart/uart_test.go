package uart

import (
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/picron-io/picron-agent/internal/fault"
)

func TestPortOptions_Normalise_Defaults(t *testing.T) {
	got, err := PortOptions{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	want := PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}
	if got != want {
		t.Errorf("Normalise() = %+v, want %+v", got, want)
	}
}

func TestPortOptions_Normalise_Invalid(t *testing.T) {
	tests := []struct {
		name string
		opts PortOptions
	}{
		{"baud", PortOptions{BaudRate: 12345}},
		{"data bits", PortOptions{DataBits: 9}},
		{"stop bits", PortOptions{StopBits: 3}},
		{"parity", PortOptions{Parity: "mark"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.opts.Normalise(); err == nil {
				t.Errorf("expected error for %+v", tt.opts)
			}
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode() error = %v", err)
	}
	if mode.BaudRate != 9600 || mode.StopBits != serial.TwoStopBits || mode.Parity != serial.EvenParity {
		t.Errorf("SerialMode() = %+v", mode)
	}
	if _, err := (PortOptions{DataBits: 4}).SerialMode(); err == nil {
		t.Error("expected error for invalid options")
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	port, err := Open("/dev/nonexistent-serial-port-12345", PortOptions{})
	if err == nil {
		t.Error("Expected error when opening non-existent serial port")
		port.Close()
	}
}

func TestConnCommand(t *testing.T) {
	port := NewTestablePort(func(cmd string) string {
		switch cmd {
		case "AT":
			return "OK\r\n"
		case "ATTEMP":
			return "27 OK\r\n"
		case "ATCDATA":
			return "1.5, 2.5, 3.5\r\nOK\r\n"
		default:
			return "ERROR\r\n"
		}
	})
	c, err := NewConn(port, 2*time.Second)
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	if port.ReadTimeout != 2*time.Second {
		t.Errorf("read timeout = %v", port.ReadTimeout)
	}

	tests := []struct {
		cmd  string
		want string
	}{
		{"AT", ""},
		{"ATTEMP", "27"},
		{"ATCDATA", "1.5, 2.5, 3.5"},
	}
	for _, tt := range tests {
		got, err := c.Command(tt.cmd)
		if err != nil {
			t.Fatalf("Command(%q) error = %v", tt.cmd, err)
		}
		if got != tt.want {
			t.Errorf("Command(%q) = %q, want %q", tt.cmd, got, tt.want)
		}
	}

	if _, err := c.Command("ATBOGUS"); err == nil {
		t.Error("expected ERROR response to fail")
	}
	if len(port.Commands) != 4 {
		t.Errorf("commands = %v", port.Commands)
	}

	if err := c.Close(); err != nil || !port.Closed {
		t.Errorf("Close() = %v, closed=%v", err, port.Closed)
	}
}

func TestConnCommandErrors(t *testing.T) {
	broken := NewTestablePort(nil)
	broken.WriteError = errors.New("unplugged")
	c, err := NewConn(broken, 0)
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	if _, err := c.Command("AT"); err == nil {
		t.Error("expected write error")
	}

	refused := NewTestablePort(nil)
	refused.TimeoutError = errors.New("ioctl failed")
	if _, err := NewConn(refused, time.Second); err == nil || !errors.Is(err, refused.TimeoutError) {
		t.Errorf("NewConn() error = %v, want read timeout failure", err)
	}
}

func TestConnCommandSilentDevice(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		respond func(string) string
	}{
		{"no answer", time.Second, nil},
		{"no answer without timeout", 0, nil},
		{"unterminated line", time.Second, func(string) string { return "27" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := NewTestablePort(tt.respond)
			c, err := NewConn(port, tt.timeout)
			if err != nil {
				t.Fatalf("NewConn() error = %v", err)
			}

			start := time.Now()
			_, err = c.Command("AT")
			if !fault.IsTimeout(err) || !errors.Is(err, fault.ErrTimeout) {
				t.Errorf("Command() error = %v, want timeout", err)
			}
			if port.Reads > 2 {
				t.Errorf("reads = %d, want the first empty read to end the command", port.Reads)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("Command() took %v", elapsed)
			}
		})
	}
}

// tricklePort answers every read with one byte and never ends the line.
type tricklePort struct{ reads int }

func (p *tricklePort) Read(b []byte) (int, error) {
	p.reads++
	b[0] = 'x'
	return 1, nil
}

func (p *tricklePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *tricklePort) Close() error                { return nil }

func TestConnCommandDeadline(t *testing.T) {
	c, err := NewConn(&tricklePort{}, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewConn() error = %v", err)
	}
	start := time.Now()
	_, err = c.Command("ATDATA")
	if !fault.IsTimeout(err) {
		t.Errorf("Command() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Command() took %v, want the command timeout to stop it", elapsed)
	}
}
