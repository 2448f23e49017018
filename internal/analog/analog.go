// Package analog reads the optional auxiliary gas sensor. The sensor is an
// MQ-3 whose output is digitized by an ADS1115 on the I2C bus; when it is
// absent a Disabled channel stands in and every reading is the sentinel.
package analog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/picron-io/picron-agent/internal/bus"
	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/timeutil"
)

// Sentinel is reported for the auxiliary value when no reading is available.
const Sentinel = -1.0

// ErrDisabled is returned by a Disabled channel.
var ErrDisabled = errors.New("analog channel disabled")

// Channel is an auxiliary scalar input.
type Channel interface {
	// Read returns the scaled value, or Sentinel and an error.
	Read() (float64, error)
	// Available reports whether the channel is bound to hardware.
	Available() bool
	Close() error
}

// Disabled is the channel used when the sensor failed to bind.
type Disabled struct{}

func (Disabled) Read() (float64, error) { return Sentinel, ErrDisabled }
func (Disabled) Available() bool        { return false }
func (Disabled) Close() error           { return nil }

// ADS1115 registers and config fields.
const (
	regConversion = 0x00
	regConfig     = 0x01

	cfgOS         = 0x8000 // start single conversion / conversion done
	cfgMuxSingle0 = 0x4000 // AINx vs GND, channel added in bits 13:12
	cfgPGA4096    = 0x0200
	cfgModeSingle = 0x0100
	cfgDR128      = 0x0080
	cfgCompOff    = 0x0003

	fullScaleVolts = 4.096
)

// ADS1115 reads one single-ended input and scales volts to sensor units.
type ADS1115 struct {
	conn    bus.Conn
	closer  io.Closer
	channel int
	scale   float64
	clock   timeutil.Clock

	// PollDelay and MaxPolls bound the wait for a conversion.
	PollDelay time.Duration
	MaxPolls  int
}

// NewADS1115 returns a reader over conn. closer, if not nil, is released by Close.
func NewADS1115(conn bus.Conn, closer io.Closer, channel int, scale float64, clock timeutil.Clock) *ADS1115 {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &ADS1115{
		conn:      conn,
		closer:    closer,
		channel:   channel & 0x3,
		scale:     scale,
		clock:     clock,
		PollDelay: 2 * time.Millisecond,
		MaxPolls:  10,
	}
}

// Open binds an ADS1115 on the named periph bus and probes it.
func Open(busName string, addr uint16, channel int, scale float64) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}
	b, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open i2c bus %q: %w", busName, err)
	}
	a := NewADS1115(&i2c.Dev{Bus: b, Addr: addr}, b, channel, scale, nil)
	if err := a.Probe(); err != nil {
		b.Close()
		return nil, err
	}
	return a, nil
}

// Probe reads the config register to confirm a device answers.
func (a *ADS1115) Probe() error {
	if _, err := a.readReg(regConfig); err != nil {
		return fmt.Errorf("ads1115 did not answer: %w", err)
	}
	return nil
}

func (a *ADS1115) readReg(reg byte) (uint16, error) {
	buf := make([]byte, 2)
	if err := a.conn.Tx([]byte{reg}, buf); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

func (a *ADS1115) config() uint16 {
	return cfgOS | cfgMuxSingle0 | uint16(a.channel)<<12 | cfgPGA4096 | cfgModeSingle | cfgDR128 | cfgCompOff
}

// Read starts a single-shot conversion, waits for it and returns the
// scaled value.
func (a *ADS1115) Read() (float64, error) {
	w := []byte{regConfig, 0, 0}
	binary.BigEndian.PutUint16(w[1:], a.config())
	if err := a.conn.Tx(w, nil); err != nil {
		return Sentinel, fmt.Errorf("failed to start conversion: %w", err)
	}

	ready := false
	for i := 0; i < a.MaxPolls; i++ {
		a.clock.Sleep(a.PollDelay)
		cfg, err := a.readReg(regConfig)
		if err != nil {
			return Sentinel, fmt.Errorf("failed to poll conversion: %w", err)
		}
		if cfg&cfgOS != 0 {
			ready = true
			break
		}
	}
	if !ready {
		return Sentinel, fault.New(fault.Timeout, "analog.read", fault.ErrTimeout)
	}

	raw, err := a.readReg(regConversion)
	if err != nil {
		return Sentinel, fmt.Errorf("failed to read conversion: %w", err)
	}
	volts := float64(int16(raw)) * fullScaleVolts / 32768.0
	return volts * a.scale, nil
}

// Available reports true.
func (a *ADS1115) Available() bool { return true }

// Close releases the bus.
func (a *ADS1115) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}
