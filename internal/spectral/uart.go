package spectral

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/picron-io/picron-agent/internal/as7263"
	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/uart"
)

// UART drives an AS7263 module strapped for its serial AT command interface.
type UART struct {
	conn        *uart.Conn
	integration int
	log         zerolog.Logger
}

// NewUART returns a driver over conn.
func NewUART(conn *uart.Conn, integration int) *UART {
	return &UART{conn: conn, integration: integration, log: monitoring.Stage("spectral")}
}

// Initialize checks the link and identity, then applies integration time,
// gain and mode and turns the indicator LED off.
func (d *UART) Initialize(gain, mode int) error {
	if _, err := d.conn.Command("AT"); err != nil {
		return fault.New(fault.Fatal, "spectral.init", err)
	}

	resp, err := d.conn.Command("ATVERHW")
	if err != nil {
		return fault.New(fault.Fatal, "spectral.init", err)
	}
	hw, err := parseHWVersion(resp)
	if err != nil || hw != as7263.HWVersionAS7263 {
		return fault.New(fault.Fatal, "spectral.init",
			fmt.Errorf("%w: got %q, want %#02x", fault.ErrWrongDevice, resp, as7263.HWVersionAS7263))
	}

	for _, cmd := range []string{
		fmt.Sprintf("ATINTTIME=%d", d.integration),
		fmt.Sprintf("ATGAIN=%d", gain&0x3),
		fmt.Sprintf("ATTCSMD=%d", mode&0x3),
		"ATLED0=0",
	} {
		if _, err := d.conn.Command(cmd); err != nil {
			return fmt.Errorf("failed to configure sensor: %w", err)
		}
	}
	d.log.Info().Int("gain", gain).Int("mode", mode).Msg("spectral sensor initialized over uart")
	return nil
}

// parseHWVersion accepts either the bare device type or the device type
// followed by its revision byte.
func parseHWVersion(resp string) (byte, error) {
	fields := strings.Fields(resp)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty hardware version")
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(fields[0]), "0x"), 16, 16)
	if err != nil {
		return 0, err
	}
	if v > 0xFF {
		v >>= 8
	}
	return byte(v), nil
}

// TriggerMeasurement requests a one-shot conversion. The module answers once
// the data is ready, so the command timeout bounds the wait.
func (d *UART) TriggerMeasurement() error {
	if _, err := d.conn.Command(fmt.Sprintf("ATTCSMD=%d", as7263.ModeOneShot)); err != nil {
		return fault.New(fault.Timeout, "spectral.trigger", err)
	}
	return nil
}

// ReadCalibratedChannels parses the ATCDATA reply. Fields that are missing or
// do not parse are Sentinel.
func (d *UART) ReadCalibratedChannels() Channels {
	out := SentinelChannels()
	resp, err := d.conn.Command("ATCDATA")
	if err != nil {
		d.log.Warn().Err(err).Msg("calibrated data read failed")
		return out
	}
	fields := strings.Split(resp, ",")
	for i := 0; i < NumChannels && i < len(fields); i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i]), 32)
		if err != nil {
			d.log.Warn().Err(err).Str("channel", as7263.ChannelNames[i]).Msg("channel parse failed")
			continue
		}
		out[i] = v
	}
	return out
}

// ReadTemperature returns the ATTEMP reply in degrees Celsius.
func (d *UART) ReadTemperature() (float64, error) {
	resp, err := d.conn.Command("ATTEMP")
	if err != nil {
		return Sentinel, err
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return Sentinel, fmt.Errorf("failed to parse temperature %q: %w", resp, err)
	}
	return t, nil
}

// Close closes the serial link.
func (d *UART) Close() error {
	return d.conn.Close()
}
