package spectral

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/picron-io/picron-agent/internal/as7263"
	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/vreg"
)

// AS7263 talks to the sensor over the I2C virtual register interface.
type AS7263 struct {
	session     *vreg.Session
	integration byte
	log         zerolog.Logger
}

// NewAS7263 returns a driver using session. integration is the INT_T value
// in 2.8ms steps.
func NewAS7263(session *vreg.Session, integration byte) *AS7263 {
	return &AS7263{
		session:     session,
		integration: integration,
		log:         monitoring.Stage("spectral"),
	}
}

// Initialize verifies the hardware version, sets the integration time,
// encodes gain and mode into CONTROL_SETUP and turns the indicator LED off.
func (d *AS7263) Initialize(gain, mode int) error {
	hw, err := d.session.Read(as7263.HWVersion)
	if hw != as7263.HWVersionAS7263 {
		mismatch := fmt.Errorf("%w: got %#02x, want %#02x", fault.ErrWrongDevice, hw, as7263.HWVersionAS7263)
		if err != nil {
			mismatch = fmt.Errorf("%w: %w", mismatch, err)
		}
		return fault.New(fault.Fatal, "spectral.init", mismatch)
	}

	if err := d.session.Write(as7263.IntTime, d.integration); err != nil {
		return fmt.Errorf("failed to set integration time: %w", err)
	}

	ctrl, err := d.session.Read(as7263.ControlSetup)
	if err != nil {
		return fmt.Errorf("failed to read control setup: %w", err)
	}
	ctrl = (ctrl &^ as7263.GainMask) | byte(gain&0x3)<<as7263.GainShift
	ctrl = (ctrl &^ as7263.ModeMask) | byte(mode&0x3)<<as7263.ModeShift
	if err := d.session.Write(as7263.ControlSetup, ctrl); err != nil {
		return fmt.Errorf("failed to write control setup: %w", err)
	}

	led, err := d.session.Read(as7263.LEDControl)
	if err != nil {
		return fmt.Errorf("failed to read led control: %w", err)
	}
	if err := d.session.Write(as7263.LEDControl, led&^as7263.LEDIndicator); err != nil {
		return fmt.Errorf("failed to disable indicator led: %w", err)
	}

	d.log.Info().Int("gain", gain).Int("mode", mode).Uint8("int_t", d.integration).Msg("spectral sensor initialized")
	return nil
}

// TriggerMeasurement clears DATA_RDY, selects one-shot mode and waits for
// DATA_RDY within the session timeout.
func (d *AS7263) TriggerMeasurement() error {
	ctrl, err := d.session.Read(as7263.ControlSetup)
	if err != nil {
		return fmt.Errorf("failed to read control setup: %w", err)
	}
	ctrl &^= as7263.ControlDataRdy
	if err := d.session.Write(as7263.ControlSetup, ctrl); err != nil {
		return fmt.Errorf("failed to clear data ready: %w", err)
	}
	ctrl = (ctrl &^ as7263.ModeMask) | as7263.ModeOneShot<<as7263.ModeShift
	if err := d.session.Write(as7263.ControlSetup, ctrl); err != nil {
		return fmt.Errorf("failed to start measurement: %w", err)
	}

	if _, err := d.session.Poll(as7263.ControlSetup, func(v byte) bool {
		return v&as7263.ControlDataRdy != 0
	}); err != nil {
		return fmt.Errorf("measurement did not complete: %w", err)
	}
	return nil
}

// ReadCalibratedChannels decodes each channel independently. A failed byte
// read marks only that channel as Sentinel.
func (d *AS7263) ReadCalibratedChannels() Channels {
	var out Channels
	for i, base := range as7263.CalibratedBases {
		v, err := d.readFloat(base)
		if err != nil {
			d.log.Warn().Err(err).Str("channel", as7263.ChannelNames[i]).Msg("channel read failed")
			out[i] = Sentinel
			continue
		}
		out[i] = float64(v)
	}
	return out
}

func (d *AS7263) readFloat(base byte) (float32, error) {
	var raw [4]byte
	for i := range raw {
		b, err := d.session.Read(base + byte(i))
		if err != nil {
			return 0, err
		}
		raw[i] = b
	}
	return DecodeFloat(raw), nil
}

// ReadTemperature returns DEVICE_TEMP.
func (d *AS7263) ReadTemperature() (float64, error) {
	t, err := d.session.Read(as7263.DeviceTemp)
	if err != nil {
		return Sentinel, fmt.Errorf("failed to read device temperature: %w", err)
	}
	return float64(t), nil
}
