package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the root configuration of the acquisition agent. Every field
// is optional: the Get* methods supply defaults for anything left unset, so
// partial files are safe. Durations are strings such as "5s" or "500ms".
type AgentConfig struct {
	Subject        *string `json:"subject,omitempty" yaml:"subject,omitempty"`
	APIBase        *string `json:"api_base,omitempty" yaml:"api_base,omitempty"`
	HTTPTimeout    *string `json:"http_timeout,omitempty" yaml:"http_timeout,omitempty"`
	PollInterval   *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	ResetCountdown *string `json:"reset_countdown,omitempty" yaml:"reset_countdown,omitempty"`
	PublishLive    *bool   `json:"publish_live,omitempty" yaml:"publish_live,omitempty"`
	Listen         *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	Journal        *string `json:"journal,omitempty" yaml:"journal,omitempty"`

	Bus      BusConfig      `json:"bus" yaml:"bus"`
	VReg     VRegConfig     `json:"vreg" yaml:"vreg"`
	Spectral SpectralConfig `json:"spectral" yaml:"spectral"`
	Analog   AnalogConfig   `json:"analog" yaml:"analog"`
	Presence PresenceConfig `json:"presence" yaml:"presence"`
	Sampling SamplingConfig `json:"sampling" yaml:"sampling"`
}

// BusConfig selects the register bus backend for the spectral sensor.
type BusConfig struct {
	Driver  *string `json:"driver,omitempty" yaml:"driver,omitempty"` // periph, reefpi or sim
	Name    *string `json:"name,omitempty" yaml:"name,omitempty"`     // periph bus name, "" for the first bus
	Address *int    `json:"address,omitempty" yaml:"address,omitempty"`
}

// VRegConfig bounds the virtual register handshake.
type VRegConfig struct {
	PollDelay  *string `json:"poll_delay,omitempty" yaml:"poll_delay,omitempty"`
	Timeout    *string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxRetries *int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// SpectralConfig configures the AS7263 measurement settings.
type SpectralConfig struct {
	Transport   *string    `json:"transport,omitempty" yaml:"transport,omitempty"` // i2c or uart
	Gain        *int       `json:"gain,omitempty" yaml:"gain,omitempty"`
	Mode        *int       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Integration *int       `json:"integration,omitempty" yaml:"integration,omitempty"`
	UART        UARTConfig `json:"uart" yaml:"uart"`
}

// UARTConfig describes the serial link used when Transport is "uart".
type UARTConfig struct {
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
}

// AnalogConfig configures the optional ADS1115-attached gas sensor.
type AnalogConfig struct {
	Enabled *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	BusName *string  `json:"bus_name,omitempty" yaml:"bus_name,omitempty"`
	Address *int     `json:"address,omitempty" yaml:"address,omitempty"`
	Channel *int     `json:"channel,omitempty" yaml:"channel,omitempty"`
	Scale   *float64 `json:"scale,omitempty" yaml:"scale,omitempty"` // ppm per volt
}

// PresenceConfig configures the trigger and access-control inputs.
type PresenceConfig struct {
	Pin              *string `json:"pin,omitempty" yaml:"pin,omitempty"`
	ActiveLow        *bool   `json:"active_low,omitempty" yaml:"active_low,omitempty"`
	DebounceSamples  *int    `json:"debounce_samples,omitempty" yaml:"debounce_samples,omitempty"`
	DebounceInterval *string `json:"debounce_interval,omitempty" yaml:"debounce_interval,omitempty"`
	AccessPin        *string `json:"access_pin,omitempty" yaml:"access_pin,omitempty"`
}

// SamplingConfig configures one acquisition cycle.
type SamplingConfig struct {
	NumReadings       *int     `json:"num_readings,omitempty" yaml:"num_readings,omitempty"`
	ReadingInterval   *string  `json:"reading_interval,omitempty" yaml:"reading_interval,omitempty"`
	DelayAfterTrigger *string  `json:"delay_after_trigger,omitempty" yaml:"delay_after_trigger,omitempty"`
	Alpha             *float64 `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	PresencePoll      *string  `json:"presence_poll,omitempty" yaml:"presence_poll,omitempty"`
	WaitTimeout       *string  `json:"wait_timeout,omitempty" yaml:"wait_timeout,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAgentConfig returns an AgentConfig with every field unset.
func EmptyAgentConfig() *AgentConfig {
	return &AgentConfig{}
}

// LoadAgentConfig loads an AgentConfig from a .json, .yaml or .yml file.
// The file must be under 1MB and must pass Validate.
func LoadAgentConfig(path string) (*AgentConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAgentConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *AgentConfig) Validate() error {
	durations := map[string]*string{
		"http_timeout":                 c.HTTPTimeout,
		"poll_interval":                c.PollInterval,
		"reset_countdown":              c.ResetCountdown,
		"vreg.poll_delay":              c.VReg.PollDelay,
		"vreg.timeout":                 c.VReg.Timeout,
		"presence.debounce_interval":   c.Presence.DebounceInterval,
		"sampling.reading_interval":    c.Sampling.ReadingInterval,
		"sampling.delay_after_trigger": c.Sampling.DelayAfterTrigger,
		"sampling.presence_poll":       c.Sampling.PresencePoll,
		"sampling.wait_timeout":        c.Sampling.WaitTimeout,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.Bus.Driver != nil {
		switch *c.Bus.Driver {
		case "periph", "reefpi", "sim":
		default:
			return fmt.Errorf("unknown bus.driver %q: expected periph, reefpi or sim", *c.Bus.Driver)
		}
	}
	if c.Spectral.Transport != nil {
		switch *c.Spectral.Transport {
		case "i2c", "uart":
		default:
			return fmt.Errorf("unknown spectral.transport %q: expected i2c or uart", *c.Spectral.Transport)
		}
	}
	if c.Bus.Address != nil && (*c.Bus.Address < 0x03 || *c.Bus.Address > 0x77) {
		return fmt.Errorf("bus.address must be a 7-bit address, got %#x", *c.Bus.Address)
	}
	if c.VReg.MaxRetries != nil && *c.VReg.MaxRetries < 0 {
		return fmt.Errorf("vreg.max_retries must be non-negative, got %d", *c.VReg.MaxRetries)
	}
	if c.Spectral.Gain != nil && (*c.Spectral.Gain < 0 || *c.Spectral.Gain > 3) {
		return fmt.Errorf("spectral.gain must be between 0 and 3, got %d", *c.Spectral.Gain)
	}
	if c.Spectral.Mode != nil && (*c.Spectral.Mode < 0 || *c.Spectral.Mode > 3) {
		return fmt.Errorf("spectral.mode must be between 0 and 3, got %d", *c.Spectral.Mode)
	}
	if c.Spectral.Integration != nil && (*c.Spectral.Integration < 1 || *c.Spectral.Integration > 255) {
		return fmt.Errorf("spectral.integration must be between 1 and 255, got %d", *c.Spectral.Integration)
	}
	if c.Analog.Channel != nil && (*c.Analog.Channel < 0 || *c.Analog.Channel > 3) {
		return fmt.Errorf("analog.channel must be between 0 and 3, got %d", *c.Analog.Channel)
	}
	if c.Presence.DebounceSamples != nil && *c.Presence.DebounceSamples < 1 {
		return fmt.Errorf("presence.debounce_samples must be at least 1, got %d", *c.Presence.DebounceSamples)
	}
	if c.Sampling.NumReadings != nil && *c.Sampling.NumReadings < 1 {
		return fmt.Errorf("sampling.num_readings must be at least 1, got %d", *c.Sampling.NumReadings)
	}
	if c.Sampling.Alpha != nil && (*c.Sampling.Alpha < 0 || *c.Sampling.Alpha > 1) {
		return fmt.Errorf("sampling.alpha must be between 0 and 1, got %f", *c.Sampling.Alpha)
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

// GetSubject returns the tracked subject identifier.
func (c *AgentConfig) GetSubject() string { return stringOr(c.Subject, "") }

// GetAPIBase returns the backend base URL without a trailing slash.
func (c *AgentConfig) GetAPIBase() string {
	return strings.TrimRight(stringOr(c.APIBase, "http://localhost:8000"), "/")
}

// GetHTTPTimeout returns the per-request network timeout.
func (c *AgentConfig) GetHTTPTimeout() time.Duration {
	return durationOr(c.HTTPTimeout, 10*time.Second)
}

// GetPollInterval returns the remote status poll cadence.
func (c *AgentConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 5*time.Second)
}

// GetResetCountdown returns the absence window before a status reset.
func (c *AgentConfig) GetResetCountdown() time.Duration {
	return durationOr(c.ResetCountdown, 15*time.Second)
}

// GetPublishLive reports whether completed samples are mirrored to the live endpoint.
func (c *AgentConfig) GetPublishLive() bool {
	if c.PublishLive == nil {
		return false
	}
	return *c.PublishLive
}

// GetListen returns the local state server address. Empty disables it.
func (c *AgentConfig) GetListen() string { return stringOr(c.Listen, ":8080") }

// GetJournal returns the sqlite journal path. Empty disables the journal.
func (c *AgentConfig) GetJournal() string { return stringOr(c.Journal, "") }

// GetDriver returns the bus backend name.
func (b BusConfig) GetDriver() string { return stringOr(b.Driver, "periph") }

// GetName returns the periph bus name.
func (b BusConfig) GetName() string { return stringOr(b.Name, "") }

// GetAddress returns the spectral sensor's 7-bit address.
func (b BusConfig) GetAddress() uint16 { return uint16(intOr(b.Address, 0x49)) }

// GetPollDelay returns the sleep between status-flag checks.
func (v VRegConfig) GetPollDelay() time.Duration {
	return durationOr(v.PollDelay, 5*time.Millisecond)
}

// GetTimeout returns the bound on a single status-flag wait.
func (v VRegConfig) GetTimeout() time.Duration {
	return durationOr(v.Timeout, time.Second)
}

// GetMaxRetries returns the number of retries after the first attempt.
func (v VRegConfig) GetMaxRetries() int { return intOr(v.MaxRetries, 3) }

// GetTransport returns i2c or uart.
func (s SpectralConfig) GetTransport() string { return stringOr(s.Transport, "i2c") }

// GetGain returns the gain code (0=1x, 1=3.7x, 2=16x, 3=64x).
func (s SpectralConfig) GetGain() int { return intOr(s.Gain, 3) }

// GetMode returns the bank mode code used at initialization.
func (s SpectralConfig) GetMode() int { return intOr(s.Mode, 3) }

// GetIntegration returns the integration time in 2.8ms steps.
func (s SpectralConfig) GetIntegration() int { return intOr(s.Integration, 50) }

// GetPort returns the UART device path.
func (u UARTConfig) GetPort() string { return stringOr(u.Port, "/dev/serial0") }

// GetBaudRate returns the UART baud rate.
func (u UARTConfig) GetBaudRate() int { return intOr(u.BaudRate, 115200) }

// GetEnabled reports whether the analog sensor should be bound.
func (a AnalogConfig) GetEnabled() bool {
	if a.Enabled == nil {
		return true
	}
	return *a.Enabled
}

// GetBusName returns the periph bus name for the ADC.
func (a AnalogConfig) GetBusName() string { return stringOr(a.BusName, "") }

// GetAddress returns the ADS1115 address.
func (a AnalogConfig) GetAddress() uint16 { return uint16(intOr(a.Address, 0x48)) }

// GetChannel returns the single-ended ADC input.
func (a AnalogConfig) GetChannel() int { return intOr(a.Channel, 0) }

// GetScale returns the ppm-per-volt conversion factor.
func (a AnalogConfig) GetScale() float64 {
	if a.Scale == nil {
		return 100.0
	}
	return *a.Scale
}

// GetPin returns the presence input pin name.
func (p PresenceConfig) GetPin() string { return stringOr(p.Pin, "GPIO17") }

// GetActiveLow reports whether the presence input reads low when a sample is present.
func (p PresenceConfig) GetActiveLow() bool {
	if p.ActiveLow == nil {
		return true
	}
	return *p.ActiveLow
}

// GetDebounceSamples returns how many consecutive agreeing reads make a level stable.
func (p PresenceConfig) GetDebounceSamples() int { return intOr(p.DebounceSamples, 3) }

// GetDebounceInterval returns the gap between debounce reads.
func (p PresenceConfig) GetDebounceInterval() time.Duration {
	return durationOr(p.DebounceInterval, 10*time.Millisecond)
}

// GetAccessPin returns the access-control input pin. Empty means always granted.
func (p PresenceConfig) GetAccessPin() string { return stringOr(p.AccessPin, "") }

// GetNumReadings returns the number of raw readings folded per cycle.
func (s SamplingConfig) GetNumReadings() int { return intOr(s.NumReadings, 10) }

// GetReadingInterval returns the sleep between readings.
func (s SamplingConfig) GetReadingInterval() time.Duration {
	return durationOr(s.ReadingInterval, time.Second)
}

// GetDelayAfterTrigger returns the settle delay after presence is detected.
func (s SamplingConfig) GetDelayAfterTrigger() time.Duration {
	return durationOr(s.DelayAfterTrigger, 2*time.Second)
}

// GetAlpha returns the EWMA weight of the newest reading.
func (s SamplingConfig) GetAlpha() float64 {
	if s.Alpha == nil {
		return 0.3
	}
	return *s.Alpha
}

// GetPresencePoll returns the cadence of WaitForPresence checks.
func (s SamplingConfig) GetPresencePoll() time.Duration {
	return durationOr(s.PresencePoll, 100*time.Millisecond)
}

// GetWaitTimeout returns the WaitForPresence bound. Zero waits forever.
func (s SamplingConfig) GetWaitTimeout() time.Duration {
	return durationOr(s.WaitTimeout, 0)
}

// DefaultAgentConfig returns a config with every field populated from the defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		Subject:        ptrString(""),
		APIBase:        ptrString("http://localhost:8000"),
		HTTPTimeout:    ptrString("10s"),
		PollInterval:   ptrString("5s"),
		ResetCountdown: ptrString("15s"),
		PublishLive:    ptrBool(false),
		Listen:         ptrString(":8080"),
		Journal:        ptrString(""),
		Bus: BusConfig{
			Driver:  ptrString("periph"),
			Name:    ptrString(""),
			Address: ptrInt(0x49),
		},
		VReg: VRegConfig{
			PollDelay:  ptrString("5ms"),
			Timeout:    ptrString("1s"),
			MaxRetries: ptrInt(3),
		},
		Spectral: SpectralConfig{
			Transport:   ptrString("i2c"),
			Gain:        ptrInt(3),
			Mode:        ptrInt(3),
			Integration: ptrInt(50),
			UART: UARTConfig{
				Port:     ptrString("/dev/serial0"),
				BaudRate: ptrInt(115200),
			},
		},
		Analog: AnalogConfig{
			Enabled: ptrBool(true),
			BusName: ptrString(""),
			Address: ptrInt(0x48),
			Channel: ptrInt(0),
			Scale:   ptrFloat64(100.0),
		},
		Presence: PresenceConfig{
			Pin:              ptrString("GPIO17"),
			ActiveLow:        ptrBool(true),
			DebounceSamples:  ptrInt(3),
			DebounceInterval: ptrString("10ms"),
			AccessPin:        ptrString(""),
		},
		Sampling: SamplingConfig{
			NumReadings:       ptrInt(10),
			ReadingInterval:   ptrString("1s"),
			DelayAfterTrigger: ptrString("2s"),
			Alpha:             ptrFloat64(0.3),
			PresencePoll:      ptrString("100ms"),
			WaitTimeout:       ptrString("0s"),
		},
	}
}
