package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/picron-io/picron-agent/internal/testutil"
)

func TestEmptyConfigDefaults(t *testing.T) {
	cfg := EmptyAgentConfig()

	if got := cfg.GetPollInterval(); got != 5*time.Second {
		t.Errorf("GetPollInterval() = %v, want 5s", got)
	}
	if got := cfg.GetResetCountdown(); got != 15*time.Second {
		t.Errorf("GetResetCountdown() = %v, want 15s", got)
	}
	if got := cfg.VReg.GetPollDelay(); got != 5*time.Millisecond {
		t.Errorf("VReg.GetPollDelay() = %v, want 5ms", got)
	}
	if got := cfg.VReg.GetMaxRetries(); got != 3 {
		t.Errorf("VReg.GetMaxRetries() = %d, want 3", got)
	}
	if got := cfg.Bus.GetAddress(); got != 0x49 {
		t.Errorf("Bus.GetAddress() = %#x, want 0x49", got)
	}
	if got := cfg.Sampling.GetNumReadings(); got != 10 {
		t.Errorf("Sampling.GetNumReadings() = %d, want 10", got)
	}
	if got := cfg.Sampling.GetAlpha(); got != 0.3 {
		t.Errorf("Sampling.GetAlpha() = %f, want 0.3", got)
	}
	if got := cfg.Sampling.GetWaitTimeout(); got != 0 {
		t.Errorf("Sampling.GetWaitTimeout() = %v, want 0", got)
	}
	if !cfg.Analog.GetEnabled() {
		t.Error("analog should be enabled by default")
	}
	if cfg.GetPublishLive() {
		t.Error("live publishing should be off by default")
	}
}

func TestDefaultAgentConfigMatchesGetters(t *testing.T) {
	full := DefaultAgentConfig()
	empty := EmptyAgentConfig()

	type snapshot struct {
		Poll, Reset, HTTP, PollDelay, Timeout, Interval, Settle time.Duration
		Retries, Readings, Gain, Mode, Integration           int
		Alpha                                                float64
		Driver, Pin, API                                     string
	}
	take := func(c *AgentConfig) snapshot {
		return snapshot{
			Poll: c.GetPollInterval(), Reset: c.GetResetCountdown(), HTTP: c.GetHTTPTimeout(),
			PollDelay: c.VReg.GetPollDelay(), Timeout: c.VReg.GetTimeout(),
			Interval: c.Sampling.GetReadingInterval(), Settle: c.Sampling.GetDelayAfterTrigger(),
			Retries: c.VReg.GetMaxRetries(), Readings: c.Sampling.GetNumReadings(),
			Gain: c.Spectral.GetGain(), Mode: c.Spectral.GetMode(), Integration: c.Spectral.GetIntegration(),
			Alpha:  c.Sampling.GetAlpha(),
			Driver: c.Bus.GetDriver(), Pin: c.Presence.GetPin(), API: c.GetAPIBase(),
		}
	}
	if diff := cmp.Diff(take(empty), take(full)); diff != "" {
		t.Errorf("defaults drifted from getters (-empty +full):\n%s", diff)
	}
	if err := full.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadAgentConfigJSON(t *testing.T) {
	body := `{
  "subject": "42",
  "api_base": "http://backend:8000/",
  "poll_interval": "2s",
  "bus": {"driver": "sim"},
  "sampling": {"num_readings": 4, "alpha": 0.5}
}`
	cfg, err := LoadAgentConfig(testutil.WriteFile(t, "agent.json", body))
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.GetSubject() != "42" {
		t.Errorf("GetSubject() = %q", cfg.GetSubject())
	}
	if cfg.GetAPIBase() != "http://backend:8000" {
		t.Errorf("GetAPIBase() = %q, trailing slash should be trimmed", cfg.GetAPIBase())
	}
	if cfg.GetPollInterval() != 2*time.Second {
		t.Errorf("GetPollInterval() = %v", cfg.GetPollInterval())
	}
	if cfg.Bus.GetDriver() != "sim" {
		t.Errorf("Bus.GetDriver() = %q", cfg.Bus.GetDriver())
	}
	if cfg.Sampling.GetNumReadings() != 4 || cfg.Sampling.GetAlpha() != 0.5 {
		t.Errorf("sampling = %d/%f", cfg.Sampling.GetNumReadings(), cfg.Sampling.GetAlpha())
	}
	// untouched sections keep defaults
	if cfg.GetResetCountdown() != 15*time.Second {
		t.Errorf("GetResetCountdown() = %v", cfg.GetResetCountdown())
	}
}

func TestLoadAgentConfigYAML(t *testing.T) {
	body := `
subject: "7"
publish_live: true
presence:
  pin: GPIO27
  access_pin: GPIO22
  active_low: false
analog:
  enabled: false
spectral:
  transport: uart
  uart:
    port: /dev/ttyUSB0
`
	cfg, err := LoadAgentConfig(testutil.WriteFile(t, "agent.yaml", body))
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	if cfg.GetSubject() != "7" || !cfg.GetPublishLive() {
		t.Errorf("subject/publish_live = %q/%v", cfg.GetSubject(), cfg.GetPublishLive())
	}
	if cfg.Presence.GetPin() != "GPIO27" || cfg.Presence.GetAccessPin() != "GPIO22" || cfg.Presence.GetActiveLow() {
		t.Errorf("presence = %+v", cfg.Presence)
	}
	if cfg.Analog.GetEnabled() {
		t.Error("analog should be disabled")
	}
	if cfg.Spectral.GetTransport() != "uart" || cfg.Spectral.UART.GetPort() != "/dev/ttyUSB0" {
		t.Errorf("spectral = %+v", cfg.Spectral)
	}
	if cfg.Spectral.UART.GetBaudRate() != 115200 {
		t.Errorf("baud = %d", cfg.Spectral.UART.GetBaudRate())
	}
}

func TestLoadAgentConfigErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"bad extension", "agent.txt", "{}", "extension"},
		{"bad json", "agent.json", "{", "parse config JSON"},
		{"bad yaml", "agent.yml", "subject: [", "parse config YAML"},
		{"bad duration", "agent.json", `{"poll_interval": "soon"}`, "poll_interval"},
		{"negative duration", "agent.json", `{"vreg": {"timeout": "-1s"}}`, "non-negative"},
		{"unknown driver", "agent.json", `{"bus": {"driver": "spi"}}`, "bus.driver"},
		{"alpha range", "agent.json", `{"sampling": {"alpha": 1.5}}`, "alpha"},
		{"gain range", "agent.json", `{"spectral": {"gain": 4}}`, "gain"},
		{"readings", "agent.json", `{"sampling": {"num_readings": 0}}`, "num_readings"},
		{"address", "agent.json", `{"bus": {"address": 200}}`, "7-bit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadAgentConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadAgentConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := LoadAgentConfig(filepath.Join("..", "..", "config", "agent.example.yaml"))
	if err != nil {
		t.Fatalf("example config: %v", err)
	}
	if cfg.GetSubject() != "MED-001" {
		t.Errorf("subject = %q", cfg.GetSubject())
	}
	if cfg.Bus.GetAddress() != 0x49 || cfg.Analog.GetAddress() != 0x48 {
		t.Errorf("addresses = %#x, %#x", cfg.Bus.GetAddress(), cfg.Analog.GetAddress())
	}
	if diff := cmp.Diff(DefaultAgentConfig().Sampling, cfg.Sampling); diff != "" {
		t.Errorf("example sampling differs from defaults (-want +got):\n%s", diff)
	}
}
