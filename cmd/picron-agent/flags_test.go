package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

var agentFlags = []string{"config", "subject", "api", "dev", "listen", "journal", "log-json", "log-level"}

func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		for _, name := range agentFlags {
			f := flag.Lookup(name)
			f.Value.Set(f.DefValue)
		}
	})
}

func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"config", ""},
		{"subject", ""},
		{"api", ""},
		{"dev", "false"},
		{"listen", ""},
		{"journal", ""},
		{"log-json", "false"},
		{"log-level", "info"},
	}
	for _, tt := range tests {
		f := flag.Lookup(tt.name)
		if f == nil {
			t.Errorf("flag -%s not defined", tt.name)
			continue
		}
		if f.DefValue != tt.want {
			t.Errorf("-%s default = %q, want %q", tt.name, f.DefValue, tt.want)
		}
	}
}

func TestLoadConfigRequiresSubject(t *testing.T) {
	resetFlags(t)
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected an error without a subject")
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	resetFlags(t)
	for name, v := range map[string]string{
		"subject": "med-7",
		"api":     "http://backend:8000",
		"journal": "/tmp/cycles.db",
	} {
		if err := flag.Set(name, v); err != nil {
			t.Fatal(err)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetSubject() != "med-7" {
		t.Errorf("subject = %q", cfg.GetSubject())
	}
	if cfg.GetAPIBase() != "http://backend:8000" {
		t.Errorf("api base = %q", cfg.GetAPIBase())
	}
	if cfg.GetJournal() != "/tmp/cycles.db" {
		t.Errorf("journal = %q", cfg.GetJournal())
	}
	if cfg.GetListen() != ":8080" {
		t.Errorf("listen = %q, want the default", cfg.GetListen())
	}
}

func TestLoadConfigFileThenFlags(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "agent.yaml")
	content := "subject: from-file\nlisten: \":9090\"\nsampling:\n  num_readings: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	flag.Set("config", path)
	flag.Set("subject", "from-flag")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.GetSubject() != "from-flag" {
		t.Errorf("subject = %q, flag should win", cfg.GetSubject())
	}
	if cfg.GetListen() != ":9090" {
		t.Errorf("listen = %q", cfg.GetListen())
	}
	if cfg.Sampling.GetNumReadings() != 4 {
		t.Errorf("num_readings = %d", cfg.Sampling.GetNumReadings())
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	resetFlags(t)
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte("subject: x\nbus:\n  driver: spi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	flag.Set("config", path)
	if _, err := loadConfig(); err == nil {
		t.Fatal("expected an unknown bus driver to be rejected")
	}
}
