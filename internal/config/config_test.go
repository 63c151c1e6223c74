package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("version: 1\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port() != 8080 {
		t.Errorf("got port %d, want 8080", cfg.Port())
	}
	if cfg.OBS.URL != "ws://localhost:4455" {
		t.Errorf("got obs url %q", cfg.OBS.URL)
	}
	if cfg.MediaSafetyMargin() != 100*time.Millisecond {
		t.Errorf("got safety margin %v, want 100ms", cfg.MediaSafetyMargin())
	}
	if cfg.Transitions.CompletionTimeout.Std() != 30*time.Second {
		t.Errorf("got completion timeout %v, want 30s", cfg.Transitions.CompletionTimeout.Std())
	}
	if !cfg.Exclusive() {
		t.Error("expected exclusive runner by default")
	}
	if cfg.Bus.Driver != "local" || cfg.Storage.Driver != "memory" {
		t.Errorf("unexpected drivers: bus=%s storage=%s", cfg.Bus.Driver, cfg.Storage.Driver)
	}
	if cfg.Sync.PingPeriod.Std() != 54*time.Second {
		t.Errorf("got ping period %v, want 54s", cfg.Sync.PingPeriod.Std())
	}
	if cfg.TLSEnabled() {
		t.Error("TLS should be disabled without cert and key")
	}
	if cfg.Schedule.ID != "main" {
		t.Errorf("got schedule id %q, want main", cfg.Schedule.ID)
	}
	if host, _ := os.Hostname(); cfg.Server.Instance != host {
		t.Errorf("got instance %q, want hostname %q", cfg.Server.Instance, host)
	}
}

func TestParse_Overrides(t *testing.T) {
	doc := `
version: 1
server:
  port: 9090
obs:
  url: ws://obs.local:4455
  reconnect_interval: 2s
transitions:
  media_safety_margin_ms: 250
  completion_timeout: 5s
  exclusive: false
bus:
  driver: mqtt
  url: tcp://broker:1883
`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 9090 {
		t.Errorf("got port %d", cfg.Port())
	}
	if cfg.OBS.ReconnectInterval.Std() != 2*time.Second {
		t.Errorf("got reconnect interval %v", cfg.OBS.ReconnectInterval.Std())
	}
	if cfg.MediaSafetyMargin() != 250*time.Millisecond {
		t.Errorf("got margin %v", cfg.MediaSafetyMargin())
	}
	if cfg.Transitions.CompletionTimeout.Std() != 5*time.Second {
		t.Errorf("got timeout %v", cfg.Transitions.CompletionTimeout.Std())
	}
	if cfg.Exclusive() {
		t.Error("expected exclusive=false to be honoured")
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"bad version":        "version: 2\n",
		"bad duration":       "version: 1\nobs:\n  connect_timeout: soon\n",
		"unknown bus":        "version: 1\nbus:\n  driver: carrier-pigeon\n",
		"remote bus no url":  "version: 1\nbus:\n  driver: nats\n",
		"unknown storage":    "version: 1\nstorage:\n  driver: floppy\n",
		"ping exceeds pong":  "version: 1\nsync:\n  ping_period: 2m\n  pong_wait: 1m\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\nserver:\n  port: 7000\n"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port() != 7000 {
		t.Errorf("got port %d, want 7000", cfg.Port())
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
