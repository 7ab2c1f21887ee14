package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/pilgrim-12/cronowl-sub001/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, `
server:
  address: ":9090"
storage:
  path: "/tmp/cronowl-test.db"
sweep:
  interval: "30s"
  deadline: "25s"
  workers: 8
alerts:
  webhook:
    url: "https://hooks.example.com/alerts"
    cooldown: "10m"
probes:
  allow_private_targets: true
secrets:
  key: "8a4f9d2c1b7e6a0c3f5d8b2e9a1c4f7d0b3e6a9c2f5d8b1e4a7c0f3d6b9e2a5c"
limits:
  min_monitor_interval_sec: 60
  ping_rate_per_minute: 120
  retention: "168h"
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Errorf("address: got %q", cfg.Server.Address)
	}
	if cfg.Sweep.Interval.Duration != 30*time.Second {
		t.Errorf("sweep interval: got %v", cfg.Sweep.Interval.Duration)
	}
	if cfg.Sweep.Workers != 8 {
		t.Errorf("workers: got %d", cfg.Sweep.Workers)
	}
	if cfg.Alerts.Webhook.URL != "https://hooks.example.com/alerts" {
		t.Errorf("webhook url: got %q", cfg.Alerts.Webhook.URL)
	}
	if !cfg.Probes.AllowPrivateTargets {
		t.Error("expected allow_private_targets true")
	}
	if cfg.Limits.MinMonitorIntervalSec != 60 {
		t.Errorf("min monitor interval: got %d", cfg.Limits.MinMonitorIntervalSec)
	}
	if cfg.Limits.Retention.Duration != 168*time.Hour {
		t.Errorf("retention: got %v", cfg.Limits.Retention.Duration)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, `{}`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("default address: got %q", cfg.Server.Address)
	}
	if cfg.Storage.Path != "cronowl.db" {
		t.Errorf("default storage path: got %q", cfg.Storage.Path)
	}
	if cfg.Sweep.Interval.Duration != time.Minute {
		t.Errorf("default sweep interval: got %v", cfg.Sweep.Interval.Duration)
	}
	if cfg.Sweep.Deadline.Duration != 55*time.Second {
		t.Errorf("default sweep deadline: got %v", cfg.Sweep.Deadline.Duration)
	}
	if cfg.Sweep.Workers != 16 {
		t.Errorf("default workers: got %d", cfg.Sweep.Workers)
	}
	if cfg.Limits.PingRatePerMinute != 60 {
		t.Errorf("default ping rate: got %d", cfg.Limits.PingRatePerMinute)
	}
	if cfg.Limits.Retention.Duration != 30*24*time.Hour {
		t.Errorf("default retention: got %v", cfg.Limits.Retention.Duration)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := config.Load("/nonexistent/config.yml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := config.Load(writeTemp(t, "sweep: [not: valid")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	if _, err := config.Load(writeTemp(t, "sweep:\n  interval: \"fast\"\n")); err == nil {
		t.Error("expected error for unparseable duration")
	}
}

func TestLoad_WorkerBounds(t *testing.T) {
	if _, err := config.Load(writeTemp(t, "sweep:\n  workers: 500\n")); err == nil {
		t.Error("expected error for workers above cap")
	}
	if _, err := config.Load(writeTemp(t, "sweep:\n  workers: -1\n")); err == nil {
		t.Error("expected error for negative workers")
	}
}
