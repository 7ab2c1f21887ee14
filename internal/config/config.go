package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from a YAML string like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SweepConfig drives the periodic evaluation tick.
type SweepConfig struct {
	Interval Duration `yaml:"interval"`
	Deadline Duration `yaml:"deadline"`
	Workers  int      `yaml:"workers"`
}

// WebhookConfig holds the global alert webhook settings.
type WebhookConfig struct {
	URL      string   `yaml:"url"`
	Cooldown Duration `yaml:"cooldown"`
}

// AlertsConfig holds all alert configuration.
type AlertsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// ProbesConfig holds probe executor settings.
type ProbesConfig struct {
	AllowPrivateTargets bool `yaml:"allow_private_targets"`
}

// SecretsConfig holds the sensitive-value encryption key (hex, 32 bytes).
type SecretsConfig struct {
	Key string `yaml:"key"`
}

// LimitsConfig holds plan-style bounds applied at create time and to inbound
// traffic.
type LimitsConfig struct {
	MinMonitorIntervalSec int      `yaml:"min_monitor_interval_sec"`
	PingRatePerMinute     int      `yaml:"ping_rate_per_minute"`
	Retention             Duration `yaml:"retention"`
	MaxChecksPerOwner     int      `yaml:"max_checks_per_owner"`
	MaxMonitorsPerOwner   int      `yaml:"max_monitors_per_owner"`
}

// Config is the root application configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Probes  ProbesConfig  `yaml:"probes"`
	Secrets SecretsConfig `yaml:"secrets"`
	Limits  LimitsConfig  `yaml:"limits"`
}

const maxSweepWorkers = 50

// Load reads, parses, validates, and defaults the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if cfg.Sweep.Workers < 1 || cfg.Sweep.Workers > maxSweepWorkers {
		return nil, fmt.Errorf("sweep.workers must be 1-%d, got %d", maxSweepWorkers, cfg.Sweep.Workers)
	}
	if cfg.Sweep.Interval.Duration < time.Second {
		return nil, fmt.Errorf("sweep.interval must be at least 1s, got %s", cfg.Sweep.Interval.Duration)
	}
	if cfg.Sweep.Deadline.Duration < time.Second {
		return nil, fmt.Errorf("sweep.deadline must be at least 1s, got %s", cfg.Sweep.Deadline.Duration)
	}
	if cfg.Limits.MinMonitorIntervalSec < 1 {
		return nil, fmt.Errorf("limits.min_monitor_interval_sec must be positive, got %d", cfg.Limits.MinMonitorIntervalSec)
	}
	if cfg.Limits.PingRatePerMinute < 1 {
		return nil, fmt.Errorf("limits.ping_rate_per_minute must be positive, got %d", cfg.Limits.PingRatePerMinute)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "cronowl.db"
	}
	if cfg.Sweep.Interval.Duration == 0 {
		cfg.Sweep.Interval = Duration{time.Minute}
	}
	if cfg.Sweep.Deadline.Duration == 0 {
		cfg.Sweep.Deadline = Duration{55 * time.Second}
	}
	if cfg.Sweep.Workers == 0 {
		cfg.Sweep.Workers = 16
	}
	if cfg.Alerts.Webhook.Cooldown.Duration == 0 {
		cfg.Alerts.Webhook.Cooldown = Duration{5 * time.Minute}
	}
	if cfg.Limits.MinMonitorIntervalSec == 0 {
		cfg.Limits.MinMonitorIntervalSec = 30
	}
	if cfg.Limits.PingRatePerMinute == 0 {
		cfg.Limits.PingRatePerMinute = 60
	}
	if cfg.Limits.Retention.Duration == 0 {
		cfg.Limits.Retention = Duration{30 * 24 * time.Hour}
	}
	if cfg.Limits.MaxChecksPerOwner == 0 {
		cfg.Limits.MaxChecksPerOwner = 100
	}
	if cfg.Limits.MaxMonitorsPerOwner == 0 {
		cfg.Limits.MaxMonitorsPerOwner = 100
	}
}
