package domain

import (
	"fmt"
	"strings"
	"time"
)

// CheckStatus is the lifecycle state of a dead man's switch check.
type CheckStatus string

const (
	CheckStatusNew  CheckStatus = "new"
	CheckStatusUp   CheckStatus = "up"
	CheckStatusDown CheckStatus = "down"
)

// ScheduleType selects between a fixed preset interval and a cron expression.
type ScheduleType string

const (
	SchedulePreset ScheduleType = "preset"
	ScheduleCron   ScheduleType = "cron"
)

// Schedule describes when a check is expected to ping.
type Schedule struct {
	Type     ScheduleType `json:"type"`
	Preset   string       `json:"preset,omitempty"`
	CronExpr string       `json:"cron_expr,omitempty"`
	Timezone string       `json:"timezone,omitempty"`
}

// Check is a dead man's switch monitor awaiting periodic pings.
//
// Status starts at "new" and never returns there: the first ping moves it to
// "up", and thereafter it toggles between "up" and "down" only.
type Check struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"owner_id"`
	Name           string      `json:"name"`
	Slug           string      `json:"slug"`
	Schedule       Schedule    `json:"schedule"`
	GracePeriodMin int         `json:"grace_period_min"`
	Status         CheckStatus `json:"status"`
	LastPingAt     *time.Time  `json:"last_ping_at,omitempty"`
	LastDurationMs *int64      `json:"last_duration_ms,omitempty"`
	Paused         bool        `json:"paused"`
	Tags           []string    `json:"tags,omitempty"`
	WebhookURL     string      `json:"webhook_url,omitempty"`
	MaxDurationSec *int        `json:"max_duration_sec,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Validate checks the fields that do not require schedule parsing.
// Cron expressions and timezones are validated by the schedule package.
func (c Check) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("check: name is required")
	}
	if c.Slug == "" {
		return fmt.Errorf("check %q: slug is required", c.Name)
	}
	if strings.ContainsAny(c.Slug, "/ ") {
		return fmt.Errorf("check %q: slug must not contain slashes or spaces", c.Name)
	}
	if c.GracePeriodMin < 0 || c.GracePeriodMin > 60 {
		return fmt.Errorf("check %q: grace period must be 0-60 minutes, got %d", c.Name, c.GracePeriodMin)
	}
	switch c.Schedule.Type {
	case SchedulePreset:
		if c.Schedule.Preset == "" {
			return fmt.Errorf("check %q: preset schedule requires a preset value", c.Name)
		}
	case ScheduleCron:
		if c.Schedule.CronExpr == "" {
			return fmt.Errorf("check %q: cron schedule requires an expression", c.Name)
		}
	default:
		return fmt.Errorf("check %q: invalid schedule type %q (must be preset or cron)", c.Name, c.Schedule.Type)
	}
	if c.MaxDurationSec != nil && *c.MaxDurationSec <= 0 {
		return fmt.Errorf("check %q: max duration must be positive", c.Name)
	}
	return nil
}

// PingKind distinguishes completion pings from start and explicit-failure
// signals.
type PingKind string

const (
	PingRun   PingKind = "run"
	PingStart PingKind = "start"
	PingFail  PingKind = "fail"
)

// MaxPingOutputBytes caps the stored output of a single ping.
const MaxPingOutputBytes = 10 * 1024

// Ping is one inbound signal that a scheduled job ran. Append-only.
type Ping struct {
	ID         string    `json:"id"`
	CheckID    string    `json:"check_id"`
	Timestamp  time.Time `json:"timestamp"`
	SourceIP   string    `json:"source_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Output     string    `json:"output,omitempty"`
	Kind       PingKind  `json:"kind"`
}

// Failed reports whether the ping carries an explicit failure signal,
// which overrides any timing-based inference.
func (p Ping) Failed() bool {
	if p.Kind == PingFail {
		return true
	}
	return p.ExitCode != nil && *p.ExitCode != 0
}

// TruncateOutput trims ping output to MaxPingOutputBytes.
func TruncateOutput(s string) string {
	if len(s) <= MaxPingOutputBytes {
		return s
	}
	return s[:MaxPingOutputBytes]
}
