package domain

import (
	"fmt"
	"time"
)

// MonitorStatus is the lifecycle state of an HTTP monitor.
type MonitorStatus string

const (
	MonitorStatusPending  MonitorStatus = "pending"
	MonitorStatusUp       MonitorStatus = "up"
	MonitorStatusDegraded MonitorStatus = "degraded"
	MonitorStatusDown     MonitorStatus = "down"
)

// Monitor timeout bounds in milliseconds.
const (
	MinTimeoutMs = 1000
	MaxTimeoutMs = 30000
)

// Assertions are the optional response checks applied after a successful
// request. Substring matches are case-sensitive.
type Assertions struct {
	MaxResponseTimeMs *int   `json:"max_response_time_ms,omitempty"`
	BodyContains      string `json:"body_contains,omitempty"`
	BodyNotContains   string `json:"body_not_contains,omitempty"`
}

// HttpMonitor is an actively polled endpoint health check.
//
// Status becomes "down" only once ConsecutiveFailures reaches
// AlertAfterFailures; failures below the threshold degrade a previously
// healthy monitor without alerting.
type HttpMonitor struct {
	ID                  string            `json:"id"`
	OwnerID             string            `json:"owner_id"`
	Name                string            `json:"name"`
	URL                 string            `json:"url"`
	Method              string            `json:"method"`
	ExpectedStatusCodes []int             `json:"expected_status_codes"`
	TimeoutMs           int               `json:"timeout_ms"`
	IntervalSec         int               `json:"interval_sec"`
	Headers             map[string]string `json:"headers,omitempty"`
	Body                string            `json:"body,omitempty"`
	ContentType         string            `json:"content_type,omitempty"`
	Assertions          Assertions        `json:"assertions"`
	AlertAfterFailures  int               `json:"alert_after_failures"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Status              MonitorStatus     `json:"status"`
	LastCheckedAt       *time.Time        `json:"last_checked_at,omitempty"`
	LastResponseTimeMs  *int64            `json:"last_response_time_ms,omitempty"`
	LastStatusCode      *int              `json:"last_status_code,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	UptimePercent24h    *float64          `json:"uptime_percent_24h,omitempty"`
	AvgResponseTime24h  *float64          `json:"avg_response_time_24h,omitempty"`
	Enabled             bool              `json:"enabled"`
	WebhookURL          string            `json:"webhook_url,omitempty"`
	Tags                []string          `json:"tags,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

var validMethods = map[string]bool{
	"GET":  true,
	"HEAD": true,
	"POST": true,
	"PUT":  true,
}

// Validate rejects configuration errors before they reach the scheduler.
// minIntervalSec is the plan-level lower bound on polling frequency.
// URL reachability and SSRF classification belong to the probe package.
func (m HttpMonitor) Validate(minIntervalSec int) error {
	if m.Name == "" {
		return fmt.Errorf("monitor: name is required")
	}
	if m.URL == "" {
		return fmt.Errorf("monitor %q: url is required", m.Name)
	}
	if !validMethods[m.Method] {
		return fmt.Errorf("monitor %q: invalid method %q (must be GET, HEAD, POST, or PUT)", m.Name, m.Method)
	}
	if len(m.ExpectedStatusCodes) == 0 {
		return fmt.Errorf("monitor %q: at least one expected status code is required", m.Name)
	}
	for _, code := range m.ExpectedStatusCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("monitor %q: invalid status code %d (must be 100-599)", m.Name, code)
		}
	}
	if m.TimeoutMs < MinTimeoutMs || m.TimeoutMs > MaxTimeoutMs {
		return fmt.Errorf("monitor %q: timeout must be %d-%dms, got %d", m.Name, MinTimeoutMs, MaxTimeoutMs, m.TimeoutMs)
	}
	if m.IntervalSec < minIntervalSec {
		return fmt.Errorf("monitor %q: interval must be at least %ds, got %d", m.Name, minIntervalSec, m.IntervalSec)
	}
	if m.AlertAfterFailures < 1 || m.AlertAfterFailures > 10 {
		return fmt.Errorf("monitor %q: alert_after_failures must be 1-10, got %d", m.Name, m.AlertAfterFailures)
	}
	if m.Assertions.MaxResponseTimeMs != nil && *m.Assertions.MaxResponseTimeMs <= 0 {
		return fmt.Errorf("monitor %q: max_response_time_ms must be positive", m.Name)
	}
	return nil
}

// ExpectsStatus reports whether code is in the monitor's expected set.
func (m HttpMonitor) ExpectsStatus(code int) bool {
	for _, c := range m.ExpectedStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Due reports whether the monitor should be probed at now.
func (m HttpMonitor) Due(now time.Time) bool {
	if !m.Enabled {
		return false
	}
	if m.LastCheckedAt == nil {
		return true
	}
	return !now.Before(m.LastCheckedAt.Add(time.Duration(m.IntervalSec) * time.Second))
}

// MonitorCheck is one stored probe result. Append-only.
type MonitorCheck struct {
	ID             string    `json:"id"`
	MonitorID      string    `json:"monitor_id"`
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
	BodySnippet    string    `json:"body_snippet,omitempty"`
}

// ProbeResult is the outcome of a single HTTP probe.
type ProbeResult struct {
	Success         bool   `json:"success"`
	StatusCode      int    `json:"status_code,omitempty"`
	ResponseTimeMs  int64  `json:"response_time_ms"`
	Error           string `json:"error,omitempty"`
	BodySnippet     string `json:"body_snippet,omitempty"`
	FailedAssertion string `json:"failed_assertion,omitempty"`
}
