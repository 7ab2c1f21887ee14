package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilgrim-12/cronowl-sub001/internal/alert"
	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
)

// MonitorStore is the storage surface the monitor state machine needs.
type MonitorStore interface {
	SaveMonitorState(ctx context.Context, m domain.HttpMonitor, event *domain.StatusEvent, mc *domain.MonitorCheck) error
	LatestStatusEvent(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.StatusEvent, error)
	MonitorWindowStats(ctx context.Context, monitorID string, since time.Time) (uptimePct, avgMs *float64, err error)
}

// Prober executes a single HTTP probe.
type Prober interface {
	Execute(ctx context.Context, m domain.HttpMonitor) (domain.ProbeResult, error)
}

// MonitorMachine owns every status transition of HTTP monitors.
//
// A down status is sticky: further failures keep incrementing the counter but
// write no events and raise no alerts. The down alert fires exactly once, on
// the probe that reaches the failure threshold.
type MonitorMachine struct {
	store  MonitorStore
	probes Prober
	alerts Notifier
	logger *slog.Logger
}

// NewMonitorMachine creates a MonitorMachine. Pass nil logger to use the
// default logger.
func NewMonitorMachine(store MonitorStore, probes Prober, alerts Notifier, logger *slog.Logger) *MonitorMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorMachine{store: store, probes: probes, alerts: alerts, logger: logger}
}

// Probe runs one probe against the monitor and applies the result. A target
// that fails validation is recorded as a failed probe rather than dropped, so
// a misconfigured monitor still degrades and eventually goes down.
func (mm *MonitorMachine) Probe(ctx context.Context, m domain.HttpMonitor, now time.Time) (domain.HttpMonitor, error) {
	result, err := mm.probes.Execute(ctx, m)
	if err != nil {
		result = domain.ProbeResult{Error: err.Error()}
	}
	return mm.Apply(ctx, m, result, now)
}

// Apply folds one probe result into the monitor's state and persists the
// updated monitor, the probe record, and any status event in one transaction.
// The returned monitor carries refreshed 24h rollups.
func (mm *MonitorMachine) Apply(ctx context.Context, m domain.HttpMonitor, result domain.ProbeResult, now time.Time) (domain.HttpMonitor, error) {
	prev := m.Status

	if result.Success {
		m.ConsecutiveFailures = 0
		m.Status = domain.MonitorStatusUp
	} else {
		m.ConsecutiveFailures++
		switch {
		case prev == domain.MonitorStatusDown:
			// Sticky: the counter keeps the outage depth, nothing else moves.
		case m.ConsecutiveFailures >= m.AlertAfterFailures:
			m.Status = domain.MonitorStatusDown
		default:
			m.Status = domain.MonitorStatusDegraded
		}
	}

	m.LastCheckedAt = &now
	rt := result.ResponseTimeMs
	m.LastResponseTimeMs = &rt
	m.LastStatusCode = nil
	if result.StatusCode != 0 {
		code := result.StatusCode
		m.LastStatusCode = &code
	}
	m.LastError = result.Error
	m.UpdatedAt = now

	mc := &domain.MonitorCheck{
		ID:             uuid.NewString(),
		MonitorID:      m.ID,
		Timestamp:      now,
		Success:        result.Success,
		StatusCode:     result.StatusCode,
		ResponseTimeMs: result.ResponseTimeMs,
		Error:          result.Error,
		BodySnippet:    result.BodySnippet,
	}

	var event *domain.StatusEvent
	if m.Status != prev {
		event = mm.statusEvent(ctx, m.ID, string(m.Status), now)
	}

	if err := mm.store.SaveMonitorState(ctx, m, event, mc); err != nil {
		return m, fmt.Errorf("saving probe result for monitor %q: %w", m.ID, err)
	}

	if m.Status != prev {
		switch m.Status {
		case domain.MonitorStatusDown:
			mm.alerts.Notify(mm.event(alert.MonitorDown, m, now, result))
		case domain.MonitorStatusUp:
			if prev == domain.MonitorStatusDown {
				mm.alerts.Notify(mm.event(alert.MonitorUp, m, now, result))
			}
		}
	}

	pct, avg, err := mm.store.MonitorWindowStats(ctx, m.ID, now.Add(-24*time.Hour))
	if err != nil {
		mm.logger.Warn("computing monitor rollups", "monitor", m.ID, "error", err)
	} else {
		m.UptimePercent24h = pct
		m.AvgResponseTime24h = avg
	}
	return m, nil
}

func (mm *MonitorMachine) event(kind alert.Kind, m domain.HttpMonitor, now time.Time, result domain.ProbeResult) alert.Event {
	detail := map[string]string{}
	if result.Error != "" {
		detail["error"] = result.Error
	}
	if result.FailedAssertion != "" {
		detail["failed_assertion"] = result.FailedAssertion
	}
	if kind == alert.MonitorDown {
		detail["consecutive_failures"] = fmt.Sprintf("%d", m.ConsecutiveFailures)
	}
	return alert.Event{
		Kind:          kind,
		EntityID:      m.ID,
		EntityName:    m.Name,
		OwnerID:       m.OwnerID,
		Detail:        detail,
		OccurredAt:    now,
		EntityWebhook: m.WebhookURL,
	}
}

func (mm *MonitorMachine) statusEvent(ctx context.Context, monitorID, status string, now time.Time) *domain.StatusEvent {
	e := &domain.StatusEvent{
		ID:         uuid.NewString(),
		EntityKind: domain.EntityMonitor,
		EntityID:   monitorID,
		Status:     status,
		Timestamp:  now,
	}
	last, err := mm.store.LatestStatusEvent(ctx, domain.EntityMonitor, monitorID)
	if err != nil {
		mm.logger.Warn("loading previous status event", "monitor", monitorID, "error", err)
		return e
	}
	if last != nil {
		dur := now.Sub(last.Timestamp).Milliseconds()
		e.PrevStatusDurMs = &dur
	}
	return e
}
