// Package engine applies state-machine decisions for checks and monitors and
// runs the periodic sweep that evaluates them. All persistence goes through a
// single transactional save per entity so a decision is either fully recorded
// or not at all.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pilgrim-12/cronowl-sub001/internal/alert"
	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
	"github.com/pilgrim-12/cronowl-sub001/internal/schedule"
)

// CheckStore is the storage surface the check state machine needs.
// TransitionCheckDown must apply only while the stored row still matches the
// given snapshot, reporting false when a concurrent write invalidated it.
type CheckStore interface {
	SaveCheckState(ctx context.Context, c domain.Check, event *domain.StatusEvent, ping *domain.Ping) error
	TransitionCheckDown(ctx context.Context, c domain.Check, now time.Time, event *domain.StatusEvent) (bool, error)
	LatestStartPing(ctx context.Context, checkID string) (*domain.Ping, error)
	LatestStatusEvent(ctx context.Context, kind domain.EntityKind, entityID string) (*domain.StatusEvent, error)
}

// Notifier receives status-change events for delivery.
type Notifier interface {
	Notify(event alert.Event)
}

// CheckMachine owns every status transition of dead man's switch checks.
type CheckMachine struct {
	store  CheckStore
	alerts Notifier
	logger *slog.Logger
}

// NewCheckMachine creates a CheckMachine. Pass nil logger to use the default
// logger.
func NewCheckMachine(store CheckStore, alerts Notifier, logger *slog.Logger) *CheckMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckMachine{store: store, alerts: alerts, logger: logger}
}

// OnPing applies one inbound ping to the check and persists the outcome.
// It returns the updated check.
//
// A start ping is recorded but changes nothing else: it is not a liveness
// baseline. A run or fail ping always refreshes the baseline; an explicit
// failure signal (fail kind or nonzero exit code) forces the check down
// regardless of timing, and a run exceeding the configured max duration is
// treated the same way.
func (cm *CheckMachine) OnPing(ctx context.Context, c domain.Check, p domain.Ping) (domain.Check, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	p.CheckID = c.ID
	p.Output = domain.TruncateOutput(p.Output)

	if p.Kind == domain.PingStart {
		if err := cm.store.SaveCheckState(ctx, c, nil, &p); err != nil {
			return c, fmt.Errorf("recording start ping for check %q: %w", c.ID, err)
		}
		return c, nil
	}

	cm.deriveDuration(ctx, c, &p)

	next := domain.CheckStatusUp
	detail := map[string]string{"reason": "ping received"}
	if p.Failed() {
		next = domain.CheckStatusDown
		detail["reason"] = "explicit failure signal"
		if p.ExitCode != nil {
			detail["exit_code"] = fmt.Sprintf("%d", *p.ExitCode)
		}
	} else if c.MaxDurationSec != nil && p.DurationMs != nil && *p.DurationMs > int64(*c.MaxDurationSec)*1000 {
		next = domain.CheckStatusDown
		detail["reason"] = fmt.Sprintf("run took %dms, limit %ds", *p.DurationMs, *c.MaxDurationSec)
	}

	prev := c.Status
	now := p.Timestamp
	c.Status = next
	c.LastPingAt = &now
	c.LastDurationMs = p.DurationMs
	c.UpdatedAt = now

	var event *domain.StatusEvent
	if next != prev {
		event = cm.statusEvent(ctx, c.ID, string(next), now)
	}

	if err := cm.store.SaveCheckState(ctx, c, event, &p); err != nil {
		return c, fmt.Errorf("saving ping for check %q: %w", c.ID, err)
	}

	switch {
	case next == domain.CheckStatusDown && prev != domain.CheckStatusDown:
		cm.alerts.Notify(cm.event(alert.CheckDown, c, now, detail))
	case next == domain.CheckStatusUp && prev == domain.CheckStatusDown:
		cm.alerts.Notify(cm.event(alert.CheckUp, c, now, detail))
	}
	return c, nil
}

// deriveDuration fills in a completion ping's duration from the most recent
// start ping when the sender did not report one. Only a start newer than the
// last completion counts; an older one belongs to a previous run.
func (cm *CheckMachine) deriveDuration(ctx context.Context, c domain.Check, p *domain.Ping) {
	if p.DurationMs != nil {
		return
	}
	start, err := cm.store.LatestStartPing(ctx, c.ID)
	if err != nil {
		cm.logger.Warn("loading start ping", "check", c.ID, "error", err)
		return
	}
	if start == nil || (c.LastPingAt != nil && !start.Timestamp.After(*c.LastPingAt)) {
		return
	}
	if dur := p.Timestamp.Sub(start.Timestamp).Milliseconds(); dur >= 0 {
		p.DurationMs = &dur
	}
}

// OnSweep evaluates one check against the clock and marks it down when
// overdue. It is idempotent: a check already down, or not overdue, is left
// untouched and nothing is written. The down transition is guarded by the
// snapshot the decision was made from, so a ping that lands between listing
// and saving keeps its fresh baseline and the transition is dropped. The
// returned bool reports whether a transition happened.
func (cm *CheckMachine) OnSweep(ctx context.Context, c domain.Check, now time.Time) (bool, error) {
	overdue, schedErr := schedule.IsOverdue(c, now)
	if schedErr != nil {
		cm.logger.Warn("check schedule misconfigured, evaluated with default interval",
			"check", c.ID, "error", schedErr)
	}
	if !overdue || c.Status == domain.CheckStatusDown {
		return false, nil
	}

	event := cm.statusEvent(ctx, c.ID, string(domain.CheckStatusDown), now)
	applied, err := cm.store.TransitionCheckDown(ctx, c, now, event)
	if err != nil {
		return false, fmt.Errorf("marking check %q down: %w", c.ID, err)
	}
	if !applied {
		cm.logger.Info("check changed since listing, down transition dropped", "check", c.ID)
		return false, nil
	}

	c.Status = domain.CheckStatusDown
	c.UpdatedAt = now

	detail := map[string]string{"reason": "no ping received within expected interval plus grace"}
	if c.LastPingAt != nil {
		detail["last_ping_at"] = c.LastPingAt.UTC().Format(time.RFC3339)
	}
	cm.alerts.Notify(cm.event(alert.CheckDown, c, now, detail))
	return true, nil
}

func (cm *CheckMachine) event(kind alert.Kind, c domain.Check, now time.Time, detail map[string]string) alert.Event {
	return alert.Event{
		Kind:          kind,
		EntityID:      c.ID,
		EntityName:    c.Name,
		OwnerID:       c.OwnerID,
		Detail:        detail,
		OccurredAt:    now,
		EntityWebhook: c.WebhookURL,
	}
}

func (cm *CheckMachine) statusEvent(ctx context.Context, checkID, status string, now time.Time) *domain.StatusEvent {
	e := &domain.StatusEvent{
		ID:         uuid.NewString(),
		EntityKind: domain.EntityCheck,
		EntityID:   checkID,
		Status:     status,
		Timestamp:  now,
	}
	last, err := cm.store.LatestStatusEvent(ctx, domain.EntityCheck, checkID)
	if err != nil {
		cm.logger.Warn("loading previous status event", "check", checkID, "error", err)
		return e
	}
	if last != nil {
		dur := now.Sub(last.Timestamp).Milliseconds()
		e.PrevStatusDurMs = &dur
	}
	return e
}
