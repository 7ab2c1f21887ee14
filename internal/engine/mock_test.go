package engine_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilgrim-12/cronowl-sub001/internal/alert"
	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
)

type savedCheckState struct {
	check domain.Check
	event *domain.StatusEvent
	ping  *domain.Ping
}

type savedMonitorState struct {
	monitor domain.HttpMonitor
	event   *domain.StatusEvent
	mc      *domain.MonitorCheck
}

// mockStore satisfies the engine's storage interfaces in memory. Saves are
// folded back into the entity lists so repeated sweeps observe prior
// transitions.
type mockStore struct {
	mu            sync.Mutex
	checks        []domain.Check
	monitors      []domain.HttpMonitor
	checkSaves    []savedCheckState
	monitorSaves  []savedMonitorState
	latestEvents  map[string]*domain.StatusEvent
	uptimePct     *float64
	avgRespTimeMs *float64
	saveErr       error
}

func newMockStore() *mockStore {
	return &mockStore{latestEvents: make(map[string]*domain.StatusEvent)}
}

func eventKey(kind domain.EntityKind, id string) string {
	return string(kind) + "|" + id
}

func (s *mockStore) SaveCheckState(_ context.Context, c domain.Check, event *domain.StatusEvent, ping *domain.Ping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.checkSaves = append(s.checkSaves, savedCheckState{check: c, event: event, ping: ping})
	if event != nil {
		s.latestEvents[eventKey(domain.EntityCheck, c.ID)] = event
	}
	for i := range s.checks {
		if s.checks[i].ID == c.ID {
			s.checks[i] = c
		}
	}
	return nil
}

// TransitionCheckDown mirrors the real store's guard: the transition applies
// only while the tracked check still matches the snapshot. A check never
// registered in the list is treated as matching.
func (s *mockStore) TransitionCheckDown(_ context.Context, c domain.Check, now time.Time, event *domain.StatusEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return false, s.saveErr
	}
	down := c
	down.Status = domain.CheckStatusDown
	down.UpdatedAt = now
	for i := range s.checks {
		if s.checks[i].ID != c.ID {
			continue
		}
		cur := s.checks[i]
		if cur.Status != c.Status || !timePtrEqual(cur.LastPingAt, c.LastPingAt) {
			return false, nil
		}
		down.LastPingAt = cur.LastPingAt
		down.LastDurationMs = cur.LastDurationMs
		s.checks[i] = down
		s.recordCheckSave(down, event)
		return true, nil
	}
	s.checks = append(s.checks, down)
	s.recordCheckSave(down, event)
	return true, nil
}

func (s *mockStore) recordCheckSave(c domain.Check, event *domain.StatusEvent) {
	s.checkSaves = append(s.checkSaves, savedCheckState{check: c, event: event})
	if event != nil {
		s.latestEvents[eventKey(domain.EntityCheck, c.ID)] = event
	}
}

func (s *mockStore) LatestStartPing(_ context.Context, checkID string) (*domain.Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *domain.Ping
	for _, save := range s.checkSaves {
		p := save.ping
		if p == nil || p.CheckID != checkID || p.Kind != domain.PingStart {
			continue
		}
		if latest == nil || p.Timestamp.After(latest.Timestamp) {
			cp := *p
			latest = &cp
		}
	}
	return latest, nil
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (s *mockStore) SaveMonitorState(_ context.Context, m domain.HttpMonitor, event *domain.StatusEvent, mc *domain.MonitorCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.monitorSaves = append(s.monitorSaves, savedMonitorState{monitor: m, event: event, mc: mc})
	if event != nil {
		s.latestEvents[eventKey(domain.EntityMonitor, m.ID)] = event
	}
	for i := range s.monitors {
		if s.monitors[i].ID == m.ID {
			s.monitors[i] = m
		}
	}
	return nil
}

func (s *mockStore) LatestStatusEvent(_ context.Context, kind domain.EntityKind, entityID string) (*domain.StatusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestEvents[eventKey(kind, entityID)], nil
}

func (s *mockStore) MonitorWindowStats(_ context.Context, _ string, _ time.Time) (*float64, *float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uptimePct, s.avgRespTimeMs, nil
}

func (s *mockStore) ListActiveChecks(_ context.Context) ([]domain.Check, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []domain.Check
	for _, c := range s.checks {
		if !c.Paused {
			active = append(active, c)
		}
	}
	return active, nil
}

func (s *mockStore) DueMonitors(_ context.Context, now time.Time) ([]domain.HttpMonitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.HttpMonitor
	for _, m := range s.monitors {
		if m.Due(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

func (s *mockStore) checkSaveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.checkSaves)
}

func (s *mockStore) lastCheckSave() savedCheckState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkSaves[len(s.checkSaves)-1]
}

func (s *mockStore) lastMonitorSave() savedMonitorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitorSaves[len(s.monitorSaves)-1]
}

// mockNotifier records dispatched events.
type mockNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *mockNotifier) Notify(event alert.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *mockNotifier) sent() []alert.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert.Event(nil), n.events...)
}

func (n *mockNotifier) kinds() []alert.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []alert.Kind
	for _, e := range n.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// mockProber returns scripted results, or runs fn when set.
type mockProber struct {
	mu      sync.Mutex
	results []domain.ProbeResult
	err     error
	fn      func(ctx context.Context, m domain.HttpMonitor) (domain.ProbeResult, error)
	calls   int
}

func (p *mockProber) Execute(ctx context.Context, m domain.HttpMonitor) (domain.ProbeResult, error) {
	p.mu.Lock()
	p.calls++
	fn := p.fn
	var result domain.ProbeResult
	if len(p.results) > 0 {
		result = p.results[0]
		if len(p.results) > 1 {
			p.results = p.results[1:]
		}
	}
	err := p.err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, m)
	}
	return result, err
}

func testCheck(status domain.CheckStatus, lastPingAgo time.Duration) domain.Check {
	now := time.Now().UTC()
	c := domain.Check{
		ID:      uuid.NewString(),
		OwnerID: "owner-1",
		Name:    "nightly-backup",
		Slug:    "nightly-backup",
		Schedule: domain.Schedule{
			Type:   domain.SchedulePreset,
			Preset: "5m",
		},
		GracePeriodMin: 2,
		Status:         status,
		CreatedAt:      now.Add(-time.Hour),
		UpdatedAt:      now.Add(-time.Hour),
	}
	if lastPingAgo > 0 {
		last := now.Add(-lastPingAgo)
		c.LastPingAt = &last
	}
	return c
}

func testMonitor(status domain.MonitorStatus, failures, threshold int) domain.HttpMonitor {
	now := time.Now().UTC()
	return domain.HttpMonitor{
		ID:                  uuid.NewString(),
		OwnerID:             "owner-1",
		Name:                "api-health",
		URL:                 "https://example.com/health",
		Method:              "GET",
		ExpectedStatusCodes: []int{200},
		TimeoutMs:           5000,
		IntervalSec:         60,
		AlertAfterFailures:  threshold,
		ConsecutiveFailures: failures,
		Status:              status,
		Enabled:             true,
		CreatedAt:           now.Add(-time.Hour),
		UpdatedAt:           now.Add(-time.Hour),
	}
}
