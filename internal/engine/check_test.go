package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pilgrim-12/cronowl-sub001/internal/alert"
	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
	"github.com/pilgrim-12/cronowl-sub001/internal/engine"
)

func newCheckMachine(t *testing.T) (*engine.CheckMachine, *mockStore, *mockNotifier) {
	t.Helper()
	store := newMockStore()
	alerts := &mockNotifier{}
	return engine.NewCheckMachine(store, alerts, nil), store, alerts
}

func runPing(kind domain.PingKind) domain.Ping {
	return domain.Ping{
		Timestamp: time.Now().UTC(),
		SourceIP:  "203.0.113.9",
		Kind:      kind,
	}
}

func TestOnPing_FirstPingMovesNewToUp(t *testing.T) {
	cm, store, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusNew, 0)

	got, err := cm.OnPing(context.Background(), c, runPing(domain.PingRun))
	if err != nil {
		t.Fatalf("OnPing: %v", err)
	}
	if got.Status != domain.CheckStatusUp {
		t.Errorf("status: got %q, want up", got.Status)
	}
	if got.LastPingAt == nil {
		t.Fatal("expected ping baseline to be set")
	}

	saved := store.lastCheckSave()
	if saved.event == nil || saved.event.Status != "up" {
		t.Errorf("expected an up status event, got %+v", saved.event)
	}
	if saved.ping == nil || saved.ping.ID == "" {
		t.Error("expected ping to be persisted with an id")
	}
	if len(alerts.sent()) != 0 {
		t.Errorf("first ping must not alert, got %v", alerts.kinds())
	}
}

func TestOnPing_RepeatUpWritesNoEvent(t *testing.T) {
	cm, store, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, 3*time.Minute)

	if _, err := cm.OnPing(context.Background(), c, runPing(domain.PingRun)); err != nil {
		t.Fatal(err)
	}
	saved := store.lastCheckSave()
	if saved.event != nil {
		t.Errorf("unchanged status must not produce an event, got %+v", saved.event)
	}
	if saved.ping == nil {
		t.Error("ping must still be persisted")
	}
	if len(alerts.sent()) != 0 {
		t.Errorf("unexpected alerts: %v", alerts.kinds())
	}
}

func TestOnPing_FailSignalForcesDown(t *testing.T) {
	cm, store, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, time.Minute)

	got, err := cm.OnPing(context.Background(), c, runPing(domain.PingFail))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.CheckStatusDown {
		t.Errorf("status: got %q, want down", got.Status)
	}
	if got.LastPingAt == nil {
		t.Error("a fail ping still refreshes the baseline")
	}

	saved := store.lastCheckSave()
	if saved.event == nil || saved.event.Status != "down" {
		t.Errorf("expected a down event, got %+v", saved.event)
	}
	kinds := alerts.kinds()
	if len(kinds) != 1 || kinds[0] != alert.CheckDown {
		t.Errorf("expected one check.down alert, got %v", kinds)
	}
}

func TestOnPing_NonzeroExitCodeForcesDown(t *testing.T) {
	cm, _, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, time.Minute)

	exit := 2
	p := runPing(domain.PingRun)
	p.ExitCode = &exit

	got, err := cm.OnPing(context.Background(), c, p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.CheckStatusDown {
		t.Errorf("status: got %q, want down", got.Status)
	}
	events := alerts.sent()
	if len(events) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(events))
	}
	if events[0].Detail["exit_code"] != "2" {
		t.Errorf("expected exit code in alert detail, got %v", events[0].Detail)
	}
}

func TestOnPing_RecoveryAlertsCheckUp(t *testing.T) {
	cm, _, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusDown, time.Hour)

	got, err := cm.OnPing(context.Background(), c, runPing(domain.PingRun))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.CheckStatusUp {
		t.Errorf("status: got %q, want up", got.Status)
	}
	kinds := alerts.kinds()
	if len(kinds) != 1 || kinds[0] != alert.CheckUp {
		t.Errorf("expected one check.up alert, got %v", kinds)
	}
}

func TestOnPing_StartPingIsInformational(t *testing.T) {
	cm, store, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, 3*time.Minute)
	baseline := *c.LastPingAt

	got, err := cm.OnPing(context.Background(), c, runPing(domain.PingStart))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.CheckStatusUp {
		t.Errorf("start ping must not change status, got %q", got.Status)
	}
	if !got.LastPingAt.Equal(baseline) {
		t.Error("start ping must not move the liveness baseline")
	}

	saved := store.lastCheckSave()
	if saved.event != nil {
		t.Error("start ping must not produce a status event")
	}
	if saved.ping == nil || saved.ping.Kind != domain.PingStart {
		t.Errorf("start ping must still be recorded, got %+v", saved.ping)
	}
	if len(alerts.sent()) != 0 {
		t.Errorf("unexpected alerts: %v", alerts.kinds())
	}
}

func TestOnPing_DerivesDurationFromStartPing(t *testing.T) {
	cm, store, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, 10*time.Minute)

	start := runPing(domain.PingStart)
	start.Timestamp = time.Now().UTC().Add(-30 * time.Second)
	if _, err := cm.OnPing(context.Background(), c, start); err != nil {
		t.Fatal(err)
	}

	got, err := cm.OnPing(context.Background(), c, runPing(domain.PingRun))
	if err != nil {
		t.Fatal(err)
	}
	if got.LastDurationMs == nil {
		t.Fatal("expected duration derived from the start ping")
	}
	if *got.LastDurationMs < 29000 || *got.LastDurationMs > 31000 {
		t.Errorf("derived duration: got %dms, want ~30000ms", *got.LastDurationMs)
	}
	if saved := store.lastCheckSave(); saved.ping.DurationMs == nil {
		t.Error("derived duration must be persisted on the ping")
	}
}

func TestOnPing_StartFromPreviousRunIgnored(t *testing.T) {
	cm, _, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, 10*time.Minute)

	// The start predates the last completion, so it belongs to an earlier
	// run and must not produce a duration.
	start := runPing(domain.PingStart)
	start.Timestamp = time.Now().UTC().Add(-20 * time.Minute)
	if _, err := cm.OnPing(context.Background(), c, start); err != nil {
		t.Fatal(err)
	}

	got, err := cm.OnPing(context.Background(), c, runPing(domain.PingRun))
	if err != nil {
		t.Fatal(err)
	}
	if got.LastDurationMs != nil {
		t.Errorf("stale start must not yield a duration, got %d", *got.LastDurationMs)
	}
}

func TestOnPing_ExplicitDurationWins(t *testing.T) {
	cm, _, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, 10*time.Minute)

	start := runPing(domain.PingStart)
	start.Timestamp = time.Now().UTC().Add(-30 * time.Second)
	if _, err := cm.OnPing(context.Background(), c, start); err != nil {
		t.Fatal(err)
	}

	reported := int64(5)
	p := runPing(domain.PingRun)
	p.DurationMs = &reported

	got, err := cm.OnPing(context.Background(), c, p)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastDurationMs == nil || *got.LastDurationMs != 5 {
		t.Errorf("reported duration must win over derivation, got %v", got.LastDurationMs)
	}
}

func TestOnPing_MaxDurationExceededForcesDown(t *testing.T) {
	cm, _, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, time.Minute)
	maxSec := 1
	c.MaxDurationSec = &maxSec

	dur := int64(1500)
	p := runPing(domain.PingRun)
	p.DurationMs = &dur

	got, err := cm.OnPing(context.Background(), c, p)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.CheckStatusDown {
		t.Errorf("status: got %q, want down", got.Status)
	}
	kinds := alerts.kinds()
	if len(kinds) != 1 || kinds[0] != alert.CheckDown {
		t.Errorf("expected one check.down alert, got %v", kinds)
	}
}

func TestOnPing_OutputTruncated(t *testing.T) {
	cm, store, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, time.Minute)

	p := runPing(domain.PingRun)
	p.Output = strings.Repeat("x", domain.MaxPingOutputBytes+100)

	if _, err := cm.OnPing(context.Background(), c, p); err != nil {
		t.Fatal(err)
	}
	saved := store.lastCheckSave()
	if len(saved.ping.Output) != domain.MaxPingOutputBytes {
		t.Errorf("output length: got %d, want %d", len(saved.ping.Output), domain.MaxPingOutputBytes)
	}
}

func TestOnSweep_OverdueBoundary(t *testing.T) {
	// Preset 5m, grace 2m: overdue strictly after 7m of silence.
	tests := []struct {
		name    string
		ago     time.Duration
		overdue bool
	}{
		{"just inside window", 6*time.Minute + 59*time.Second, false},
		{"exactly at boundary", 7 * time.Minute, false},
		{"past boundary", 7*time.Minute + time.Second, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, store, alerts := newCheckMachine(t)
			c := testCheck(domain.CheckStatusUp, tt.ago)

			changed, err := cm.OnSweep(context.Background(), c, c.LastPingAt.Add(tt.ago))
			if err != nil {
				t.Fatalf("OnSweep: %v", err)
			}
			if changed != tt.overdue {
				t.Errorf("changed: got %v, want %v", changed, tt.overdue)
			}
			if !tt.overdue {
				if store.checkSaveCount() != 0 {
					t.Error("no write expected when the check is on time")
				}
				return
			}
			saved := store.lastCheckSave()
			if saved.event == nil || saved.event.Status != "down" {
				t.Errorf("expected a down event, got %+v", saved.event)
			}
			kinds := alerts.kinds()
			if len(kinds) != 1 || kinds[0] != alert.CheckDown {
				t.Errorf("expected one check.down alert, got %v", kinds)
			}
		})
	}
}

func TestOnSweep_NewCheckNeverOverdue(t *testing.T) {
	cm, store, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusNew, 0)
	c.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)

	changed, err := cm.OnSweep(context.Background(), c, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if changed || store.checkSaveCount() != 0 {
		t.Error("a check that never pinged must not go down")
	}
}

func TestOnSweep_DownIsIdempotent(t *testing.T) {
	cm, store, alerts := newCheckMachine(t)
	c := testCheck(domain.CheckStatusDown, time.Hour)

	changed, err := cm.OnSweep(context.Background(), c, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Error("a down check must stay down without a new transition")
	}
	if store.checkSaveCount() != 0 {
		t.Error("no write expected for an already-down check")
	}
	if len(alerts.sent()) != 0 {
		t.Errorf("no repeat alert expected, got %v", alerts.kinds())
	}
}

func TestOnSweep_PingAfterListingDropsTransition(t *testing.T) {
	cm, store, alerts := newCheckMachine(t)
	snapshot := testCheck(domain.CheckStatusUp, 10*time.Minute)

	// A ping lands after the sweep listed the check: the stored row carries
	// a fresh baseline the snapshot does not know about.
	fresh := snapshot
	pinged := time.Now().UTC()
	fresh.LastPingAt = &pinged
	store.checks = []domain.Check{fresh}

	changed, err := cm.OnSweep(context.Background(), snapshot, time.Now().UTC())
	if err != nil {
		t.Fatalf("OnSweep: %v", err)
	}
	if changed {
		t.Error("stale snapshot must not win over a fresh ping")
	}
	if store.checkSaveCount() != 0 {
		t.Error("dropped transition must not write anything")
	}
	if len(alerts.sent()) != 0 {
		t.Errorf("dropped transition must not alert, got %v", alerts.kinds())
	}
	if got := store.checks[0]; got.Status != domain.CheckStatusUp || !got.LastPingAt.Equal(pinged) {
		t.Errorf("stored check clobbered: %+v", got)
	}
}

func TestOnSweep_EventCarriesPriorStatusDuration(t *testing.T) {
	cm, store, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, time.Hour)

	now := time.Now().UTC()
	store.latestEvents[eventKey(domain.EntityCheck, c.ID)] = &domain.StatusEvent{
		ID:         "evt-prev",
		EntityKind: domain.EntityCheck,
		EntityID:   c.ID,
		Status:     "up",
		Timestamp:  now.Add(-10 * time.Minute),
	}

	changed, err := cm.OnSweep(context.Background(), c, now)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected transition to down")
	}
	saved := store.lastCheckSave()
	if saved.event.PrevStatusDurMs == nil {
		t.Fatal("expected duration of prior status on the event")
	}
	if *saved.event.PrevStatusDurMs != (10 * time.Minute).Milliseconds() {
		t.Errorf("prior status duration: got %d", *saved.event.PrevStatusDurMs)
	}
}

func TestOnSweep_InvalidCronStillEvaluates(t *testing.T) {
	cm, store, _ := newCheckMachine(t)
	c := testCheck(domain.CheckStatusUp, 2*time.Hour)
	c.Schedule = domain.Schedule{Type: domain.ScheduleCron, CronExpr: "not a cron"}

	// Fails closed to the 60-minute default, so two hours of silence is
	// overdue despite the broken expression.
	changed, err := cm.OnSweep(context.Background(), c, time.Now().UTC())
	if err != nil {
		t.Fatalf("OnSweep: %v", err)
	}
	if !changed {
		t.Error("expected the check to go down under the default interval")
	}
	if store.lastCheckSave().check.Status != domain.CheckStatusDown {
		t.Error("expected down to be persisted")
	}
}
