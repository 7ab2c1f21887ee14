package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
)

// SweepStore lists the entities a sweep must evaluate.
type SweepStore interface {
	ListActiveChecks(ctx context.Context) ([]domain.Check, error)
	DueMonitors(ctx context.Context, now time.Time) ([]domain.HttpMonitor, error)
}

// Summary reports what one sweep tick accomplished.
type Summary struct {
	Checked      int           `json:"checked"`
	Probed       int           `json:"probed"`
	StateChanges int           `json:"state_changes"`
	Errors       int           `json:"errors"`
	Deferred     int           `json:"deferred"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Sweeper runs one evaluation pass over all active checks and due monitors.
//
// Work is spread over a bounded pool of workers under a hard deadline. An
// entity that errors or panics is logged and skipped without touching its
// neighbors. Entities not started before the deadline are deferred to the
// next tick; both state machines are idempotent, so overlapping or repeated
// sweeps converge on the same state.
type Sweeper struct {
	store    SweepStore
	checks   *CheckMachine
	monitors *MonitorMachine
	workers  int
	deadline time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper. Pass nil logger to use the default logger.
func NewSweeper(store SweepStore, checks *CheckMachine, monitors *MonitorMachine, workers int, deadline time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	return &Sweeper{
		store:    store,
		checks:   checks,
		monitors: monitors,
		workers:  workers,
		deadline: deadline,
		logger:   logger,
	}
}

// Run executes one sweep tick and returns its summary. The error is non-nil
// only when the entity lists cannot be loaded; per-entity failures are
// counted, not returned.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	now := started.UTC()

	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	checks, err := s.store.ListActiveChecks(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("listing active checks: %w", err)
	}
	monitors, err := s.store.DueMonitors(ctx, now)
	if err != nil {
		return Summary{}, fmt.Errorf("listing due monitors: %w", err)
	}

	var checked, probed, changes, errs atomic.Int64

	jobs := make([]func(), 0, len(checks)+len(monitors))
	for _, c := range checks {
		c := c
		jobs = append(jobs, func() {
			changed, err := s.checks.OnSweep(ctx, c, now)
			if err != nil {
				errs.Add(1)
				s.logger.Error("evaluating check", "check", c.ID, "error", err)
				return
			}
			checked.Add(1)
			if changed {
				changes.Add(1)
			}
		})
	}
	for _, m := range monitors {
		m := m
		jobs = append(jobs, func() {
			prev := m.Status
			updated, err := s.monitors.Probe(ctx, m, now)
			if err != nil {
				errs.Add(1)
				s.logger.Error("probing monitor", "monitor", m.ID, "error", err)
				return
			}
			probed.Add(1)
			if updated.Status != prev {
				changes.Add(1)
			}
		})
	}

	ch := make(chan func())
	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for fn := range ch {
				s.runIsolated(fn, &errs)
			}
		}()
	}

	deferred := 0
dispatch:
	for i, fn := range jobs {
		select {
		case ch <- fn:
		case <-ctx.Done():
			deferred = len(jobs) - i
			break dispatch
		}
	}
	close(ch)
	wg.Wait()

	summary := Summary{
		Checked:      int(checked.Load()),
		Probed:       int(probed.Load()),
		StateChanges: int(changes.Load()),
		Errors:       int(errs.Load()),
		Deferred:     deferred,
		Elapsed:      time.Since(started),
	}
	s.logger.Info("sweep complete",
		"checked", summary.Checked,
		"probed", summary.Probed,
		"state_changes", summary.StateChanges,
		"errors", summary.Errors,
		"deferred", summary.Deferred,
		"elapsed", summary.Elapsed,
	)
	return summary, nil
}

func (s *Sweeper) runIsolated(fn func(), errs *atomic.Int64) {
	defer func() {
		if r := recover(); r != nil {
			errs.Add(1)
			s.logger.Error("sweep job panicked", "panic", r)
		}
	}()
	fn()
}
