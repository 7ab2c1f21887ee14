// Package schedule decides whether a check's pings are on time. It is pure:
// callers supply the clock, the package does no I/O.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
)

// presetMinutes maps preset names to their expected ping interval.
var presetMinutes = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"1d":  1440,
	"1w":  10080,
}

// defaultIntervalMin is the fail-closed interval applied when a cron
// expression or timezone cannot be resolved. Evaluation still happens so a
// silent misconfiguration cannot suppress overdue detection.
const defaultIntervalMin = 60

// ValidateSchedule rejects schedules that the evaluator could not honor.
// Called at create/update time so configuration errors never reach the sweep.
func ValidateSchedule(s domain.Schedule) error {
	switch s.Type {
	case domain.SchedulePreset:
		if _, ok := presetMinutes[s.Preset]; !ok {
			return fmt.Errorf("unknown preset %q", s.Preset)
		}
	case domain.ScheduleCron:
		if _, err := cron.ParseStandard(s.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.CronExpr, err)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
			}
		}
	default:
		return fmt.Errorf("invalid schedule type %q", s.Type)
	}
	return nil
}

// ExpectedInterval returns the interval after which the next ping is expected,
// measured from the last ping. For cron schedules this is the gap between the
// last ping and the next cron occurrence evaluated in the check's timezone.
//
// An unresolvable cron expression or timezone fails closed: the returned
// interval is the 60-minute default and the error describes the configuration
// problem for the owner. The interval is always usable.
func ExpectedInterval(c domain.Check) (time.Duration, error) {
	switch c.Schedule.Type {
	case domain.ScheduleCron:
		return cronInterval(c)
	default:
		min, ok := presetMinutes[c.Schedule.Preset]
		if !ok {
			return defaultIntervalMin * time.Minute,
				fmt.Errorf("check %q: unknown preset %q", c.Name, c.Schedule.Preset)
		}
		return time.Duration(min) * time.Minute, nil
	}
}

func cronInterval(c domain.Check) (time.Duration, error) {
	sched, err := cron.ParseStandard(c.Schedule.CronExpr)
	if err != nil {
		return defaultIntervalMin * time.Minute,
			fmt.Errorf("check %q: invalid cron expression %q: %w", c.Name, c.Schedule.CronExpr, err)
	}

	loc := time.UTC
	if c.Schedule.Timezone != "" {
		loc, err = time.LoadLocation(c.Schedule.Timezone)
		if err != nil {
			return defaultIntervalMin * time.Minute,
				fmt.Errorf("check %q: invalid timezone %q: %w", c.Name, c.Schedule.Timezone, err)
		}
	}

	if c.LastPingAt == nil {
		// No baseline; callers never reach here because new checks are not
		// evaluated, but keep the interval meaningful for API echoes.
		return defaultIntervalMin * time.Minute, nil
	}

	last := c.LastPingAt.In(loc)
	next := sched.Next(last)
	if !next.After(last) {
		return defaultIntervalMin * time.Minute,
			fmt.Errorf("check %q: cron expression %q yields no future occurrence", c.Name, c.Schedule.CronExpr)
	}
	return next.Sub(last), nil
}

// IsOverdue reports whether the check has missed its expected ping at now.
//
// A check with no baseline (status "new" or no recorded ping) is never
// overdue. The grace period is added to the expected interval before
// comparing. A non-nil error signals a schedule configuration problem; the
// boolean is still valid because evaluation fails closed to the default
// interval.
func IsOverdue(c domain.Check, now time.Time) (bool, error) {
	if c.Status == domain.CheckStatusNew || c.LastPingAt == nil {
		return false, nil
	}

	interval, err := ExpectedInterval(c)
	expected := interval + time.Duration(c.GracePeriodMin)*time.Minute
	return now.Sub(*c.LastPingAt) > expected, err
}
