package domain

import "time"

// EntityKind tags a StatusEvent with its owning entity type.
type EntityKind string

const (
	EntityCheck   EntityKind = "check"
	EntityMonitor EntityKind = "monitor"
)

// StatusEvent records one status transition. Events are written only when the
// status actually changes, so the trail explains every visible state without
// repeats.
type StatusEvent struct {
	ID              string     `json:"id"`
	EntityKind      EntityKind `json:"entity_kind"`
	EntityID        string     `json:"entity_id"`
	Status          string     `json:"status"`
	Timestamp       time.Time  `json:"timestamp"`
	PrevStatusDurMs *int64     `json:"prev_status_dur_ms,omitempty"`
}
