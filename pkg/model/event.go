package model

import "time"

// EventKind identifies a scheduling event recorded by the task manager.
type EventKind string

const (
	EventSubmitted    EventKind = "submitted"
	EventStarted      EventKind = "started"
	EventRetired      EventKind = "retired"
	EventStartFailed  EventKind = "start_failed"
	EventStatusError  EventKind = "status_error"
	EventCancelled    EventKind = "cancelled"
	EventCancelFailed EventKind = "cancel_failed"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventSubmitted, EventStarted, EventRetired, EventStartFailed, EventStatusError,
		EventCancelled, EventCancelFailed:
		return true
	}
	return false
}

// Event is one scheduling decision observed on a task.
// Slot is the active slot index involved, or -1 when the task held no slot.
type Event struct {
	ID     int64     `json:"id"`
	RunID  string    `json:"run_id"`
	Kind   EventKind `json:"kind"`
	Task   string    `json:"task"`
	State  TaskState `json:"state,omitempty"`
	Slot   int       `json:"slot"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Run groups the events of one scheduling session.
type Run struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	MaxActive  int        `json:"max_active"`
	MaxWaiting int        `json:"max_waiting"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Events     int        `json:"events"`
}
