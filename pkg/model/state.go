package model

import "strings"

// TaskState is the state string reported by an external task.
// Values come from the execution platform and are compared case-insensitively.
type TaskState string

const (
	TaskStateUnsubmitted TaskState = "UNSUBMITTED"
	TaskStateReady       TaskState = "READY"
	TaskStateRunning     TaskState = "RUNNING"
	TaskStateCompleted   TaskState = "COMPLETED"
	TaskStateFailed      TaskState = "FAILED"
	TaskStateCancelled   TaskState = "CANCELLED"
)

// inFlightStates is the allow-list of states meaning "still going".
// Everything else, including states this package has never heard of, is finished.
var inFlightStates = map[TaskState]bool{
	TaskStateReady:   true,
	TaskStateRunning: true,
}

// String returns the string representation of the task state.
func (s TaskState) String() string {
	return string(s)
}

// Normalize returns the upper-cased, trimmed form of the state.
func (s TaskState) Normalize() TaskState {
	return TaskState(strings.ToUpper(strings.TrimSpace(string(s))))
}

// IsInFlight reports whether the state is in the READY/RUNNING allow-list.
func (s TaskState) IsInFlight() bool {
	return inFlightStates[s.Normalize()]
}

// IsFinished reports whether a started task in this state has stopped for any reason.
// An UNSUBMITTED task is not in flight either, so it counts as finished once started.
func (s TaskState) IsFinished() bool {
	return !s.IsInFlight()
}

// IsFailure reports whether the state names an unsuccessful terminal outcome.
// Only used for logging; the scheduler treats all finished states alike.
func (s TaskState) IsFailure() bool {
	switch s.Normalize() {
	case TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// TaskStatus is the descriptor returned by a task status query.
type TaskStatus struct {
	State       TaskState `json:"state"`
	Description string    `json:"description"`
}
