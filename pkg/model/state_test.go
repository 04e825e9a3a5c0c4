package model

import "testing"

func TestTaskState_IsInFlight(t *testing.T) {
	tests := []struct {
		state    TaskState
		inFlight bool
	}{
		{TaskStateReady, true},
		{TaskStateRunning, true},
		{"ready", true},
		{"Running", true},
		{" RUNNING ", true},
		{TaskStateUnsubmitted, false},
		{TaskStateCompleted, false},
		{TaskStateFailed, false},
		{TaskStateCancelled, false},
		{"CANCEL_REQUESTED", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.state.IsInFlight(); got != tt.inFlight {
			t.Errorf("TaskState(%q).IsInFlight() = %v, want %v", tt.state, got, tt.inFlight)
		}
		if got := tt.state.IsFinished(); got == tt.inFlight {
			t.Errorf("TaskState(%q).IsFinished() = %v, want %v", tt.state, got, !tt.inFlight)
		}
	}
}

func TestTaskState_IsFailure(t *testing.T) {
	tests := []struct {
		state   TaskState
		failure bool
	}{
		{TaskStateCompleted, false},
		{TaskStateRunning, false},
		{TaskStateFailed, true},
		{"failed", true},
		{TaskStateCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsFailure(); got != tt.failure {
			t.Errorf("TaskState(%q).IsFailure() = %v, want %v", tt.state, got, tt.failure)
		}
	}
}

func TestTaskState_Normalize(t *testing.T) {
	if got := TaskState(" completed\n").Normalize(); got != TaskStateCompleted {
		t.Errorf("Normalize() = %q, want %q", got, TaskStateCompleted)
	}
}
