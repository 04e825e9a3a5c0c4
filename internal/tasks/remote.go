package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/me/exportq/internal/rpc"
	"github.com/me/exportq/pkg/model"
)

// Remote export service methods.
const (
	MethodStart  = "Export.start"
	MethodStatus = "Export.status"
	MethodCancel = "Export.cancel"
)

// RemoteSpec describes an export job submitted to a remote service.
type RemoteSpec struct {
	Description string
	Params      map[string]any
}

// RemoteTask drives one export job through a JSON-RPC export service.
type RemoteTask struct {
	spec   RemoteSpec
	caller rpc.Caller
	logger *slog.Logger

	mu    sync.Mutex
	jobID string
}

// NewRemote returns an unstarted RemoteTask.
func NewRemote(spec RemoteSpec, caller rpc.Caller, logger *slog.Logger) *RemoteTask {
	return &RemoteTask{
		spec:   spec,
		caller: caller,
		logger: logger.With("component", "remote-task", "task", spec.Description),
	}
}

type jobInfo struct {
	ID          any    `json:"id"`
	State       string `json:"state"`
	Description string `json:"description"`
}

// Start calls Export.start and records the returned job ID. The job runs
// asynchronously on the service.
func (r *RemoteTask) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobID != "" {
		return ErrAlreadyStarted
	}

	result, err := r.caller.Call(ctx, MethodStart, []any{r.spec.Description, r.spec.Params})
	if err != nil {
		return fmt.Errorf("task %s: %s: %w", r.spec.Description, MethodStart, err)
	}

	// Response: [{id, state, ...}] where id may be a number or a string.
	var jobs []jobInfo
	if err := json.Unmarshal(result, &jobs); err != nil {
		return fmt.Errorf("task %s: parse %s response: %w", r.spec.Description, MethodStart, err)
	}
	if len(jobs) == 0 || jobs[0].ID == nil {
		return fmt.Errorf("task %s: %s returned no job", r.spec.Description, MethodStart)
	}

	r.jobID = fmt.Sprintf("%v", jobs[0].ID)
	r.logger.Debug("job submitted", "job_id", r.jobID, "state", jobs[0].State)
	return nil
}

// Status calls Export.status. Before Start it reports UNSUBMITTED without a
// round trip.
func (r *RemoteTask) Status(ctx context.Context) (model.TaskStatus, error) {
	jobID := r.JobID()
	if jobID == "" {
		return model.TaskStatus{State: model.TaskStateUnsubmitted, Description: r.spec.Description}, nil
	}

	result, err := r.caller.Call(ctx, MethodStatus, []any{jobID})
	if err != nil {
		return model.TaskStatus{}, fmt.Errorf("task %s: %s: %w", r.spec.Description, MethodStatus, err)
	}

	// Response: [{state, description}]
	var infos []jobInfo
	if err := json.Unmarshal(result, &infos); err != nil {
		return model.TaskStatus{}, fmt.Errorf("task %s: parse %s response: %w", r.spec.Description, MethodStatus, err)
	}
	if len(infos) == 0 {
		return model.TaskStatus{}, fmt.Errorf("task %s: %s returned no status for job %s", r.spec.Description, MethodStatus, jobID)
	}

	desc := infos[0].Description
	if desc == "" {
		desc = r.spec.Description
	}
	return model.TaskStatus{State: mapRemoteState(infos[0].State), Description: desc}, nil
}

// Cancel calls Export.cancel. A task that never started has nothing to cancel.
func (r *RemoteTask) Cancel(ctx context.Context) error {
	jobID := r.JobID()
	if jobID == "" {
		return nil
	}
	if _, err := r.caller.Call(ctx, MethodCancel, []any{jobID}); err != nil {
		return fmt.Errorf("task %s: %s: %w", r.spec.Description, MethodCancel, err)
	}
	return nil
}

// JobID returns the service job ID, or "" before Start.
func (r *RemoteTask) JobID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobID
}

// Describe returns the task description.
func (r *RemoteTask) Describe() string {
	return r.spec.Description
}

// mapRemoteState folds the service's lower-case aliases onto task states.
// Unknown states pass through and are treated as finished by the scheduler.
func mapRemoteState(s string) model.TaskState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending", "ready":
		return model.TaskStateReady
	case "in-progress", "running":
		return model.TaskStateRunning
	case "completed", "succeeded":
		return model.TaskStateCompleted
	case "failed", "deleted":
		return model.TaskStateFailed
	case "cancelled", "canceled", "cancel_requested":
		return model.TaskStateCancelled
	default:
		return model.TaskState(s).Normalize()
	}
}
