package store

import (
	"context"

	"github.com/me/exportq/pkg/model"
)

// Journal records runs and their scheduling events. It is write-mostly
// during a run and read by the history command and the status API.
type Journal interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, id string) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Events
	RecordEvent(ctx context.Context, ev *model.Event) error
	ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]*model.Event, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
