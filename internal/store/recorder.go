package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/me/exportq/pkg/model"
)

// recordTimeout bounds a single journal write made from the scheduler.
const recordTimeout = 5 * time.Second

// Recorder appends task manager events to a Journal. It satisfies
// taskmgr.Observer. Write failures are logged and counted, never returned:
// the journal is a report and must not stall scheduling.
type Recorder struct {
	journal Journal
	runID   string
	logger  *slog.Logger
	dropped atomic.Int64
}

// NewRecorder returns a Recorder writing events to journal under runID.
func NewRecorder(journal Journal, runID string, logger *slog.Logger) *Recorder {
	return &Recorder{
		journal: journal,
		runID:   runID,
		logger:  logger.With("component", "recorder", "run_id", runID),
	}
}

// Observe records ev.
func (r *Recorder) Observe(ev model.Event) {
	if ev.RunID == "" {
		ev.RunID = r.runID
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.journal.RecordEvent(ctx, &ev); err != nil {
		r.dropped.Add(1)
		r.logger.Warn("journal write failed", "kind", ev.Kind, "task", ev.Task, "error", err)
	}
}

// Dropped returns the number of events that could not be recorded.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}
