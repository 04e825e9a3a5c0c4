// Package tasks provides taskmgr.Task implementations: simulated tasks,
// local commands and remote export jobs.
package tasks

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/exportq/pkg/model"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("task already started")

var dummyStates = []model.TaskState{
	model.TaskStateReady,
	model.TaskStateRunning,
	model.TaskStateCompleted,
}

// DummyTask simulates a remote export. Once started it moves through
// READY, RUNNING and COMPLETED, waiting between 1x and 2x Interval at each
// step.
type DummyTask struct {
	description string
	interval    time.Duration

	mu      sync.Mutex
	step    int
	state   model.TaskState
	started bool

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDummy returns an unstarted DummyTask with a random description.
func NewDummy(interval time.Duration) *DummyTask {
	return NewNamedDummy("DUMMY-"+strings.ToUpper(uuid.NewString()[:8]), interval)
}

// NewNamedDummy returns an unstarted DummyTask with the given description.
func NewNamedDummy(description string, interval time.Duration) *DummyTask {
	return &DummyTask{
		description: description,
		interval:    interval,
		state:       model.TaskStateUnsubmitted,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start launches the state cycler.
func (d *DummyTask) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return ErrAlreadyStarted
	}
	d.started = true
	d.state = dummyStates[0]
	go d.run()
	return nil
}

func (d *DummyTask) run() {
	defer close(d.doneCh)
	for {
		wait := d.interval + time.Duration(rand.Float64()*float64(d.interval))
		timer := time.NewTimer(wait)
		select {
		case <-d.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		d.mu.Lock()
		if d.state.IsFinished() {
			d.mu.Unlock()
			return
		}
		d.step++
		d.state = dummyStates[d.step]
		finished := d.state.IsFinished()
		d.mu.Unlock()
		if finished {
			return
		}
	}
}

// Cancel stops the cycler and marks the task CANCELLED unless it already
// finished. It waits for the cycler goroutine to exit.
func (d *DummyTask) Cancel(ctx context.Context) error {
	d.mu.Lock()
	started := d.started
	if d.state.IsInFlight() || d.state == model.TaskStateUnsubmitted {
		d.state = model.TaskStateCancelled
	}
	d.mu.Unlock()

	if !started {
		return nil
	}
	d.stopOnce.Do(func() { close(d.stopCh) })
	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current state.
func (d *DummyTask) Status(ctx context.Context) (model.TaskStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return model.TaskStatus{State: d.state, Description: d.description}, nil
}

// Finish forces the task into COMPLETED.
func (d *DummyTask) Finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = model.TaskStateCompleted
}

// Describe returns the task description.
func (d *DummyTask) Describe() string {
	return d.description
}
