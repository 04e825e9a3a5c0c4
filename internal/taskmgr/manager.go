// Package taskmgr bounds how many externally executed tasks run at once.
//
// Submitted tasks wait in a FIFO queue until a monitor goroutine promotes them
// into one of MaxActive slots. The monitor polls a single slot per tick, round
// robin, and replaces a task once it reports a finished state. Producers are
// throttled while both the slots and the queue are saturated.
package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/me/exportq/internal/validate"
	"github.com/me/exportq/pkg/model"
	"golang.org/x/sync/errgroup"
)

var (
	ErrStopped       = errors.New("task manager is stopped")
	ErrNilTask       = errors.New("task is nil")
	ErrInvalidConfig = errors.New("invalid task manager config")
)

// Manager schedules tasks into a fixed number of active slots.
type Manager struct {
	cfg      Config
	runID    string
	logger   *slog.Logger
	observer Observer

	mu      sync.Mutex
	active  []Task
	waiting []Task
	cursor  int
	running bool
	stats   counters
	pending []model.Event // queued for the observer, in state-change order

	// emitMu serializes delivery to the observer. It is never acquired while
	// mu is held.
	emitMu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures optional Manager dependencies.
type Option func(*Manager)

// WithObserver registers an observer for scheduling events.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// WithRunID tags every emitted event with runID.
func WithRunID(runID string) Option {
	return func(m *Manager) {
		m.runID = runID
	}
}

// New validates cfg and starts the monitor goroutine. The returned Manager
// runs until Stop is called.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if err := validate.Struct("manager", cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	m := &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "taskmgr"),
		active:  make([]Task, 0, cfg.MaxActive),
		running: true,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.runID != "" {
		m.logger = m.logger.With("run_id", m.runID)
	}

	go m.monitor()
	return m, nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() Config {
	return m.cfg
}

// Submit queues task for execution. While the manager is busy it blocks,
// re-checking every PollInterval/2. The busy check and the append happen in
// one critical section, so concurrent producers cannot overfill the queue
// while every slot is taken.
//
// Submit returns ErrStopped once Stop has been called and ctx.Err() if ctx
// ends first.
func (m *Manager) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return ErrNilTask
	}

	backoff := m.cfg.PollInterval / 2
	if backoff <= 0 {
		backoff = m.cfg.PollInterval
	}

	for {
		m.mu.Lock()
		if !m.running {
			m.mu.Unlock()
			return ErrStopped
		}
		if !m.busyLocked() {
			m.waiting = append(m.waiting, task)
			m.stats.submitted++
			m.queueLocked(model.Event{
				Kind:   model.EventSubmitted,
				Task:   describe(task),
				Slot:   -1,
				Detail: fmt.Sprintf("queue depth %d", len(m.waiting)),
			})
			m.mu.Unlock()

			m.flush()
			return nil
		}
		m.mu.Unlock()

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-m.stopCh:
			timer.Stop()
			return ErrStopped
		case <-timer.C:
		}
	}
}

// IsBusy reports whether every active slot is taken and the waiting queue
// has reached MaxWaiting.
func (m *Manager) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busyLocked()
}

func (m *Manager) busyLocked() bool {
	return len(m.active) >= m.cfg.MaxActive && len(m.waiting) >= m.cfg.MaxWaiting
}

// Stop halts the monitor, waits for it to exit, then cancels every task that
// was active or waiting, each exactly once. Cancel runs outside the lock,
// concurrently, at most MaxActive at a time.
//
// An active task already reporting a finished state is still cancelled, but
// it is recorded as retired rather than cancelled. The first error from
// cancelling an unfinished task is returned; all are logged. Calling Stop
// again is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	var err error
	m.stopOnce.Do(func() {
		err = m.shutdown(ctx)
	})
	return err
}

type pendingCancel struct {
	task Task
	slot int
}

func (m *Manager) shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.running = false
	pending := make([]pendingCancel, 0, len(m.active)+len(m.waiting))
	for i, t := range m.active {
		pending = append(pending, pendingCancel{task: t, slot: i})
	}
	for _, t := range m.waiting {
		pending = append(pending, pendingCancel{task: t, slot: -1})
	}
	m.active = nil
	m.waiting = nil
	m.cursor = 0
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	m.trace(slog.LevelInfo, "task manager stopping", "cancelling", len(pending))

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxActive)
	for _, p := range pending {
		g.Go(func() error {
			return m.cancel(ctx, p)
		})
	}
	err := g.Wait()

	m.trace(slog.LevelInfo, "task manager stopped")
	return err
}

// cancel cancels one task during shutdown and records the outcome.
func (m *Manager) cancel(ctx context.Context, p pendingCancel) error {
	name := describe(p.task)

	var finished bool
	var final model.TaskState
	if p.slot >= 0 {
		callCtx, cancel := m.callContext(ctx)
		status, err := p.task.Status(callCtx)
		cancel()
		if err == nil && status.State.IsFinished() {
			finished, final = true, status.State.Normalize()
		}
	}

	err := p.task.Cancel(ctx)

	m.mu.Lock()
	switch {
	case finished:
		m.stats.retired++
		if final.IsFailure() {
			m.stats.failed++
		}
		m.queueLocked(model.Event{Kind: model.EventRetired, Task: name, State: final, Slot: p.slot})
	case err != nil:
		m.stats.cancelFailures++
		m.queueLocked(model.Event{Kind: model.EventCancelFailed, Task: name, Slot: p.slot, Detail: err.Error()})
	default:
		m.stats.cancelled++
		m.queueLocked(model.Event{Kind: model.EventCancelled, Task: name, Slot: p.slot})
	}
	m.mu.Unlock()
	m.flush()

	if finished {
		if err != nil {
			m.trace(slog.LevelDebug, "cancel finished task", "task", name, "slot", p.slot, "error", err)
		}
		return nil
	}
	if err != nil {
		m.trace(slog.LevelWarn, "cancel task", "task", name, "slot", p.slot, "error", err)
		return fmt.Errorf("cancel %s: %w", name, err)
	}
	return nil
}

// Stopped reports whether Stop has been called.
func (m *Manager) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.running
}

// Wait blocks until the waiting queue is empty and every active task
// reports a finished state. Status errors count as still running.
// It returns ErrStopped if the manager stops first.
func (m *Manager) Wait(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		done, err := m.drained(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.stopCh:
			return ErrStopped
		case <-ticker.C:
		}
	}
}

func (m *Manager) drained(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false, ErrStopped
	}
	if len(m.waiting) > 0 {
		m.mu.Unlock()
		return false, nil
	}
	active := append([]Task(nil), m.active...)
	m.mu.Unlock()

	for _, t := range active {
		callCtx, cancel := m.callContext(ctx)
		status, err := t.Status(callCtx)
		cancel()
		if err != nil || status.State.IsInFlight() {
			return false, nil
		}
	}
	return true, nil
}

// queueLocked stamps ev and queues it for the observer. The caller holds mu
// and calls flush once it has released it.
func (m *Manager) queueLocked(ev model.Event) {
	if m.observer == nil {
		return
	}
	ev.RunID = m.runID
	ev.At = time.Now().UTC()
	m.pending = append(m.pending, ev)
}

// flush delivers queued events one at a time, in the order they were queued.
// Must not be called with mu held.
func (m *Manager) flush() {
	if m.observer == nil {
		return
	}
	m.emitMu.Lock()
	defer m.emitMu.Unlock()
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			m.observer.Observe(ev)
		}
	}
}

// callContext derives the context for one Start or Status call.
func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.CallTimeout > 0 {
		return context.WithTimeout(ctx, m.cfg.CallTimeout)
	}
	return ctx, func() {}
}

// trace logs scheduling decisions at INFO in verbose mode, DEBUG otherwise.
func (m *Manager) trace(level slog.Level, msg string, args ...any) {
	if !m.cfg.Verbose && level < slog.LevelError {
		level = slog.LevelDebug
	}
	m.logger.Log(context.Background(), level, msg, args...)
}
