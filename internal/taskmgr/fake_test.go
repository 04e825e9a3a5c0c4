package taskmgr

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/me/exportq/pkg/model"
	"github.com/stretchr/testify/require"
)

// startLog records the order in which fake tasks were started.
type startLog struct {
	mu    sync.Mutex
	names []string
}

func (l *startLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *startLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

// fakeTask is a controllable Task. It reports RUNNING once started until
// finish is called or finishAfter polls have been answered.
type fakeTask struct {
	name string
	log  *startLog

	mu          sync.Mutex
	state       model.TaskState
	starts      int
	cancels     int
	polls       int
	finishAfter int
	startErr    error
	statusErr   error
	cancelErr   error
}

func newFake(name string, log *startLog) *fakeTask {
	return &fakeTask{name: name, log: log, state: model.TaskStateUnsubmitted}
}

func (f *fakeTask) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = model.TaskStateRunning
	if f.log != nil {
		f.log.add(f.name)
	}
	return nil
}

func (f *fakeTask) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	f.state = model.TaskStateCancelled
	return f.cancelErr
}

func (f *fakeTask) Status(ctx context.Context) (model.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.statusErr != nil {
		return model.TaskStatus{}, f.statusErr
	}
	if f.finishAfter > 0 && f.polls >= f.finishAfter && f.state.IsInFlight() {
		f.state = model.TaskStateCompleted
	}
	return model.TaskStatus{State: f.state, Description: f.name}, nil
}

func (f *fakeTask) Describe() string {
	return f.name
}

func (f *fakeTask) finish(state model.TaskState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeTask) setStatusErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErr = err
}

func (f *fakeTask) counts() (starts, cancels, polls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.cancels, f.polls
}

// eventLog is an Observer collecting every event.
type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Observe(ev model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []model.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// manualManager returns a Manager whose monitor effectively never ticks, so
// tests drive it with Tick.
func manualManager(t *testing.T, maxActive, maxWaiting int, opts ...Option) *Manager {
	t.Helper()
	cfg := Config{MaxActive: maxActive, MaxWaiting: maxWaiting, PollInterval: time.Hour}
	m, err := New(cfg, discardLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

// liveManager returns a Manager with a fast monitor.
func liveManager(t *testing.T, maxActive, maxWaiting int, opts ...Option) *Manager {
	t.Helper()
	cfg := Config{MaxActive: maxActive, MaxWaiting: maxWaiting, PollInterval: 2 * time.Millisecond}
	m, err := New(cfg, discardLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Stop(context.Background()) })
	return m
}

// slots returns the names held in active and waiting.
func slots(m *Manager) (active, waiting []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.active {
		active = append(active, describe(t))
	}
	for _, t := range m.waiting {
		waiting = append(waiting, describe(t))
	}
	return active, waiting
}
