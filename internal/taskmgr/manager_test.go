package taskmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/me/exportq/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"zero active", Config{MaxActive: 0, MaxWaiting: 1, PollInterval: time.Second}, "Config.MaxActive"},
		{"too many active", Config{MaxActive: MaxActiveLimit + 1, MaxWaiting: 1, PollInterval: time.Second}, "Config.MaxActive"},
		{"negative waiting", Config{MaxActive: 1, MaxWaiting: -1, PollInterval: time.Second}, "Config.MaxWaiting"},
		{"zero interval", Config{MaxActive: 1, MaxWaiting: 1, PollInterval: 0}, "Config.PollInterval"},
		{"negative timeout", Config{MaxActive: 1, PollInterval: time.Second, CallTimeout: -time.Second}, "Config.CallTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg, discardLogger())
			require.Error(t, err)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrInvalidConfig)

			var cfgErr *model.InvalidConfigError
			require.ErrorAs(t, err, &cfgErr)
			require.Len(t, cfgErr.Fields, 1)
			assert.Equal(t, tt.field, cfgErr.Fields[0].Field)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxActive)
	assert.Equal(t, 7, cfg.MaxWaiting)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.False(t, cfg.Verbose)
}

func TestSubmit_NilTask(t *testing.T) {
	m := manualManager(t, 1, 1)
	assert.ErrorIs(t, m.Submit(context.Background(), nil), ErrNilTask)
}

func TestSubmit_QueuesWithoutStarting(t *testing.T) {
	m := manualManager(t, 3, 5)
	tasks := []*fakeTask{newFake("a", nil), newFake("b", nil), newFake("c", nil)}
	for _, task := range tasks {
		require.NoError(t, m.Submit(context.Background(), task))
	}

	active, waiting := slots(m)
	assert.Empty(t, active)
	assert.Equal(t, []string{"a", "b", "c"}, waiting)
	for _, task := range tasks {
		starts, _, _ := task.counts()
		assert.Zero(t, starts, "task %s started before a tick", task.name)
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		name       string
		maxActive  int
		maxWaiting int
		active     int
		waiting    int
		want       bool
	}{
		{"empty", 3, 2, 0, 0, false},
		{"active full, queue empty", 3, 2, 3, 0, false},
		{"active full, queue has headroom", 3, 2, 3, 1, false},
		{"both saturated", 3, 2, 3, 2, true},
		{"queue over soft cap", 3, 2, 3, 4, true},
		{"queue full, slot free", 3, 2, 2, 2, false},
		{"zero waiting, active full", 2, 0, 2, 0, true},
		{"zero waiting, slot free", 2, 0, 1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := manualManager(t, tt.maxActive, tt.maxWaiting)
			m.mu.Lock()
			for i := 0; i < tt.active; i++ {
				m.active = append(m.active, newFake(fmt.Sprintf("a%d", i), nil))
			}
			for i := 0; i < tt.waiting; i++ {
				m.waiting = append(m.waiting, newFake(fmt.Sprintf("w%d", i), nil))
			}
			m.mu.Unlock()

			assert.Equal(t, tt.want, m.IsBusy())
			assert.Equal(t, tt.want, m.Stats().Busy)
		})
	}
}

func TestSubmit_BlocksWhileBusy(t *testing.T) {
	m := liveManager(t, 1, 1)
	ctx := context.Background()

	t1 := newFake("t1", nil)
	require.NoError(t, m.Submit(ctx, t1))
	require.NoError(t, m.Submit(ctx, newFake("t2", nil)))
	require.Eventually(t, m.IsBusy, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- m.Submit(ctx, newFake("t3", nil))
	}()

	select {
	case err := <-done:
		t.Fatalf("Submit returned %v while the manager was busy", err)
	case <-time.After(30 * time.Millisecond):
	}

	t1.finish(model.TaskStateCompleted)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit still blocked after a slot was freed")
	}

	require.Eventually(t, func() bool {
		_, waiting := slots(m)
		return len(waiting) == 1 && waiting[0] == "t3"
	}, time.Second, time.Millisecond)
}

func TestSubmit_ContextCancelledWhileBlocked(t *testing.T) {
	m := liveManager(t, 1, 0)
	require.NoError(t, m.Submit(context.Background(), newFake("t1", nil)))
	require.Eventually(t, m.IsBusy, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Submit(ctx, newFake("t2", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, waiting := slots(m)
	assert.Empty(t, waiting)
}

func TestSubmit_StopWhileBlocked(t *testing.T) {
	m := liveManager(t, 1, 0)
	require.NoError(t, m.Submit(context.Background(), newFake("t1", nil)))
	require.Eventually(t, m.IsBusy, time.Second, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- m.Submit(context.Background(), newFake("t2", nil))
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, m.Stop(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("blocked Submit did not return after Stop")
	}
}

func TestStop_CancelsEveryTaskOnce(t *testing.T) {
	events := &eventLog{}
	m := manualManager(t, 2, 5, WithObserver(events))
	ctx := context.Background()

	tasks := make([]*fakeTask, 5)
	for i := range tasks {
		tasks[i] = newFake(fmt.Sprintf("t%d", i), nil)
		require.NoError(t, m.Submit(ctx, tasks[i]))
	}
	m.Tick(ctx)

	active, waiting := slots(m)
	require.Len(t, active, 2)
	require.Len(t, waiting, 3)

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx), "second Stop must be a no-op")

	for _, task := range tasks {
		_, cancels, _ := task.counts()
		assert.Equal(t, 1, cancels, "task %s", task.name)
	}
	assert.True(t, m.Stopped())

	stats := m.Stats()
	assert.False(t, stats.Running)
	assert.Zero(t, stats.Active)
	assert.Zero(t, stats.Waiting)
	assert.EqualValues(t, 5, stats.Cancelled)

	select {
	case <-m.doneCh:
	default:
		t.Fatal("monitor still running after Stop")
	}

	cancelled := 0
	for _, k := range events.kinds() {
		if k == model.EventCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 5, cancelled)
}

func TestStop_NoMutationAfterwards(t *testing.T) {
	m := manualManager(t, 1, 1)
	ctx := context.Background()
	late := newFake("late", nil)

	require.NoError(t, m.Stop(ctx))
	assert.ErrorIs(t, m.Submit(ctx, late), ErrStopped)

	m.Tick(ctx)
	starts, cancels, polls := late.counts()
	assert.Zero(t, starts)
	assert.Zero(t, cancels)
	assert.Zero(t, polls)
	assert.ErrorIs(t, m.Wait(ctx), ErrStopped)
}

func TestStop_ReturnsCancelError(t *testing.T) {
	events := &eventLog{}
	m := manualManager(t, 2, 2, WithObserver(events))
	ctx := context.Background()

	ok := newFake("ok", nil)
	bad := newFake("bad", nil)
	bad.cancelErr = errors.New("platform unreachable")
	require.NoError(t, m.Submit(ctx, ok))
	require.NoError(t, m.Submit(ctx, bad))

	err := m.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cancel bad")
	assert.Contains(t, err.Error(), "platform unreachable")

	_, cancels, _ := ok.counts()
	assert.Equal(t, 1, cancels, "a failing cancel must not skip the others")

	stats := m.Stats()
	assert.EqualValues(t, 1, stats.Cancelled)
	assert.EqualValues(t, 1, stats.CancelFailures)
	assert.ElementsMatch(t, []model.EventKind{
		model.EventSubmitted, model.EventSubmitted,
		model.EventCancelled, model.EventCancelFailed,
	}, events.kinds())
}

func TestStop_FinishedTaskRecordedAsRetired(t *testing.T) {
	events := &eventLog{}
	m := manualManager(t, 2, 2, WithObserver(events))
	ctx := context.Background()

	done := newFake("done", nil)
	busy := newFake("busy", nil)
	require.NoError(t, m.Submit(ctx, done))
	require.NoError(t, m.Submit(ctx, busy))
	m.Tick(ctx)
	done.finish(model.TaskStateCompleted)

	require.NoError(t, m.Stop(ctx))

	for _, task := range []*fakeTask{done, busy} {
		_, cancels, _ := task.counts()
		assert.Equal(t, 1, cancels, "task %s", task.name)
	}
	stats := m.Stats()
	assert.EqualValues(t, 1, stats.Cancelled)
	assert.EqualValues(t, 1, stats.Retired)

	events.mu.Lock()
	defer events.mu.Unlock()
	byTask := map[string]model.Event{}
	for _, ev := range events.events {
		if ev.Kind != model.EventSubmitted && ev.Kind != model.EventStarted {
			byTask[ev.Task] = ev
		}
	}
	assert.Equal(t, model.EventRetired, byTask["done"].Kind)
	assert.Equal(t, model.TaskStateCompleted, byTask["done"].State)
	assert.Equal(t, model.EventCancelled, byTask["busy"].Kind)
}

func TestWait_ReturnsWhenDrained(t *testing.T) {
	m := liveManager(t, 2, 2)
	ctx := context.Background()

	tasks := make([]*fakeTask, 6)
	for i := range tasks {
		tasks[i] = newFake(fmt.Sprintf("t%d", i), nil)
		tasks[i].finishAfter = 2
		require.NoError(t, m.Submit(ctx, tasks[i]))
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(waitCtx))

	for _, task := range tasks {
		starts, _, _ := task.counts()
		assert.Equal(t, 1, starts, "task %s", task.name)
	}
	stats := m.Stats()
	assert.Zero(t, stats.Waiting)
	assert.EqualValues(t, 6, stats.Started)
}

func TestWait_ContextCancelled(t *testing.T) {
	m := liveManager(t, 1, 1)
	require.NoError(t, m.Submit(context.Background(), newFake("forever", nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.Wait(ctx), context.DeadlineExceeded)
}

func TestConcurrentProducers(t *testing.T) {
	const producers, perProducer = 4, 10
	m := liveManager(t, 3, 2)
	ctx := context.Background()

	var mu sync.Mutex
	var all []*fakeTask
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				task := newFake(fmt.Sprintf("p%d-%d", p, i), nil)
				task.finishAfter = 1
				mu.Lock()
				all = append(all, task)
				mu.Unlock()
				if err := m.Submit(ctx, task); err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
			}
		}()
	}

	wg.Wait()
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(waitCtx))

	require.Len(t, all, producers*perProducer)
	for _, task := range all {
		starts, _, _ := task.counts()
		assert.Equal(t, 1, starts, "task %s", task.name)
	}
	assert.EqualValues(t, producers*perProducer, m.Stats().Submitted)
}

func TestSubmit_ZeroWaitingUnblocksWhenSlotFrees(t *testing.T) {
	m := liveManager(t, 1, 0)
	ctx := context.Background()

	t1 := newFake("t1", nil)
	require.NoError(t, m.Submit(ctx, t1))
	require.Eventually(t, func() bool {
		active, _ := slots(m)
		return len(active) == 1
	}, time.Second, time.Millisecond)
	require.True(t, m.IsBusy())

	done := make(chan error, 1)
	go func() {
		submitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		done <- m.Submit(submitCtx, newFake("t2", nil))
	}()

	select {
	case err := <-done:
		t.Fatalf("Submit returned %v while the only slot was taken", err)
	case <-time.After(30 * time.Millisecond):
	}

	t1.finish(model.TaskStateCompleted)
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		active, _ := slots(m)
		return len(active) == 1 && active[0] == "t2"
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, m.Stats().Retired)
}

func TestEvents_DeliveredInStateChangeOrder(t *testing.T) {
	events := &eventLog{}
	m := liveManager(t, 2, 1, WithObserver(events))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < 3; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				task := newFake(fmt.Sprintf("p%d-%d", p, i), nil)
				task.finishAfter = 1
				if err := m.Submit(ctx, task); err != nil {
					t.Errorf("Submit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(waitCtx))

	events.mu.Lock()
	defer events.mu.Unlock()
	submitted := map[string]int{}
	for i, ev := range events.events {
		switch ev.Kind {
		case model.EventSubmitted:
			submitted[ev.Task] = i
		case model.EventStarted:
			at, ok := submitted[ev.Task]
			require.True(t, ok, "task %s started before it was submitted", ev.Task)
			assert.Less(t, at, i)
		}
	}
	assert.Len(t, submitted, 24)
}
