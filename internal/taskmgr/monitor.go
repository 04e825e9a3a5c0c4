package taskmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/exportq/pkg/model"
)

// monitor runs Tick every PollInterval until Stop closes stopCh.
func (m *Manager) monitor() {
	defer close(m.doneCh)

	m.trace(slog.LevelInfo, "monitor started",
		"max_active", m.cfg.MaxActive,
		"max_waiting", m.cfg.MaxWaiting,
		"poll_interval", m.cfg.PollInterval,
	)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.trace(slog.LevelInfo, "monitor stopping")
			return
		case <-ticker.C:
			m.Tick(context.Background())
		}
	}
}

// Tick runs a single scheduling iteration. The monitor calls it on every
// tick; tests call it directly.
//
// With work waiting, a tick either fills the empty slots (ramp-up) or
// polls the slot under the cursor and replaces its task if it has finished.
// The cursor advances one slot per polling tick.
//
// With nothing waiting the slots are left alone, unless the manager is busy
// (every slot taken and MaxWaiting zero). Then the polled slot is removed
// once its task finishes, so a blocked producer can get in.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	for _, ev := range m.tickLocked(ctx) {
		m.queueLocked(ev)
	}
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) tickLocked(ctx context.Context) []model.Event {
	if !m.running {
		return nil
	}
	if len(m.waiting) == 0 {
		if !m.busyLocked() {
			return nil
		}
		return m.pollLocked(ctx)
	}
	if len(m.active) < m.cfg.MaxActive {
		return m.fillLocked(ctx)
	}
	return m.pollLocked(ctx)
}

// fillLocked starts waiting tasks, oldest first, until every slot is taken
// or the queue is empty.
func (m *Manager) fillLocked(ctx context.Context) []model.Event {
	var events []model.Event
	for len(m.active) < m.cfg.MaxActive && len(m.waiting) > 0 {
		next := m.popWaitingLocked()
		slot := len(m.active)

		if ev, ok := m.startLocked(ctx, next, slot); !ok {
			events = append(events, ev)
			continue
		}
		m.active = append(m.active, next)
		events = append(events, model.Event{Kind: model.EventStarted, Task: describe(next), Slot: slot})
	}
	return events
}

// pollLocked inspects active[cursor] and replaces it if it has finished. With
// nothing waiting the finished task's slot is removed instead.
func (m *Manager) pollLocked(ctx context.Context) []model.Event {
	slot := m.cursor
	if slot < 0 || slot >= len(m.active) {
		panic(fmt.Sprintf("taskmgr: cursor %d out of range [0,%d)", slot, len(m.active)))
	}
	current := m.active[slot]

	callCtx, cancel := m.callContext(ctx)
	status, err := current.Status(callCtx)
	cancel()
	m.stats.polls++

	if err != nil {
		// Skip this slot until the cursor comes round again.
		m.stats.statusErrors++
		name := describe(current)
		m.trace(slog.LevelWarn, "status check failed", "task", name, "slot", slot, "error", err)
		m.advanceLocked()
		return []model.Event{{Kind: model.EventStatusError, Task: name, Slot: slot, Detail: err.Error()}}
	}

	if status.State.IsInFlight() {
		m.advanceLocked()
		return nil
	}

	name := status.Description
	if name == "" {
		name = describe(current)
	}
	state := status.State.Normalize()
	m.stats.retired++
	if state.IsFailure() {
		m.stats.failed++
	}
	m.trace(slog.LevelInfo, "task finished", "task", name, "state", state, "slot", slot)
	events := []model.Event{{Kind: model.EventRetired, Task: name, State: state, Slot: slot}}

	if len(m.waiting) == 0 {
		m.removeSlotLocked(slot)
		return events
	}

	next := m.popWaitingLocked()
	ev, ok := m.startLocked(ctx, next, slot)
	if !ok {
		m.removeSlotLocked(slot)
		return append(events, ev)
	}

	m.active[slot] = next
	m.advanceLocked()
	return append(events, model.Event{Kind: model.EventStarted, Task: describe(next), Slot: slot})
}

// startLocked starts t for slot. On failure it returns the start_failed event
// and false; the task is dropped and never retried.
func (m *Manager) startLocked(ctx context.Context, t Task, slot int) (model.Event, bool) {
	name := describe(t)

	callCtx, cancel := m.callContext(ctx)
	err := t.Start(callCtx)
	cancel()

	if err != nil {
		m.stats.startFailures++
		m.trace(slog.LevelWarn, "start task failed", "task", name, "slot", slot, "error", err)
		return model.Event{Kind: model.EventStartFailed, Task: name, Slot: -1, Detail: err.Error()}, false
	}
	m.stats.started++
	m.trace(slog.LevelInfo, "task started", "task", name, "slot", slot)
	return model.Event{}, true
}

func (m *Manager) popWaitingLocked() Task {
	t := m.waiting[0]
	m.waiting[0] = nil
	m.waiting = m.waiting[1:]
	return t
}

// removeSlotLocked drops active[slot]; the next fill appends a replacement.
// The cursor stays put since the following task shifted into slot.
func (m *Manager) removeSlotLocked(slot int) {
	m.active = append(m.active[:slot], m.active[slot+1:]...)
}

func (m *Manager) advanceLocked() {
	m.cursor = (m.cursor + 1) % m.cfg.MaxActive
}
