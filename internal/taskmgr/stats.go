package taskmgr

// counters accumulate over the manager lifetime. Guarded by Manager.mu.
type counters struct {
	submitted      int64
	started        int64
	retired        int64
	failed         int64
	startFailures  int64
	statusErrors   int64
	polls          int64
	cancelled      int64
	cancelFailures int64
}

// Stats is a point-in-time snapshot of a Manager.
type Stats struct {
	RunID      string `json:"run_id,omitempty"`
	Running    bool   `json:"running"`
	Busy       bool   `json:"busy"`
	Active     int    `json:"active"`
	Waiting    int    `json:"waiting"`
	Cursor     int    `json:"cursor"`
	MaxActive  int    `json:"max_active"`
	MaxWaiting int    `json:"max_waiting"`

	Submitted      int64 `json:"submitted"`
	Started        int64 `json:"started"`
	Retired        int64 `json:"retired"`
	Failed         int64 `json:"failed"`
	StartFailures  int64 `json:"start_failures"`
	StatusErrors   int64 `json:"status_errors"`
	Polls          int64 `json:"polls"`
	Cancelled      int64 `json:"cancelled"`
	CancelFailures int64 `json:"cancel_failures"`
}

// Stats returns a consistent snapshot of the manager state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		RunID:      m.runID,
		Running:    m.running,
		Busy:       m.busyLocked(),
		Active:     len(m.active),
		Waiting:    len(m.waiting),
		Cursor:     m.cursor,
		MaxActive:  m.cfg.MaxActive,
		MaxWaiting: m.cfg.MaxWaiting,

		Submitted:      m.stats.submitted,
		Started:        m.stats.started,
		Retired:        m.stats.retired,
		Failed:         m.stats.failed,
		StartFailures:  m.stats.startFailures,
		StatusErrors:   m.stats.statusErrors,
		Polls:          m.stats.polls,
		Cancelled:      m.stats.cancelled,
		CancelFailures: m.stats.cancelFailures,
	}
}
