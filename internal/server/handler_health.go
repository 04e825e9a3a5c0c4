package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Manager   string `json:"manager"`
	Journal   string `json:"journal"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	manager := "detached"
	if s.manager != nil {
		manager = "stopped"
		if s.manager.Stats().Running {
			manager = "running"
		}
	}
	journal := "ok"
	if _, _, err := s.journal.ListRuns(r.Context(), listOne); err != nil {
		journal = "error: " + err.Error()
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Manager:   manager,
		Journal:   journal,
	})
}
