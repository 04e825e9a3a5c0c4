package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "exportq API",
		Version:     "v1",
		Description: "Read-only view of export runs and the bounded task manager",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/manager", []string{"GET"}, "Live task manager state: slots, queue, cursor and counters"},
			{"/api/v1/runs", []string{"GET"}, "Recorded runs, newest first"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Single run with its event count"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduling events of a run. Accepts ?kind=, ?limit=, ?offset="},
		},
	})
}
