package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/exportq/internal/store"
	"github.com/me/exportq/pkg/model"
)

var listOne = model.ListOptions{Limit: 1}

func (s *Server) handleManager(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.manager == nil {
		respondError(w, reqID, http.StatusNotFound,
			&model.APIError{Code: model.ErrNotFound, Message: "no task manager attached to this server"})
		return
	}
	respondOK(w, reqID, s.manager.Stats())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.journal.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}
	respondList(w, reqID, runs, pagination(opts, total))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	run, err := s.journal.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	respondOK(w, reqID, run)
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	opts, apiErr := parseListOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	if _, err := s.journal.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
			return
		}
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	events, total, err := s.journal.ListEvents(r.Context(), id, opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if events == nil {
		events = []*model.Event{}
	}
	respondList(w, reqID, events, pagination(opts, total))
}

// parseListOptions reads ?limit=, ?offset= and ?kind= and clamps the result.
func parseListOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()

	var details []model.FieldError
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			details = append(details, model.FieldError{Field: "limit", Message: "must be a positive integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			details = append(details, model.FieldError{Field: "offset", Message: "must be a non-negative integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("kind"); v != "" {
		opts.Kind = model.EventKind(v)
		if !opts.Kind.Valid() {
			details = append(details, model.FieldError{Field: "kind", Message: "unknown event kind"})
		}
	}

	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}
