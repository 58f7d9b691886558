package api

import (
	"net/http"
	"strconv"

	"github.com/linetally/peoplecount/internal/counting"
)

const defaultEventsLimit = 100

// ListEvents returns the most recent stored events (spec §6, GET
// /api/events?limit=N).
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 {
			limit = v
		}
	}

	events, err := s.Events.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load events", "")
		return
	}
	if events == nil {
		events = []counting.CrossingEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ClearEvents deletes every stored event (spec §6, POST /api/events/clear).
func (s *Server) ClearEvents(w http.ResponseWriter, r *http.Request) {
	if err := s.Events.ClearAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to clear events", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
