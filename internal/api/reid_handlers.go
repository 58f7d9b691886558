package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultGalleryMaxAgeDays = 30

// ListPersons returns every person currently held in the Re-ID gallery
// (spec §6, GET /api/reid/persons). Re-ID's Gallery is safe for concurrent
// access, so this reads directly without going through Worker.Execute.
func (s *Server) ListPersons(w http.ResponseWriter, r *http.Request) {
	gallery := s.Gallery()
	if gallery == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, gallery.List())
}

// GetPerson returns a single gallery entry by person_id (spec §6, GET
// /api/reid/persons/{id}).
func (s *Server) GetPerson(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	gallery := s.Gallery()
	if gallery == nil {
		writeError(w, http.StatusNotFound, "not_found", "person not found", "")
		return
	}
	person, ok := gallery.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "person not found", "")
		return
	}
	writeJSON(w, http.StatusOK, person)
}

// ClearGallery discards every person and embedding (spec §6, POST
// /api/reid/clear).
func (s *Server) ClearGallery(w http.ResponseWriter, r *http.Request) {
	gallery := s.Gallery()
	if gallery == nil {
		writeError(w, http.StatusNotFound, "not_found", "re-id not enabled", "")
		return
	}
	gallery.Reset(true)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// CleanupGallery evicts persons not seen within ?max_age_days= (default 30)
// (spec §6, POST /api/reid/cleanup).
func (s *Server) CleanupGallery(w http.ResponseWriter, r *http.Request) {
	gallery := s.Gallery()
	if gallery == nil {
		writeError(w, http.StatusNotFound, "not_found", "re-id not enabled", "")
		return
	}

	days := defaultGalleryMaxAgeDays
	if v := r.URL.Query().Get("max_age_days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}

	evicted := gallery.Cleanup(time.Now(), time.Duration(days)*24*time.Hour)
	writeJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}
