package api

import (
	"net/http"

	"github.com/linetally/peoplecount/internal/worker"
)

// Reset zeroes the in-memory counters while preserving stored events and
// the Re-ID gallery (spec §6, POST /api/reset; spec §8, "idempotence of
// reset"). It runs on the worker's own goroutine via Worker.Execute so it
// never races the frame loop's Engine.Observe calls.
func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	ran := s.Worker.Execute(func(deps worker.Deps) {
		deps.Engine.Reset(false)
	})
	if !ran {
		writeError(w, http.StatusServiceUnavailable, "worker_stopped", "worker is not running", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
