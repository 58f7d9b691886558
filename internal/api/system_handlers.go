package api

import "net/http"

// SystemStatus returns the worker's read-only status snapshot (spec §6,
// GET /api/system/status).
func (s *Server) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := s.Worker.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"camera_status":    status.CameraStatus,
		"model_loaded":     status.ModelLoaded,
		"fps":              status.FPS,
		"active_tracks":    status.ActiveTracks,
		"config_id":        status.ConfigID,
		"subscriber_count": s.Bus.SubscriberCount(),
	})
}

// StatsCurrent returns the live in/out counters (spec §6, GET
// /api/stats/current).
func (s *Server) StatsCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Worker.EngineStats())
}
