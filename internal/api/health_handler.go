package api

import "net/http"

type healthResponse struct {
	OK         bool    `json:"ok"`
	StreamMode string  `json:"stream_mode"`
	VPSStatus  *string `json:"vps_status,omitempty"`
}

// Health is the unauthenticated liveness probe (spec §6, GET /health).
// stream_mode mirrors the worker's camera status; vps_status is omitted
// here since this deployment has no upstream VPS relay to report on.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	status := s.Worker.Status()
	writeJSON(w, http.StatusOK, healthResponse{
		OK:         true,
		StreamMode: string(status.CameraStatus),
	})
}
