package api

import (
	"net/http"
	"time"

	"github.com/linetally/peoplecount/internal/export"
)

type exportRequest struct {
	Format        string  `json:"format"`
	IncludeCharts bool    `json:"include_charts"`
	StartDate     *string `json:"start_date,omitempty"`
	EndDate       *string `json:"end_date,omitempty"`
}

// Export renders stored events to a downloadable file (spec §6, POST
// /api/export). Only csv is implemented; excel/pdf are acknowledged by the
// wire contract but report 501 since no such library exists in the corpus
// this service was built from.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body", "")
		return
	}

	switch export.Format(req.Format) {
	case export.FormatExcel, export.FormatPDF:
		writeError(w, http.StatusNotImplemented, "not_implemented", "format not implemented", "")
		return
	case export.FormatCSV:
	default:
		writeError(w, http.StatusBadRequest, "bad_request", "unknown format", "")
		return
	}

	end := time.Now()
	if req.EndDate != nil {
		if t, err := time.Parse("2006-01-02", *req.EndDate); err == nil {
			end = t
		}
	}
	start := end.AddDate(0, 0, -30)
	if req.StartDate != nil {
		if t, err := time.Parse("2006-01-02", *req.StartDate); err == nil {
			start = t
		}
	}

	events, err := s.Events.Range(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to load events", "")
		return
	}

	data, err := export.CSV(events)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to render export", "")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
