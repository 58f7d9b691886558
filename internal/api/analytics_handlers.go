package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linetally/peoplecount/internal/analytics"
)

// Analytics dispatches GET /api/analytics/{kind} to the matching Analyzer
// query (spec §4.8, §6). Query params are kind-specific: day/week/month take
// ?date=YYYY-MM-DD (default today); hourly takes ?date=; daily/monthly take
// ?start=&end=; weekday-stats/peak-hour-avg/predict-peak take ?days=
// (default 30); averages and growth-trend take no query params.
func (s *Server) Analytics(w http.ResponseWriter, r *http.Request) {
	kind := chi.URLParam(r, "kind")
	ctx := r.Context()
	q := r.URL.Query()

	switch kind {
	case "day", "week", "month":
		anchor := parseDateParam(q.Get("date"), time.Now())
		result, err := s.Analyzer.Period(ctx, analytics.PeriodKind(kind), anchor)
		respondAnalytics(w, result, err)

	case "hourly":
		day := parseDateParam(q.Get("date"), time.Now())
		result, err := s.Analyzer.Hourly(ctx, day)
		respondAnalytics(w, result, err)

	case "daily":
		start, end := parseRangeParams(q, 7)
		result, err := s.Analyzer.DailyRange(ctx, start, end)
		respondAnalytics(w, result, err)

	case "monthly":
		start, end := parseRangeParams(q, 90)
		result, err := s.Analyzer.MonthlyRange(ctx, start, end)
		respondAnalytics(w, result, err)

	case "weekday-stats":
		result, err := s.Analyzer.WeekdayStats(ctx, parseDaysParam(q))
		respondAnalytics(w, result, err)

	case "averages":
		firstAt, ok, err := s.Events.FirstEventAt(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", "failed to load events", "")
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, analytics.Averages{})
			return
		}
		result, err := s.Analyzer.Averages(ctx, firstAt)
		respondAnalytics(w, result, err)

	case "growth-trend":
		result, err := s.Analyzer.GrowthTrend(ctx)
		respondAnalytics(w, result, err)

	case "peak-hour-avg":
		result, err := s.Analyzer.PeakHourAvg(ctx, parseDaysParam(q))
		respondAnalytics(w, result, err)

	case "predict-peak":
		result, err := s.Analyzer.PredictPeak(ctx, parseDaysParam(q))
		respondAnalytics(w, result, err)

	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown analytics kind", "")
	}
}

func respondAnalytics(w http.ResponseWriter, result any, err error) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "failed to compute analytics", "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseDateParam(v string, fallback time.Time) time.Time {
	if v == "" {
		return fallback
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return fallback
	}
	return t
}

func parseRangeParams(q map[string][]string, defaultSpanDays int) (start, end time.Time) {
	end = parseDateParam(first(q["end"]), time.Now())
	start = parseDateParam(first(q["start"]), end.AddDate(0, 0, -defaultSpanDays))
	return start, end
}

func first(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func parseDaysParam(q map[string][]string) int {
	v := first(q["days"])
	if v == "" {
		return 30
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 30
	}
	return n
}
