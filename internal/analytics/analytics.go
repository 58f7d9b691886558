// Package analytics implements the pure, on-demand analytics queries (C8)
// of spec §4.8: period summaries, hourly/daily/monthly breakdowns, weekday
// stats, averages, growth trend and a peak-hour prediction, all computed
// over raw events fetched from the store so every boundary is evaluated in
// a single, explicitly configured time zone.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/linetally/peoplecount/internal/counting"
)

// Source is the slice of the event store analytics needs: a plain range
// scan. Aggregation happens here, in Go, against a.loc, rather than in SQL,
// so results never depend on the database session's time zone.
type Source interface {
	Range(ctx context.Context, start, end time.Time) ([]counting.CrossingEvent, error)
}

// Analyzer computes analytics snapshots over Source. now is injectable so
// tests can pin "the present" (spec §4.8, "take a reference now").
type Analyzer struct {
	store Source
	loc   *time.Location
	now   func() time.Time
}

func New(store Source, loc *time.Location) *Analyzer {
	if loc == nil {
		loc = time.Local
	}
	return &Analyzer{store: store, loc: loc, now: time.Now}
}

// SetClock overrides the "now" reference, for deterministic tests.
func (a *Analyzer) SetClock(now func() time.Time) {
	a.now = now
}

func (a *Analyzer) nowLocal() time.Time {
	return a.now().In(a.loc)
}

// PeriodResult is the result of Period.
type PeriodResult struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	InCount     int64     `json:"in_count"`
	OutCount    int64     `json:"out_count"`
	NetFlow     int64     `json:"net_flow"`
	TotalEvents int64     `json:"total_events"`
}

// PeriodKind selects the boundary rule for Period.
type PeriodKind string

const (
	PeriodDay   PeriodKind = "day"
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
)

// Period summarizes events within the day/week/month containing anchor
// (spec §4.8 "period").
func (a *Analyzer) Period(ctx context.Context, kind PeriodKind, anchor time.Time) (*PeriodResult, error) {
	start, end, err := a.periodBounds(kind, anchor)
	if err != nil {
		return nil, err
	}
	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: period: %w", err)
	}
	in, out := tally(events)
	return &PeriodResult{Start: start, End: end, InCount: in, OutCount: out, NetFlow: in - out, TotalEvents: in + out}, nil
}

func (a *Analyzer) periodBounds(kind PeriodKind, anchor time.Time) (time.Time, time.Time, error) {
	anchor = anchor.In(a.loc)
	switch kind {
	case PeriodDay:
		start := startOfDay(anchor)
		return start, start.AddDate(0, 0, 1), nil
	case PeriodWeek:
		start := startOfWeek(anchor)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodMonth:
		start := startOfMonth(anchor)
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("analytics: unknown period kind %q", kind)
	}
}

// HourPoint is one entry of Hourly, zero-filled for hours with no events.
type HourPoint struct {
	Hour int   `json:"hour"`
	In   int64 `json:"in"`
	Out  int64 `json:"out"`
}

// Hourly breaks down a single day into its 24 hours (spec §4.8 "hourly").
func (a *Analyzer) Hourly(ctx context.Context, day time.Time) ([]HourPoint, error) {
	start := startOfDay(day.In(a.loc))
	end := start.AddDate(0, 0, 1)

	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: hourly: %w", err)
	}

	points := make([]HourPoint, 24)
	for h := range points {
		points[h].Hour = h
	}
	for _, ev := range events {
		h := ev.Timestamp.In(a.loc).Hour()
		addDirection(&points[h].In, &points[h].Out, ev.Direction)
	}
	return points, nil
}

// DayPoint is one entry of DailyRange.
type DayPoint struct {
	Date string `json:"date"` // YYYY-MM-DD
	In   int64  `json:"in"`
	Out  int64  `json:"out"`
}

// DailyRange breaks down [startDay, endDay] inclusive into daily totals,
// zero-filled for days with no events (spec §4.8 "daily_range").
func (a *Analyzer) DailyRange(ctx context.Context, startDay, endDay time.Time) ([]DayPoint, error) {
	start := startOfDay(startDay.In(a.loc))
	end := startOfDay(endDay.In(a.loc)).AddDate(0, 0, 1)

	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: daily_range: %w", err)
	}

	days := int(end.Sub(start).Hours() / 24)
	points := make([]DayPoint, days)
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		key := date.Format("2006-01-02")
		points[i] = DayPoint{Date: key}
		index[key] = i
	}
	for _, ev := range events {
		key := ev.Timestamp.In(a.loc).Format("2006-01-02")
		i, ok := index[key]
		if !ok {
			continue
		}
		addDirection(&points[i].In, &points[i].Out, ev.Direction)
	}
	return points, nil
}

// MonthPoint is one entry of MonthlyRange.
type MonthPoint struct {
	Month string `json:"month"` // YYYY-MM
	In    int64  `json:"in"`
	Out   int64  `json:"out"`
}

// MonthlyRange breaks down [startMonth, endMonth] inclusive into monthly
// totals, zero-filled for months with no events (spec §4.8 "monthly_range").
func (a *Analyzer) MonthlyRange(ctx context.Context, startMonth, endMonth time.Time) ([]MonthPoint, error) {
	start := startOfMonth(startMonth.In(a.loc))
	endAnchor := startOfMonth(endMonth.In(a.loc))
	end := endAnchor.AddDate(0, 1, 0)

	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: monthly_range: %w", err)
	}

	var points []MonthPoint
	index := make(map[string]int)
	for m := start; !m.After(endAnchor); m = m.AddDate(0, 1, 0) {
		key := m.Format("2006-01")
		index[key] = len(points)
		points = append(points, MonthPoint{Month: key})
	}
	for _, ev := range events {
		key := ev.Timestamp.In(a.loc).Format("2006-01")
		i, ok := index[key]
		if !ok {
			continue
		}
		addDirection(&points[i].In, &points[i].Out, ev.Direction)
	}
	return points, nil
}

// WeekdayPoint is one entry of WeekdayStats.
type WeekdayPoint struct {
	Weekday string `json:"weekday"` // Mon..Sun
	In      int64  `json:"in"`
	Out     int64  `json:"out"`
	Total   int64  `json:"total"`
}

var weekdayNames = [7]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// WeekdayStats aggregates the last `days` days of events by weekday of
// occurrence (spec §4.8 "weekday_stats"), always returning 7 rows in
// Mon..Sun order.
func (a *Analyzer) WeekdayStats(ctx context.Context, days int) ([]WeekdayPoint, error) {
	if days <= 0 {
		days = 30
	}
	end := startOfDay(a.nowLocal()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("analytics: weekday_stats: %w", err)
	}

	var byWeekday [7]WeekdayPoint
	for i := range byWeekday {
		byWeekday[i].Weekday = weekdayNames[i]
	}
	for _, ev := range events {
		wd := int(ev.Timestamp.In(a.loc).Weekday())
		addDirection(&byWeekday[wd].In, &byWeekday[wd].Out, ev.Direction)
		byWeekday[wd].Total++
	}

	// Mon..Sun order, matching spec's listing.
	out := make([]WeekdayPoint, 0, 7)
	for _, i := range [7]int{1, 2, 3, 4, 5, 6, 0} {
		out = append(out, byWeekday[i])
	}
	return out, nil
}

// Averages is the result of Averages.
type Averages struct {
	AvgPerDay   float64 `json:"avg_per_day"`
	AvgPerWeek  float64 `json:"avg_per_week"`
	AvgPerMonth float64 `json:"avg_per_month"`
}

// Averages computes per-day/week/month averages over all history (spec
// §4.8 "averages"); each is 0 until at least one full period is covered.
func (a *Analyzer) Averages(ctx context.Context, firstEventAt time.Time) (*Averages, error) {
	now := a.nowLocal()
	events, err := a.store.Range(ctx, firstEventAt.In(a.loc), now)
	if err != nil {
		return nil, fmt.Errorf("analytics: averages: %w", err)
	}
	total := int64(len(events))

	span := now.Sub(firstEventAt.In(a.loc))
	days := span.Hours() / 24

	var out Averages
	if days >= 1 {
		out.AvgPerDay = float64(total) / days
	}
	if days >= 7 {
		out.AvgPerWeek = float64(total) / (days / 7)
	}
	if days >= 28 {
		out.AvgPerMonth = float64(total) / (days / 30.4375)
	}
	return &out, nil
}

// GrowthTrend is the result of GrowthTrend.
type GrowthTrend struct {
	WeekChangePercent  float64 `json:"week_change_percent"`
	MonthChangePercent float64 `json:"month_change_percent"`
	Trend              string  `json:"trend"` // up | down | stable
}

// GrowthTrend compares the current week/month to the preceding equal-length
// period (spec §4.8 "growth_trend").
func (a *Analyzer) GrowthTrend(ctx context.Context) (*GrowthTrend, error) {
	now := a.nowLocal()

	weekEnd := now
	weekStart := now.AddDate(0, 0, -7)
	prevWeekStart := now.AddDate(0, 0, -14)

	monthEnd := now
	monthStart := now.AddDate(0, -1, 0)
	prevMonthStart := now.AddDate(0, -2, 0)

	curWeek, err := a.countRange(ctx, weekStart, weekEnd)
	if err != nil {
		return nil, err
	}
	prevWeek, err := a.countRange(ctx, prevWeekStart, weekStart)
	if err != nil {
		return nil, err
	}
	curMonth, err := a.countRange(ctx, monthStart, monthEnd)
	if err != nil {
		return nil, err
	}
	prevMonth, err := a.countRange(ctx, prevMonthStart, monthStart)
	if err != nil {
		return nil, err
	}

	weekChange := percentChange(prevWeek, curWeek)
	monthChange := percentChange(prevMonth, curMonth)

	trend := "stable"
	switch {
	case weekChange > 5:
		trend = "up"
	case weekChange < -5:
		trend = "down"
	}

	return &GrowthTrend{WeekChangePercent: weekChange, MonthChangePercent: monthChange, Trend: trend}, nil
}

func (a *Analyzer) countRange(ctx context.Context, start, end time.Time) (int64, error) {
	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return 0, fmt.Errorf("analytics: count range: %w", err)
	}
	return int64(len(events)), nil
}

func percentChange(prev, cur int64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return 100 * float64(cur-prev) / float64(prev)
}

// PeakHourAvg is the result of PeakHourAvg. PeakHour is nil when there is no
// data at all (spec's empty-data rule: "null ids/dates").
type PeakHourAvg struct {
	PeakHour   *int    `json:"peak_hour"`
	AvgCount   float64 `json:"avg_count"`
	TotalCount float64 `json:"total_count"`
}

// PeakHourAvg finds the hour-of-day with the highest averaged total over
// the last `days` days (spec §4.8 "peak_hour_avg").
func (a *Analyzer) PeakHourAvg(ctx context.Context, days int) (*PeakHourAvg, error) {
	totals, observedDays, err := a.hourlyTotals(ctx, days)
	if err != nil {
		return nil, err
	}

	var peak int
	var peakTotal float64
	var grandTotal float64
	for h, t := range totals {
		grandTotal += t
		if t > peakTotal {
			peak, peakTotal = h, t
		}
	}
	if grandTotal == 0 {
		return &PeakHourAvg{}, nil
	}

	days = effectiveDays(days, observedDays)
	avg := peakTotal / float64(days)
	result := peak
	return &PeakHourAvg{PeakHour: &result, AvgCount: avg, TotalCount: grandTotal}, nil
}

// PredictPeak is the result of PredictPeak.
type PredictPeak struct {
	PredictedHour *int    `json:"predicted_hour"`
	HoursUntil    int     `json:"hours_until"`
	ExpectedCount float64 `json:"expected_count"`
	Confidence    float64 `json:"confidence"`
}

// PredictPeak projects the next occurrence of the historical peak hour
// (spec §4.8 "predict_peak").
func (a *Analyzer) PredictPeak(ctx context.Context, days int) (*PredictPeak, error) {
	if days <= 0 {
		days = 30
	}
	peak, err := a.PeakHourAvg(ctx, days)
	if err != nil {
		return nil, err
	}
	if peak.PeakHour == nil {
		return &PredictPeak{}, nil
	}

	currentHour := a.nowLocal().Hour()
	hoursUntil := (*peak.PeakHour - currentHour + 24) % 24

	totals, observedDays, err := a.hourlyTotals(ctx, days)
	if err != nil {
		return nil, err
	}
	var sum float64
	for _, t := range totals {
		sum += t
	}
	mean := sum / 24
	var ratio float64
	if mean > 0 {
		ratio = peak.AvgCount / (mean / float64(effectiveDays(days, observedDays)))
	}

	confidence := 100 * min(1, float64(observedDays)/float64(days)) * ratio
	confidence = clamp(confidence, 0, 100)

	return &PredictPeak{
		PredictedHour: peak.PeakHour,
		HoursUntil:    hoursUntil,
		ExpectedCount: peak.AvgCount,
		Confidence:    confidence,
	}, nil
}

// hourlyTotals sums events by hour-of-day over the last `days` days,
// returning totals[0..23] and the number of distinct days actually observed
// (bounded by `days`, used for averaging and confidence).
func (a *Analyzer) hourlyTotals(ctx context.Context, days int) ([24]float64, int, error) {
	if days <= 0 {
		days = 30
	}
	end := startOfDay(a.nowLocal()).AddDate(0, 0, 1)
	start := end.AddDate(0, 0, -days)

	events, err := a.store.Range(ctx, start, end)
	if err != nil {
		return [24]float64{}, 0, fmt.Errorf("analytics: hourly totals: %w", err)
	}

	var totals [24]float64
	seenDays := make(map[string]struct{})
	for _, ev := range events {
		local := ev.Timestamp.In(a.loc)
		totals[local.Hour()]++
		seenDays[local.Format("2006-01-02")] = struct{}{}
	}
	observed := len(seenDays)
	if observed == 0 {
		observed = days
	}
	return totals, observed, nil
}

func effectiveDays(configured, observed int) int {
	if observed > 0 && observed < configured {
		return observed
	}
	return configured
}

func tally(events []counting.CrossingEvent) (in, out int64) {
	for _, ev := range events {
		if ev.Direction == counting.DirIn {
			in++
		} else {
			out++
		}
	}
	return
}

func addDirection(in, out *int64, d counting.Direction) {
	if d == counting.DirIn {
		*in++
	} else {
		*out++
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7 // days since Monday
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
