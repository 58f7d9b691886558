package analytics_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/analytics"
	"github.com/linetally/peoplecount/internal/counting"
)

type fakeStore struct {
	events []counting.CrossingEvent
}

func (f *fakeStore) Range(ctx context.Context, start, end time.Time) ([]counting.CrossingEvent, error) {
	var out []counting.CrossingEvent
	for _, ev := range f.events {
		if !ev.Timestamp.Before(start) && ev.Timestamp.Before(end) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("UTC")
	assert.NoError(t, err)
	return loc
}

func ev(ts time.Time, dir counting.Direction) counting.CrossingEvent {
	return counting.CrossingEvent{Timestamp: ts, Direction: dir}
}

func TestAnalyzer_PeriodDay(t *testing.T) {
	loc := mustLoc(t)
	anchor := time.Date(2026, 3, 10, 15, 0, 0, 0, loc)
	store := &fakeStore{events: []counting.CrossingEvent{
		ev(time.Date(2026, 3, 10, 8, 0, 0, 0, loc), counting.DirIn),
		ev(time.Date(2026, 3, 10, 9, 0, 0, 0, loc), counting.DirOut),
		ev(time.Date(2026, 3, 11, 8, 0, 0, 0, loc), counting.DirIn), // outside the day
	}}
	a := analytics.New(store, loc)

	result, err := a.Period(context.Background(), analytics.PeriodDay, anchor)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, result.InCount)
	assert.EqualValues(t, 1, result.OutCount)
	assert.EqualValues(t, 0, result.NetFlow)
	assert.EqualValues(t, 2, result.TotalEvents)
}

func TestAnalyzer_HourlyZeroFills(t *testing.T) {
	loc := mustLoc(t)
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
	store := &fakeStore{events: []counting.CrossingEvent{
		ev(time.Date(2026, 3, 10, 9, 30, 0, 0, loc), counting.DirIn),
	}}
	a := analytics.New(store, loc)

	points, err := a.Hourly(context.Background(), day)
	assert.NoError(t, err)
	assert.Len(t, points, 24)
	assert.EqualValues(t, 1, points[9].In)
	assert.EqualValues(t, 0, points[0].In)
	assert.Equal(t, 9, points[9].Hour)
}

func TestAnalyzer_DailyRangeZeroFillsGaps(t *testing.T) {
	loc := mustLoc(t)
	start := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
	end := time.Date(2026, 3, 12, 0, 0, 0, 0, loc)
	store := &fakeStore{events: []counting.CrossingEvent{
		ev(time.Date(2026, 3, 10, 8, 0, 0, 0, loc), counting.DirIn),
		// 3/11 has no events
		ev(time.Date(2026, 3, 12, 8, 0, 0, 0, loc), counting.DirOut),
	}}
	a := analytics.New(store, loc)

	points, err := a.DailyRange(context.Background(), start, end)
	assert.NoError(t, err)
	assert.Len(t, points, 3)
	assert.Equal(t, "2026-03-10", points[0].Date)
	assert.EqualValues(t, 1, points[0].In)
	assert.Equal(t, "2026-03-11", points[1].Date)
	assert.EqualValues(t, 0, points[1].In)
	assert.EqualValues(t, 0, points[1].Out)
	assert.Equal(t, "2026-03-12", points[2].Date)
	assert.EqualValues(t, 1, points[2].Out)
}

func TestAnalyzer_WeekdayStatsReturnsSevenRowsMondayFirst(t *testing.T) {
	loc := mustLoc(t)
	a := analytics.New(&fakeStore{}, loc)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, loc) })

	points, err := a.WeekdayStats(context.Background(), 30)
	assert.NoError(t, err)
	assert.Len(t, points, 7)
	assert.Equal(t, "Mon", points[0].Weekday)
	assert.Equal(t, "Sun", points[6].Weekday)
}

func TestAnalyzer_GrowthTrendStableWhenNoEvents(t *testing.T) {
	loc := mustLoc(t)
	a := analytics.New(&fakeStore{}, loc)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, loc) })

	trend, err := a.GrowthTrend(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "stable", trend.Trend)
	assert.Zero(t, trend.WeekChangePercent)
}

func TestAnalyzer_PeakHourAvgEmptyReturnsNilPeak(t *testing.T) {
	loc := mustLoc(t)
	a := analytics.New(&fakeStore{}, loc)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, loc) })

	peak, err := a.PeakHourAvg(context.Background(), 30)
	assert.NoError(t, err)
	assert.Nil(t, peak.PeakHour)
}

func TestAnalyzer_PeakHourAvgFindsBusiestHour(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, loc)
	store := &fakeStore{}
	for d := 0; d < 5; d++ {
		day := now.AddDate(0, 0, -d)
		store.events = append(store.events,
			ev(time.Date(day.Year(), day.Month(), day.Day(), 9, 0, 0, 0, loc), counting.DirIn),
			ev(time.Date(day.Year(), day.Month(), day.Day(), 9, 5, 0, 0, loc), counting.DirIn),
			ev(time.Date(day.Year(), day.Month(), day.Day(), 17, 0, 0, 0, loc), counting.DirOut),
		)
	}
	a := analytics.New(store, loc)
	a.SetClock(func() time.Time { return now })

	peak, err := a.PeakHourAvg(context.Background(), 30)
	assert.NoError(t, err)
	assert.NotNil(t, peak.PeakHour)
	assert.Equal(t, 9, *peak.PeakHour)
}

func TestAnalyzer_PredictPeakEmptyReturnsZeroValue(t *testing.T) {
	loc := mustLoc(t)
	a := analytics.New(&fakeStore{}, loc)
	a.SetClock(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, loc) })

	predicted, err := a.PredictPeak(context.Background(), 30)
	assert.NoError(t, err)
	assert.Nil(t, predicted.PredictedHour)
	assert.Zero(t, predicted.Confidence)
}

func TestAnalyzer_AveragesZeroWithoutFullPeriod(t *testing.T) {
	loc := mustLoc(t)
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, loc)
	store := &fakeStore{events: []counting.CrossingEvent{
		ev(now.Add(-2 * time.Hour), counting.DirIn),
	}}
	a := analytics.New(store, loc)
	a.SetClock(func() time.Time { return now })

	avgs, err := a.Averages(context.Background(), now.Add(-2*time.Hour))
	assert.NoError(t, err)
	assert.Zero(t, avgs.AvgPerWeek)
	assert.Zero(t, avgs.AvgPerMonth)
}
