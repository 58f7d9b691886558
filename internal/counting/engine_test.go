package counting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func baseConfig() Config {
	return Config{
		LineX:               400,
		DirectionIn:         MapLeftToRightIsIn,
		HysteresisPx:        10,
		AreaChangeThreshold: 0.1,
		MaxAge:              2 * time.Second,
		CleanupInterval:     time.Second,
	}
}

func feed(e *Engine, trackID int, xs []float64, areas []float64, start time.Time, step time.Duration) []*CrossingEvent {
	var events []*CrossingEvent
	ts := start
	for i, x := range xs {
		area := areas[i]
		halfWidth := area / 40 // height fixed at 20px, so width = area/20
		obs := Observation{
			TrackID:   trackID,
			BBox:      BBox{X1: x - halfWidth, Y1: 100, X2: x + halfWidth, Y2: 120},
			Timestamp: ts,
		}
		if ev, ok := e.Observe(obs); ok {
			events = append(events, ev)
		}
		ts = ts.Add(step)
	}
	return events
}

// Scenario 1: single crossing L->R with direction_in = L->R.
func TestEngine_SingleCrossingCountsIN(t *testing.T) {
	e := New(baseConfig(), nil)
	start := time.Now()

	xs := []float64{100, 300, 500, 700}
	areas := []float64{10000, 10000, 20000, 10000} // area changes so gate 2 passes at the crossing step
	events := feed(e, 1, xs, areas, start, 100*time.Millisecond)

	assert.Len(t, events, 1)
	assert.Equal(t, DirIn, events[0].Direction)
	assert.Equal(t, 1, events[0].TrackID)

	stats := e.Stats()
	assert.EqualValues(t, 1, stats.InCount)
	assert.EqualValues(t, 0, stats.OutCount)
}

// Scenario 2: jitter around the line is suppressed by hysteresis.
func TestEngine_JitterSuppressed(t *testing.T) {
	cfg := baseConfig()
	cfg.AreaChangeThreshold = 0.0
	e := New(cfg, nil)
	start := time.Now()

	xs := []float64{395, 405, 395, 405, 395}
	areas := []float64{10000, 10000, 10000, 10000, 10000}
	events := feed(e, 1, xs, areas, start, 50*time.Millisecond)

	assert.Empty(t, events)
	stats := e.Stats()
	assert.EqualValues(t, 0, stats.InCount)
	assert.EqualValues(t, 0, stats.OutCount)
}

// Scenario 3: the area-change gate blocks a pure lateral crossing.
func TestEngine_AreaGateBlocksLateralCrossing(t *testing.T) {
	cfg := baseConfig()
	cfg.AreaChangeThreshold = 0.15
	e := New(cfg, nil)
	start := time.Now()

	xs := []float64{100, 700}
	areas := []float64{10000, 10000} // constant area: no approach/recede
	events := feed(e, 1, xs, areas, start, 100*time.Millisecond)

	assert.Empty(t, events)
}

// Scenario 4: deduplication — at most one IN and one OUT per track.
func TestEngine_DedupPerTrackAllowsOneInAndOneOut(t *testing.T) {
	e := New(baseConfig(), nil)
	start := time.Now()

	// Cross L->R (IN), then R->L (OUT), then L->R again (already counted, suppressed).
	xs := []float64{100, 700, 100, 700}
	areas := []float64{10000, 20000, 10000, 20000}
	events := feed(e, 7, xs, areas, start, 100*time.Millisecond)

	assert.Len(t, events, 2)
	assert.Equal(t, DirIn, events[0].Direction)
	assert.Equal(t, DirOut, events[1].Direction)

	stats := e.Stats()
	assert.EqualValues(t, 1, stats.InCount)
	assert.EqualValues(t, 1, stats.OutCount)
}

// Scenario 5: track timeout and reappearance without Re-ID double-counts.
func TestEngine_ReappearanceWithoutReIDDoubleCounts(t *testing.T) {
	e := New(baseConfig(), nil)
	start := time.Now()

	events := feed(e, 42, []float64{100, 700}, []float64{10000, 20000}, start, 100*time.Millisecond)
	assert.Len(t, events, 1)
	assert.Equal(t, DirIn, events[0].Direction)

	e.MaybeCleanup(start.Add(5 * time.Second)) // track 42 evicted (max_age exceeded)

	events = feed(e, 77, []float64{100, 700}, []float64{10000, 20000}, start.Add(5*time.Second), 100*time.Millisecond)
	assert.Len(t, events, 1)
	assert.Equal(t, DirIn, events[0].Direction)

	stats := e.Stats()
	assert.EqualValues(t, 2, stats.InCount)
}

type fakeReID struct {
	personID string
	imported map[Direction]struct{}
	linkOK   bool
	resetN   int
}

func (f *fakeReID) Link(Observation) (string, map[Direction]struct{}, bool) {
	return f.personID, f.imported, f.linkOK
}
func (f *fakeReID) RecordCrossing(string, Direction) {}
func (f *fakeReID) Reset(bool)                        { f.resetN++ }

// Scenario 6: with Re-ID linking the reappearing track to an existing
// person whose IN is already counted, no second event is emitted.
func TestEngine_ReIDLinkSuppressesDuplicateAcrossTracks(t *testing.T) {
	cfg := baseConfig()
	cfg.ReIDEnabled = true
	reid := &fakeReID{personID: "P0001", imported: map[Direction]struct{}{DirIn: {}}, linkOK: true}
	e := New(cfg, reid)
	start := time.Now()

	events := feed(e, 77, []float64{100, 700}, []float64{10000, 20000}, start, 100*time.Millisecond)
	assert.Empty(t, events, "IN was imported from the gallery so no new event should fire")

	stats := e.Stats()
	assert.EqualValues(t, 0, stats.InCount, "import only suppresses dedup, it does not re-increment the in-memory counter")
}

func TestEngine_ResetIsIdempotent(t *testing.T) {
	e := New(baseConfig(), nil)
	start := time.Now()
	feed(e, 1, []float64{100, 700}, []float64{10000, 20000}, start, 100*time.Millisecond)

	e.Reset(false)
	first := e.Stats()
	e.Reset(false)
	second := e.Stats()

	assert.Equal(t, first, second)
	assert.EqualValues(t, 0, second.InCount)
	assert.Equal(t, 0, second.ActiveTracks)
}

func TestEngine_MalformedBBoxDropped(t *testing.T) {
	e := New(baseConfig(), nil)
	ev, ok := e.Observe(Observation{TrackID: 1, BBox: BBox{X1: 10, Y1: 10, X2: 5, Y2: 20}, Timestamp: time.Now()})
	assert.False(t, ok)
	assert.Nil(t, ev)
	assert.Equal(t, 0, e.Stats().ActiveTracks)
}
