package counting

import (
	"log"
	"sync"
	"time"
)

// ReIDSubsystem is the engine's view of the Re-ID gallery (spec §4.4). It is
// consulted only the first time a track_id is observed, so the engine
// never depends on how embeddings are computed or stored.
type ReIDSubsystem interface {
	// Link matches or registers a person for a newly-seen track_id and
	// returns the linked person_id plus any directions already counted for
	// that person since the last reset, to be imported into the new
	// track's state (spec §4.3, "Re-ID linkage"). ok is false when Re-ID is
	// disabled or the observation carries no usable patch.
	Link(obs Observation) (personID string, imported map[Direction]struct{}, ok bool)

	// RecordCrossing tells the gallery that person_id counted direction d,
	// so a future track linked to the same person imports it.
	RecordCrossing(personID string, d Direction)

	// Reset clears the gallery's counted-direction bookkeeping on a counter
	// reset; clearGallery additionally discards every person and embedding.
	Reset(clearGallery bool)
}

// Engine is the single-writer counting state machine described in spec
// §4.3. It is not safe for concurrent use — exactly one goroutine (the CV
// worker, C6) may call Observe/MaybeCleanup/Reset.
type Engine struct {
	mu sync.RWMutex // guards only the fields read by Stats from other goroutines

	cfg   Config
	reid  ReIDSubsystem // nil when Re-ID is disabled
	clock func() time.Time

	tracks map[int]*TrackState

	inCount, outCount int64
	lastCleanup        time.Time
}

// New creates a counting engine. reid may be nil to disable Re-ID linkage
// entirely, independent of cfg.ReIDEnabled (both must agree for linkage to
// run; this lets callers pass a gallery but still flip ReIDEnabled off).
func New(cfg Config, reid ReIDSubsystem) *Engine {
	return &Engine{
		cfg:    cfg,
		reid:   reid,
		clock:  time.Now,
		tracks: make(map[int]*TrackState),
	}
}

// SetClock overrides the wall-clock source, for deterministic tests.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// UpdateConfig swaps the engine's tuning in place. Track state is
// preserved; only geometry/tuning parameters change for subsequent
// observations (spec §4.7, reconfiguration preserves engine state).
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Observe consumes one detector+tracker observation and returns a promoted
// CrossingEvent if this observation qualifies as a counted crossing (spec
// §4.3). The returned event has no ID — the caller persists it and gets an
// ID back. Observe never blocks and never fails except by silently
// dropping malformed boxes (returns nil, false), per §4.3 failure
// semantics.
func (e *Engine) Observe(obs Observation) (*CrossingEvent, bool) {
	if obs.BBox.Area() <= 0 {
		log.Printf("counting: dropping observation for track %d: malformed bbox %+v", obs.TrackID, obs.BBox)
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	cx, _ := obs.BBox.Center()
	area := obs.BBox.Area()
	side := sideOf(cx, e.cfg.LineX)

	track, known := e.tracks[obs.TrackID]
	if !known {
		track = e.newTrack(obs, side)
		e.tracks[obs.TrackID] = track
		// A brand new track cannot have crossed yet; just record initial state.
		return nil, false
	}

	event, promoted := e.evaluateCrossing(track, obs, side, cx, area)

	track.LastCX = cx
	track.LastBBoxArea = area
	track.LastSide = side
	track.LastSeenTS = obs.Timestamp

	return event, promoted
}

func (e *Engine) newTrack(obs Observation, side Side) *TrackState {
	track := newTrackState(obs, side)

	if e.cfg.ReIDEnabled && e.reid != nil {
		if personID, imported, ok := e.reid.Link(obs); ok {
			track.PersonID = personID
			for d := range imported {
				track.markCounted(d)
			}
		}
	}
	return track
}

// evaluateCrossing implements the primary rule of §4.3: a crossing
// candidate exists when the side changed; it is promoted to a counted
// event only when all four gates pass.
func (e *Engine) evaluateCrossing(track *TrackState, obs Observation, side Side, cx, area float64) (*CrossingEvent, bool) {
	if side == track.LastSide {
		return nil, false // no side change, no candidate
	}

	// Gate 1: distance qualification.
	if absF(cx-e.cfg.LineX) < e.cfg.HysteresisPx {
		return nil, false
	}

	// Gate 2: movement qualification (area-change gate).
	denom := track.LastBBoxArea
	if denom < 1 {
		denom = 1
	}
	if absF(area-track.LastBBoxArea)/denom < e.cfg.AreaChangeThreshold {
		return nil, false
	}

	// Gate 3: direction mapping.
	dir := mapToDirection(track.LastSide, side, e.cfg.DirectionIn)

	// Gate 4: deduplication, scoped by person_id when Re-ID links this track.
	if track.hasCounted(dir) {
		return nil, false
	}

	track.markCounted(dir)
	if dir == DirIn {
		e.inCount++
	} else {
		e.outCount++
	}

	if track.PersonID != "" && e.reid != nil {
		e.reid.RecordCrossing(track.PersonID, dir)
	}

	return &CrossingEvent{
		Timestamp: obs.Timestamp,
		TrackID:   track.TrackID,
		PersonID:  track.PersonID,
		Direction: dir,
	}, true
}

// MaybeCleanup evicts tracks idle longer than MaxAge, at most once per
// CleanupInterval (spec §4.3 "Cleanup"). Call it once per observed frame;
// it is a no-op between intervals.
func (e *Engine) MaybeCleanup(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.CleanupInterval > 0 && now.Sub(e.lastCleanup) < e.cfg.CleanupInterval {
		return
	}
	e.lastCleanup = now

	for id, t := range e.tracks {
		if now.Sub(t.LastSeenTS) > e.cfg.MaxAge {
			delete(e.tracks, id)
		}
	}
}

// RestoreCounts seeds the engine's counters from the event store's all-time
// totals (spec §9, "counts survive process restart by replaying from the
// store"). It must be called before Observe starts running on the worker
// goroutine; it does not touch track state.
func (e *Engine) RestoreCounts(in, out int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inCount = in
	e.outCount = out
}

// Reset zeroes the counters and clears all track state (spec §4.3
// "Reset"). It is idempotent: calling it twice in a row has the same
// effect as calling it once. Stored events are never touched.
func (e *Engine) Reset(clearGallery bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.inCount = 0
	e.outCount = 0
	e.tracks = make(map[int]*TrackState)

	if e.reid != nil {
		e.reid.Reset(clearGallery)
	}
}

// Stats returns a read-only snapshot of the engine's counters, safe to
// call from any goroutine (spec §9, "expose to readers only through
// immutable snapshots").
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{
		InCount:      e.inCount,
		OutCount:     e.outCount,
		ActiveTracks: len(e.tracks),
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
