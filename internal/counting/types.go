// Package counting implements the line-crossing counting engine (C3): the
// state machine that turns a stream of (track_id, bbox, timestamp)
// observations into deduplicated, direction-qualified crossing events.
package counting

import "time"

// Direction is the qualified crossing direction after mapping raw side
// changes through the configured direction_in.
type Direction string

const (
	DirIn  Direction = "IN"
	DirOut Direction = "OUT"
)

// Side is which half of the frame a bounding-box center currently falls on.
type Side string

const (
	SideLeft  Side = "L"
	SideRight Side = "R"
)

// DirectionMapping is the configured mapping from raw L->R / R->L side
// changes to IN/OUT, per the Counting configuration in spec §3.
type DirectionMapping string

const (
	MapLeftToRightIsIn DirectionMapping = "L->R" // L->R counts as IN, R->L counts as OUT
	MapRightToLeftIsIn DirectionMapping = "R->L" // R->L counts as IN, L->R counts as OUT
)

// BBox is a pixel-space axis-aligned bounding box, (x1,y1) top-left and
// (x2,y2) bottom-right, as produced by the detector+tracker adapter (C2).
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Center returns the bounding box's geometric center.
func (b BBox) Center() (cx, cy float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Area returns the bounding box's pixel area. Malformed boxes (non-positive
// width or height) return 0 so callers can detect and drop them.
func (b BBox) Area() float64 {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Observation is a single per-frame detection of a tracked person, the
// contract produced by the detector+tracker adapter (C2).
type Observation struct {
	TrackID    int
	BBox       BBox
	Confidence float64
	Timestamp  time.Time

	// Patch is an optional raw appearance crop (e.g. encoded JPEG bytes of
	// the bounding box region) supplied by the worker when Re-ID is
	// enabled. Nil when Re-ID is disabled or the worker chose not to cut
	// a patch for this frame.
	Patch []byte
}

// TrackState is the engine's volatile, in-memory state for one active
// track. It never leaves the worker goroutine that owns the engine;
// readers only ever see immutable snapshots (see Engine.Stats).
type TrackState struct {
	TrackID           int
	LastCX, LastCY    float64
	LastSide          Side
	LastBBoxArea      float64
	CountedDirections map[Direction]struct{}
	LastSeenTS        time.Time
	PersonID          string // linked Re-ID gallery entry, empty if unlinked
}

func newTrackState(obs Observation, side Side) *TrackState {
	cx, cy := obs.BBox.Center()
	return &TrackState{
		TrackID:           obs.TrackID,
		LastCX:            cx,
		LastCY:            cy,
		LastSide:          side,
		LastBBoxArea:      obs.BBox.Area(),
		CountedDirections: make(map[Direction]struct{}),
		LastSeenTS:        obs.Timestamp,
	}
}

func (t *TrackState) hasCounted(d Direction) bool {
	_, ok := t.CountedDirections[d]
	return ok
}

func (t *TrackState) markCounted(d Direction) {
	t.CountedDirections[d] = struct{}{}
}

// CrossingEvent is an immutable, persisted record of a qualifying line
// crossing (spec §3). ID is assigned by the event store on insert; a
// negative ID marks an event that could not be durably persisted
// (spec §7, Store write failure).
type CrossingEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TrackID   int       `json:"track_id"`
	PersonID  string    `json:"person_id,omitempty"`
	Direction Direction `json:"direction"`
}

// Stats is the engine's read-only counter snapshot, embedded in the C6
// worker status and published on the bus as a "stats" message.
type Stats struct {
	InCount      int64 `json:"in_count"`
	OutCount     int64 `json:"out_count"`
	ActiveTracks int   `json:"active_tracks"`
}

// Config is the subset of the "Counting configuration" record (spec §3)
// the engine consumes: line geometry, crossing tuning, and track tuning.
// Detection tuning and camera fields live one level up, in the worker.
type Config struct {
	LineX               float64
	DirectionIn         DirectionMapping
	HysteresisPx        float64
	AreaChangeThreshold float64
	MaxAge              time.Duration
	CleanupInterval     time.Duration

	ReIDEnabled bool
}

func sideOf(cx, lineX float64) Side {
	if cx < lineX {
		return SideLeft
	}
	return SideRight
}

// mapToDirection turns a raw L->R / R->L side change into IN/OUT according
// to the configured direction_in (spec §4.3 point 3).
func mapToDirection(from, to Side, mapping DirectionMapping) Direction {
	rawIsLeftToRight := from == SideLeft && to == SideRight
	switch mapping {
	case MapRightToLeftIsIn:
		if rawIsLeftToRight {
			return DirOut
		}
		return DirIn
	default: // MapLeftToRightIsIn
		if rawIsLeftToRight {
			return DirIn
		}
		return DirOut
	}
}
