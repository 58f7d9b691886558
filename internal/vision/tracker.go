package vision

import "github.com/linetally/peoplecount/internal/counting"

// detection is one raw per-frame box before track assignment.
type detection struct {
	bbox       counting.BBox
	confidence float64
}

// track is the tracker's private bookkeeping for one visible person,
// distinct from counting.TrackState: this is frame-to-frame association,
// not crossing state.
type track struct {
	id       int
	bbox     counting.BBox
	lastSeen int // frame counter at last match, used to expire stale tracks
}

// iouTracker assigns stable track_ids to per-frame detections via greedy
// IOU matching against the previous frame's tracks (spec §4.2, "track_id is
// stable across consecutive calls for the same visible person"). It is not
// safe for concurrent use; the single CV worker goroutine owns it.
type iouTracker struct {
	tracks    []track
	nextID    int
	threshold float64
	maxMisses int
	frame     int
}

func newIOUTracker(threshold float64) *iouTracker {
	return &iouTracker{threshold: threshold, maxMisses: 5, nextID: 1}
}

// assign matches dets against existing tracks, creates new tracks for
// unmatched detections, and expires tracks unseen for more than maxMisses
// frames. Returns one Observation per current detection.
func (t *iouTracker) assign(dets []detection) []counting.Observation {
	t.frame++
	matched := make([]bool, len(dets))
	out := make([]counting.Observation, 0, len(dets))

	for ti := range t.tracks {
		best := -1
		bestIOU := t.threshold
		for di, d := range dets {
			if matched[di] {
				continue
			}
			if iou := intersectionOverUnion(t.tracks[ti].bbox, d.bbox); iou > bestIOU {
				best, bestIOU = di, iou
			}
		}
		if best >= 0 {
			matched[best] = true
			t.tracks[ti].bbox = dets[best].bbox
			t.tracks[ti].lastSeen = t.frame
			out = append(out, counting.Observation{
				TrackID:    t.tracks[ti].id,
				BBox:       dets[best].bbox,
				Confidence: dets[best].confidence,
			})
		}
	}

	for di, d := range dets {
		if matched[di] {
			continue
		}
		id := t.nextID
		t.nextID++
		t.tracks = append(t.tracks, track{id: id, bbox: d.bbox, lastSeen: t.frame})
		out = append(out, counting.Observation{TrackID: id, BBox: d.bbox, Confidence: d.confidence})
	}

	kept := t.tracks[:0]
	for _, tr := range t.tracks {
		if t.frame-tr.lastSeen <= t.maxMisses {
			kept = append(kept, tr)
		}
	}
	t.tracks = kept

	return out
}

func intersectionOverUnion(a, b counting.BBox) float64 {
	x1 := maxF(a.X1, b.X1)
	y1 := maxF(a.Y1, b.Y1)
	x2 := minF(a.X2, b.X2)
	y2 := minF(a.Y2, b.Y2)

	interW := maxF(0, x2-x1)
	interH := maxF(0, y2-y1)
	inter := interW * interH
	if inter == 0 {
		return 0
	}

	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
