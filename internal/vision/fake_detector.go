package vision

import (
	"time"

	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/frameio"
)

// ScriptedDetector is a dependency-free Detector that replays a
// pre-recorded sequence of per-frame detections, reusing the package's IOU
// tracker so track_id stability can be exercised without cgo or a real
// model. Used in worker tests; cmd/server always wires HOGDetector.
type ScriptedDetector struct {
	tracker *iouTracker
	frames  [][]BoxInput
	cursor  int
}

// BoxInput is one scripted detection for ScriptedDetector.
type BoxInput struct {
	BBox       counting.BBox
	Confidence float64
}

func NewScriptedDetector(cfg Config, frames [][]BoxInput) *ScriptedDetector {
	return &ScriptedDetector{tracker: newIOUTracker(cfg.IOUThreshold), frames: frames}
}

func (d *ScriptedDetector) Process(frame frameio.Frame, ts time.Time) ([]counting.Observation, error) {
	var dets []detection
	if d.cursor < len(d.frames) {
		for _, b := range d.frames[d.cursor] {
			dets = append(dets, detection{bbox: b.BBox, confidence: b.Confidence})
		}
	}
	d.cursor++

	observations := d.tracker.assign(dets)
	for i := range observations {
		observations[i].Timestamp = ts
	}
	return observations, nil
}
