// Package vision implements the Detector+Tracker adapter (C2): turning raw
// frames into the Observation stream the counting engine consumes (spec
// §4.2). The adapter is purely functional from the engine's viewpoint — all
// tracking state is private to the Detector implementation.
package vision

import (
	"time"

	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/frameio"
)

// Detector is the C2 contract: process one frame, get back zero or more
// person observations with stable track IDs (spec §4.2).
type Detector interface {
	Process(frame frameio.Frame, ts time.Time) ([]counting.Observation, error)
}

// Config tunes detection and the IOU tracker shared by every Detector
// implementation in this package.
type Config struct {
	ConfidenceThreshold float64
	IOUThreshold        float64
	ResizeWidth         int // 0 disables resizing before detection
	CutPatches          bool
}
