package vision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/frameio"
)

func bbox(x1, y1, x2, y2 float64) counting.BBox {
	return counting.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func box(x1, y1, x2, y2 float64) BoxInput {
	return BoxInput{BBox: bbox(x1, y1, x2, y2), Confidence: 1}
}

func TestScriptedDetector_KeepsTrackIDStableAcrossSmallMovement(t *testing.T) {
	det := NewScriptedDetector(Config{IOUThreshold: 0.3}, [][]BoxInput{
		{box(100, 100, 200, 200)},
		{box(110, 100, 210, 200)}, // small shift, same person
	})

	obs1, err := det.Process(frameio.Frame{}, time.Now())
	assert.NoError(t, err)
	assert.Len(t, obs1, 1)

	obs2, err := det.Process(frameio.Frame{}, time.Now())
	assert.NoError(t, err)
	assert.Len(t, obs2, 1)
	assert.Equal(t, obs1[0].TrackID, obs2[0].TrackID)
}

func TestScriptedDetector_AssignsNewTrackIDWhenNoOverlap(t *testing.T) {
	det := NewScriptedDetector(Config{IOUThreshold: 0.3}, [][]BoxInput{
		{box(0, 0, 50, 50)},
		{box(700, 700, 750, 750)}, // no overlap, different person
	})

	obs1, _ := det.Process(frameio.Frame{}, time.Now())
	obs2, _ := det.Process(frameio.Frame{}, time.Now())
	assert.NotEqual(t, obs1[0].TrackID, obs2[0].TrackID)
}

func TestScriptedDetector_ExpiresTrackAfterMaxMisses(t *testing.T) {
	frames := [][]BoxInput{{box(0, 0, 50, 50)}}
	for i := 0; i < 6; i++ {
		frames = append(frames, nil) // track goes unseen
	}
	frames = append(frames, []BoxInput{box(0, 0, 50, 50)})

	det := NewScriptedDetector(Config{IOUThreshold: 0.3}, frames)

	first, _ := det.Process(frameio.Frame{}, time.Now())
	for i := 0; i < 6; i++ {
		det.Process(frameio.Frame{}, time.Now())
	}
	last, _ := det.Process(frameio.Frame{}, time.Now())

	assert.NotEqual(t, first[0].TrackID, last[0].TrackID, "track should have expired and been reassigned a new id")
}

func TestIntersectionOverUnion(t *testing.T) {
	a := bbox(0, 0, 10, 10)
	b := bbox(5, 5, 15, 15)
	iou := intersectionOverUnion(a, b)
	assert.InDelta(t, 25.0/175.0, iou, 1e-9)

	assert.Zero(t, intersectionOverUnion(bbox(0, 0, 1, 1), bbox(100, 100, 101, 101)))
}
