//go:build cgo

package vision

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/frameio"
)

// HOGDetector implements Detector using OpenCV's HOG descriptor with the
// built-in people detector, the same Mat-based pattern as the frame
// source's BGR/RGB handling, plus a greedy IOU tracker to assign stable
// track_ids across calls (spec §4.2).
type HOGDetector struct {
	cfg     Config
	hog     gocv.HOGDescriptor
	tracker *iouTracker
}

func NewHOGDetector(cfg Config) *HOGDetector {
	hog := gocv.NewHOGDescriptor()
	hog.SetSVMDetector(gocv.HOGDefaultPeopleDetector())
	return &HOGDetector{
		cfg:     cfg,
		hog:     hog,
		tracker: newIOUTracker(cfg.IOUThreshold),
	}
}

func (d *HOGDetector) Close() error {
	return d.hog.Close()
}

func (d *HOGDetector) Process(frame frameio.Frame, ts time.Time) ([]counting.Observation, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("vision: empty frame")
	}

	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("vision: frame to mat: %w", err)
	}
	defer mat.Close()

	scale := 1.0
	detectMat := mat
	if d.cfg.ResizeWidth > 0 && frame.Width > d.cfg.ResizeWidth {
		scale = float64(frame.Width) / float64(d.cfg.ResizeWidth)
		resized := gocv.NewMat()
		defer resized.Close()
		newHeight := int(float64(frame.Height) / scale)
		gocv.Resize(mat, &resized, image.Pt(d.cfg.ResizeWidth, newHeight), 0, 0, gocv.InterpolationLinear)
		detectMat = resized
	}

	rects, weights := d.hog.DetectMultiScaleWithWeights(detectMat)

	dets := make([]detection, 0, len(rects))
	for i, r := range rects {
		confidence := 1.0
		if i < len(weights) {
			confidence = weights[i]
		}
		if confidence < d.cfg.ConfidenceThreshold {
			continue
		}
		dets = append(dets, detection{
			bbox: counting.BBox{
				X1: float64(r.Min.X) * scale,
				Y1: float64(r.Min.Y) * scale,
				X2: float64(r.Max.X) * scale,
				Y2: float64(r.Max.Y) * scale,
			},
			confidence: confidence,
		})
	}

	observations := d.tracker.assign(dets)
	for i := range observations {
		observations[i].Timestamp = ts
		if d.cfg.CutPatches {
			observations[i].Patch = cutPatch(mat, observations[i].BBox)
		}
	}
	return observations, nil
}

func cutPatch(mat gocv.Mat, b counting.BBox) []byte {
	x1, y1 := int(b.X1), int(b.Y1)
	x2, y2 := int(b.X2), int(b.Y2)
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > mat.Cols() {
		x2 = mat.Cols()
	}
	if y2 > mat.Rows() {
		y2 = mat.Rows()
	}
	if x2 <= x1 || y2 <= y1 {
		return nil
	}

	region := mat.Region(image.Rect(x1, y1, x2, y2))
	defer region.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, region)
	if err != nil {
		return nil
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}
