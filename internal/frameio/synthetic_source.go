package frameio

import (
	"context"
	"fmt"
	"time"
)

// SyntheticSource is a dependency-free Source that synthesizes a single
// bright square sweeping left to right across an otherwise-black frame. It
// exists for development and tests on machines without a camera or without
// cgo (gocv requires cgo); it implements the same contract GoCVSource does
// so the rest of the pipeline is indifferent to which one is wired in.
type SyntheticSource struct {
	cfg    Config
	status Status

	width, height int
	squareSize    int
	frame         int
	maxFrames     int // 0 means unbounded
	frameInterval time.Duration
}

func NewSyntheticSource(cfg Config) *SyntheticSource {
	return &SyntheticSource{
		cfg:           cfg,
		status:        StatusOffline,
		width:         800,
		height:        600,
		squareSize:    60,
		frameInterval: 33 * time.Millisecond, // ~30fps
	}
}

// WithBounds overrides the synthesized frame size, for tests.
func (s *SyntheticSource) WithBounds(width, height int) *SyntheticSource {
	s.width, s.height = width, height
	return s
}

// WithMaxFrames makes the source finite, returning EndOfStream after n
// frames; 0 (the default) means unbounded.
func (s *SyntheticSource) WithMaxFrames(n int) *SyntheticSource {
	s.maxFrames = n
	return s
}

func (s *SyntheticSource) Open(ctx context.Context) error {
	s.status = StatusOnline
	s.frame = 0
	return nil
}

func (s *SyntheticSource) NextFrame(ctx context.Context) (Frame, error) {
	if s.status != StatusOnline {
		return Frame{}, &TransientError{Err: fmt.Errorf("source not open")}
	}
	if s.maxFrames > 0 && s.frame >= s.maxFrames {
		return Frame{}, EndOfStream
	}

	data := make([]byte, s.width*s.height*3)
	x0 := (s.frame * 7) % (s.width - s.squareSize)
	if s.cfg.Mirror {
		x0 = s.width - s.squareSize - x0
	}
	for y := s.height/2 - s.squareSize/2; y < s.height/2+s.squareSize/2; y++ {
		for x := x0; x < x0+s.squareSize; x++ {
			i := (y*s.width + x) * 3
			data[i], data[i+1], data[i+2] = 255, 255, 255
		}
	}

	s.frame++
	return Frame{Data: data, Width: s.width, Height: s.height, Timestamp: time.Now()}, nil
}

func (s *SyntheticSource) Close() error {
	s.status = StatusOffline
	return nil
}

func (s *SyntheticSource) Status() Status {
	return s.status
}
