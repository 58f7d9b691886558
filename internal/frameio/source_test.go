package frameio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/frameio"
)

func TestSyntheticSource_ProducesBoundedFramesThenEndOfStream(t *testing.T) {
	src := frameio.NewSyntheticSource(frameio.Config{Kind: "synthetic"}).WithBounds(100, 100).WithMaxFrames(3)
	ctx := context.Background()

	assert.NoError(t, src.Open(ctx))
	assert.Equal(t, frameio.StatusOnline, src.Status())

	for i := 0; i < 3; i++ {
		f, err := src.NextFrame(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 100, f.Width)
		assert.Equal(t, 100, f.Height)
		assert.Len(t, f.Data, 100*100*3)
	}

	_, err := src.NextFrame(ctx)
	assert.ErrorIs(t, err, frameio.EndOfStream)
	assert.NoError(t, src.Close())
	assert.Equal(t, frameio.StatusOffline, src.Status())
}

func TestSyntheticSource_NextFrameBeforeOpenIsTransient(t *testing.T) {
	src := frameio.NewSyntheticSource(frameio.Config{})
	_, err := src.NextFrame(context.Background())
	var transient *frameio.TransientError
	assert.True(t, errors.As(err, &transient))
}

func TestBackoff_GrowsExponentiallyUpToCap(t *testing.T) {
	b := frameio.NewBackoff(100*time.Millisecond, time.Second)

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 800*time.Millisecond, b.Next())
	assert.Equal(t, time.Second, b.Next()) // capped
}

func TestBackoff_ResetRestartsFromBase(t *testing.T) {
	b := frameio.NewBackoff(100*time.Millisecond, time.Second)
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}
