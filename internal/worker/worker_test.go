package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/linetally/peoplecount/internal/bus"
	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/frameio"
	"github.com/linetally/peoplecount/internal/store"
	"github.com/linetally/peoplecount/internal/vision"
	"github.com/linetally/peoplecount/internal/worker"
)

func newTestStore(t *testing.T) *store.EventStore {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.MatchExpectationsInOrder(false)
	for i := int64(1); i <= 5; i++ {
		mock.ExpectQuery("INSERT INTO events").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(i))
	}

	return store.NewEventStore(db)
}

func engineConfig() counting.Config {
	return counting.Config{
		LineX:               400,
		DirectionIn:         counting.MapLeftToRightIsIn,
		HysteresisPx:        5,
		AreaChangeThreshold: 0,
		MaxAge:              time.Minute,
		CleanupInterval:     time.Hour,
	}
}

// TestWorker_RunPublishesCrossingEventsFromScriptedDetections drives the
// frame loop with a SyntheticSource (bounded to a handful of frames) and a
// ScriptedDetector that reports a single track crossing the line, and
// checks the crossing is published on the bus.
func TestWorker_RunPublishesCrossingEventsFromScriptedDetections(t *testing.T) {
	src := frameio.NewSyntheticSource(frameio.Config{}).WithBounds(800, 600).WithMaxFrames(2)
	det := vision.NewScriptedDetector(vision.Config{IOUThreshold: 0.3}, [][]vision.BoxInput{
		{{BBox: counting.BBox{X1: 340, Y1: 250, X2: 440, Y2: 450}, Confidence: 1}},
		{{BBox: counting.BBox{X1: 370, Y1: 250, X2: 470, Y2: 450}, Confidence: 1}},
	})
	engine := counting.New(engineConfig(), nil)

	b := bus.New(8)
	sub := b.Subscribe("test")

	w := worker.New(worker.Deps{Source: src, Detector: det, Engine: engine, ConfigID: 1}, newTestStore(t), b)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	var gotEvent bool
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Kind == bus.KindEvent {
				gotEvent = true
				break loop
			}
		case <-deadline:
			break loop
		}
	}

	w.Stop()
	<-done

	assert.True(t, gotEvent, "expected a crossing event to be published")
}

func TestWorker_StatusReflectsCameraLifecycle(t *testing.T) {
	src := frameio.NewSyntheticSource(frameio.Config{}).WithBounds(200, 200).WithMaxFrames(1)
	det := vision.NewScriptedDetector(vision.Config{IOUThreshold: 0.3}, nil)
	engine := counting.New(engineConfig(), nil)

	b := bus.New(4)
	w := worker.New(worker.Deps{Source: src, Detector: det, Engine: engine, ConfigID: 3}, newTestStore(t), b)

	assert.Equal(t, frameio.StatusOffline, w.Status().CameraStatus)
	assert.EqualValues(t, 3, w.Status().ConfigID)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	w.Stop()
	<-done
}

func TestWorker_RunBroadcastersPublishesStatsAndAnalytics(t *testing.T) {
	b := bus.New(4)
	w := worker.New(worker.Deps{
		Source:   frameio.NewSyntheticSource(frameio.Config{}),
		Detector: vision.NewScriptedDetector(vision.Config{}, nil),
		Engine:   counting.New(engineConfig(), nil),
	}, newTestStore(t), b)

	sub := b.Subscribe("broadcast")

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	go w.RunBroadcasters(ctx, 20*time.Millisecond, 30*time.Millisecond,
		func() any { return counting.Stats{InCount: 1} },
		func(context.Context) (any, error) { return map[string]int{"ok": 1}, nil },
	)

	var sawStats, sawAnalytics bool
	timeout := time.After(200 * time.Millisecond)
	for !sawStats || !sawAnalytics {
		select {
		case msg := <-sub.Messages():
			switch msg.Kind {
			case bus.KindStats:
				sawStats = true
			case bus.KindAnalytics:
				sawAnalytics = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for broadcasts")
		}
	}
}
