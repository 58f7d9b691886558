// Package worker implements the CV Worker (C6): the single long-running
// task that drives Frame Source -> Detector+Tracker -> Counting Engine,
// publishes to the event store and bus, and exposes a read-only status
// snapshot (spec §4.7). Exactly one Worker runs per process (spec §5).
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linetally/peoplecount/internal/bus"
	"github.com/linetally/peoplecount/internal/counting"
	"github.com/linetally/peoplecount/internal/frameio"
	"github.com/linetally/peoplecount/internal/metrics"
	"github.com/linetally/peoplecount/internal/reid"
	"github.com/linetally/peoplecount/internal/store"
	"github.com/linetally/peoplecount/internal/vision"
)

// Status is the worker's read-only snapshot (spec §4.7).
type Status struct {
	CameraStatus frameio.Status `json:"camera_status"`
	ModelLoaded  bool           `json:"model_loaded"`
	FPS          float64        `json:"fps"`
	ActiveTracks int            `json:"active_tracks"`
	ConfigID     int64          `json:"config_id"`
}

// Deps is everything one worker generation needs. A fresh Deps is built on
// every reconfiguration (spec §4.7 "Reconfiguration"); the Engine inside it
// is reused unless a reset was explicitly requested.
type Deps struct {
	Source   frameio.Source
	Detector vision.Detector
	Engine   *counting.Engine
	Gallery  *reid.Gallery // nil when Re-ID is disabled
	ConfigID int64
}

// Worker owns C1/C2/C3 and is the engine's only caller (spec §5). All of
// its mutable per-frame state is confined to Run's goroutine; Status is
// safe to call from any goroutine.
type Worker struct {
	store *store.EventStore
	bus   *bus.Bus

	mu     sync.Mutex
	deps   Deps
	status atomic.Value // Status

	reconfigure chan Deps
	commands    chan command
	stop        chan struct{}
	stopped     chan struct{}

	fpsEWMA          float64
	lastGalleryFlush time.Time
}

// command lets API handlers touch deps.Engine/deps.Gallery without racing
// the frame loop: it runs on the worker's own goroutine, between frames.
type command struct {
	fn   func(Deps)
	done chan struct{}
}

func New(initial Deps, st *store.EventStore, b *bus.Bus) *Worker {
	w := &Worker{
		store:       st,
		bus:         b,
		deps:        initial,
		reconfigure: make(chan Deps, 1),
		commands:    make(chan command),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	w.status.Store(Status{CameraStatus: frameio.StatusOffline, ConfigID: initial.ConfigID})
	return w
}

// Status returns the current read-only status snapshot.
func (w *Worker) Status() Status {
	return w.status.Load().(Status)
}

// EngineStats returns the counting engine's current counters. Safe to call
// from any goroutine: Engine.Stats() is itself reader-safe (spec §9).
func (w *Worker) EngineStats() counting.Stats {
	w.mu.Lock()
	e := w.deps.Engine
	w.mu.Unlock()
	return e.Stats()
}

// CurrentGallery returns the Re-ID gallery currently wired into the worker,
// or nil when Re-ID is disabled or no generation has been applied yet.
func (w *Worker) CurrentGallery() *reid.Gallery {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deps.Gallery
}

// CurrentEngine returns the counting engine currently wired into the
// worker. A Reconfigurer reuses this pointer (rather than constructing a
// fresh Engine) so a config-only change preserves counts and track state.
func (w *Worker) CurrentEngine() *counting.Engine {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.deps.Engine
}

// Reconfigure atomically swaps the in-effect Deps (spec §4.7). The worker
// finishes the current frame, closes the old source, and opens the new one
// on its next loop iteration. If newDeps.Engine differs from the current
// one, state was reset by the caller; otherwise Engine should be the same
// pointer so counts are preserved.
func (w *Worker) Reconfigure(newDeps Deps) {
	select {
	case w.reconfigure <- newDeps:
	default:
		// A reconfigure is already pending; replace it so only the latest wins.
		select {
		case <-w.reconfigure:
		default:
		}
		w.reconfigure <- newDeps
	}
}

// Execute runs fn on the worker goroutine with the current Deps and blocks
// until it has run. Used by control-plane handlers (reset, gallery
// clear/cleanup) that must touch Engine/Gallery state without racing the
// frame loop. It returns false if the worker stopped before fn could run.
func (w *Worker) Execute(fn func(Deps)) bool {
	done := make(chan struct{})
	select {
	case w.commands <- command{fn: fn, done: done}:
	case <-w.stopped:
		return false
	}
	select {
	case <-done:
		return true
	case <-w.stopped:
		return false
	}
}

// Stop signals the worker to close its source and return from Run.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.stopped
}

// Run drives the C1->C2->C3 loop until ctx is cancelled or Stop is called.
// It never exits on a transient source failure (spec §7): it backs off and
// retries opening the source instead.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)

	backoff := frameio.NewBackoff(500*time.Millisecond, 30*time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stop:
			return nil
		case newDeps := <-w.reconfigure:
			w.applyReconfigure(newDeps)
		case cmd := <-w.commands:
			w.runCommand(cmd)
		default:
		}

		w.mu.Lock()
		deps := w.deps
		w.mu.Unlock()

		w.setStatus(func(s *Status) { s.CameraStatus = frameio.StatusInitializing })
		if err := deps.Source.Open(ctx); err != nil {
			log.Printf("worker: open source failed: %v", err)
			w.setStatus(func(s *Status) { s.CameraStatus = frameio.StatusOffline })
			if !w.sleep(ctx, backoff.Next()) {
				return nil
			}
			continue
		}
		backoff.Reset()
		w.setStatus(func(s *Status) { s.CameraStatus = frameio.StatusOnline; s.ModelLoaded = true })

		w.frameLoop(ctx, deps)
		deps.Source.Close()
	}
}

func (w *Worker) runCommand(cmd command) {
	w.mu.Lock()
	deps := w.deps
	w.mu.Unlock()
	cmd.fn(deps)
	close(cmd.done)
}

func (w *Worker) applyReconfigure(newDeps Deps) {
	w.mu.Lock()
	old := w.deps
	w.deps = newDeps
	w.mu.Unlock()

	if old.Source != nil {
		old.Source.Close()
	}
	w.bus.Publish(bus.Message{Kind: bus.KindStatus, Data: map[string]string{"message": "reconfigured, reopening source"}})
}

// frameLoop runs the per-frame pipeline until the source signals an error
// or a reconfigure/stop request arrives. It returns (does not exit the
// process) on any frame-level error, letting Run's outer loop decide
// whether to back off and reopen.
func (w *Worker) frameLoop(ctx context.Context, deps Deps) {
	const fpsWindow = 30
	var frameCount int

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case newDeps := <-w.reconfigure:
			w.applyReconfigure(newDeps)
			return
		case cmd := <-w.commands:
			w.runCommand(cmd)
		default:
		}

		start := time.Now()
		frame, err := deps.Source.NextFrame(ctx)
		if err == frameio.EndOfStream {
			return
		}
		if err != nil {
			w.setStatus(func(s *Status) { s.CameraStatus = frameio.StatusOffline })
			return
		}

		detectStart := time.Now()
		observations, err := deps.Detector.Process(frame, frame.Timestamp)
		metrics.RecordFrameProcessed(float64(time.Since(detectStart).Microseconds()) / 1000)
		if err != nil {
			log.Printf("worker: detector error: %v", err)
			continue
		}

		for _, obs := range observations {
			ev, promoted := deps.Engine.Observe(obs)
			if !promoted {
				continue
			}
			w.persistAndPublish(ctx, *ev)
		}
		deps.Engine.MaybeCleanup(frame.Timestamp)
		if deps.Gallery != nil {
			deps.Gallery.Cleanup(frame.Timestamp, 24*time.Hour)
			if frame.Timestamp.Sub(w.lastGalleryFlush) >= 5*time.Second {
				w.lastGalleryFlush = frame.Timestamp
				if err := deps.Gallery.Flush(); err != nil {
					log.Printf("worker: gallery flush failed: %v", err)
					metrics.RecordGalleryPersistFailure()
				}
			}
		}

		elapsed := time.Since(start)
		instantFPS := 0.0
		if elapsed > 0 {
			instantFPS = 1.0 / elapsed.Seconds()
		}
		frameCount++
		alpha := 2.0 / float64(fpsWindow+1)
		if frameCount == 1 {
			w.fpsEWMA = instantFPS
		} else {
			w.fpsEWMA = alpha*instantFPS + (1-alpha)*w.fpsEWMA
		}

		stats := deps.Engine.Stats()
		w.setStatus(func(s *Status) {
			s.CameraStatus = frameio.StatusOnline
			s.FPS = w.fpsEWMA
			s.ActiveTracks = stats.ActiveTracks
			s.ConfigID = deps.ConfigID
		})
	}
}

// persistAndPublish stores ev and publishes it on the bus. A store failure
// does not drop the event from observers: it is published with a negative
// placeholder ID (spec §7 "Store write failure").
func (w *Worker) persistAndPublish(ctx context.Context, ev counting.CrossingEvent) {
	id, err := w.store.Insert(ctx, ev)
	if err != nil {
		log.Printf("worker: store insert failed, publishing with placeholder id: %v", err)
		metrics.RecordStoreWriteFailure()
		ev.ID = -1
	} else {
		ev.ID = id
	}
	w.bus.Publish(bus.Message{Kind: bus.KindEvent, Data: ev})
}

func (w *Worker) setStatus(mutate func(*Status)) {
	s := w.Status()
	mutate(&s)
	w.status.Store(s)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-w.stop:
		return false
	}
}

// RunBroadcasters publishes periodic stats and analytics snapshots off the
// CV worker's own goroutine (spec §4.6, §5 "neither may be scheduled on the
// CV worker thread"). statsFn/analyticsFn produce the payloads; the caller
// (cmd/server) wires the engine's Stats and the analytics.Analyzer.
func (w *Worker) RunBroadcasters(ctx context.Context, statsInterval, analyticsInterval time.Duration, statsFn func() any, analyticsFn func(context.Context) (any, error)) {
	statsTicker := time.NewTicker(statsInterval)
	analyticsTicker := time.NewTicker(analyticsInterval)
	defer statsTicker.Stop()
	defer analyticsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTicker.C:
			w.bus.Publish(bus.Message{Kind: bus.KindStats, Data: statsFn()})
		case <-analyticsTicker.C:
			snapshot, err := analyticsFn(ctx)
			if err != nil {
				log.Printf("worker: analytics snapshot failed: %v", err)
				continue
			}
			w.bus.Publish(bus.Message{Kind: bus.KindAnalytics, Data: snapshot})
		}
	}
}
