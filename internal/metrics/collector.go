// Package metrics exposes a Prometheus /metrics endpoint for the counting
// service: a periodic Collector snapshotting worker/bus gauges (FPS, active
// tracks, camera status, subscriber count), plus the package-level counters
// in detection_metrics.go that per-frame and per-event code paths update
// directly, without waiting for the next collection tick.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusProvider is the live state the Collector snapshots on each tick. It
// is a set of closures rather than a concrete *worker.Worker/*bus.Bus so
// this package stays a leaf: internal/worker and internal/bus import
// internal/metrics to record counters, and must not be imported back.
type StatusProvider struct {
	CameraStatus    func() string
	FPS             func() float64
	ActiveTracks    func() int
	Counts          func() (in, out int64)
	SubscriberCount func() int
	GalleryPersons  func() int // nil when Re-ID is disabled
}

// Collector owns the Prometheus registry and periodically snapshots
// StatusProvider into gauges (spec's ambient "detection metrics" stack).
type Collector struct {
	sp       StatusProvider
	registry *prometheus.Registry

	cameraOnline    prometheus.Gauge
	fps             prometheus.Gauge
	activeTracks    prometheus.Gauge
	inCount         prometheus.Gauge
	outCount        prometheus.Gauge
	subscriberCount prometheus.Gauge
	galleryPersons  prometheus.Gauge
}

func NewCollector(sp StatusProvider) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{sp: sp, registry: reg}

	c.cameraOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_camera_online",
		Help: "1 when the frame source status is online, 0 otherwise",
	})
	c.fps = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_fps",
		Help: "Smoothed frames-per-second of the CV worker loop",
	})
	c.activeTracks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_active_tracks",
		Help: "Number of tracks currently open in the counting engine",
	})
	c.inCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_in_total",
		Help: "Cumulative IN crossings since the last reset",
	})
	c.outCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_out_total",
		Help: "Cumulative OUT crossings since the last reset",
	})
	c.subscriberCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_subscribers",
		Help: "Number of connected WebSocket subscribers",
	})
	c.galleryPersons = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "peoplecount_gallery_persons",
		Help: "Number of persons currently held in the Re-ID gallery",
	})

	reg.MustRegister(c.cameraOnline, c.fps, c.activeTracks, c.inCount, c.outCount, c.subscriberCount, c.galleryPersons)
	return c
}

// Handler serves the Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Start ticks every interval, refreshing gauges from the StatusProvider,
// until ctx is cancelled.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

func (c *Collector) collect() {
	online := 0.0
	if c.sp.CameraStatus != nil && c.sp.CameraStatus() == "online" {
		online = 1.0
	}
	c.cameraOnline.Set(online)

	if c.sp.FPS != nil {
		c.fps.Set(c.sp.FPS())
	}
	if c.sp.ActiveTracks != nil {
		c.activeTracks.Set(float64(c.sp.ActiveTracks()))
	}
	if c.sp.Counts != nil {
		in, out := c.sp.Counts()
		c.inCount.Set(float64(in))
		c.outCount.Set(float64(out))
	}
	if c.sp.SubscriberCount != nil {
		c.subscriberCount.Set(float64(c.sp.SubscriberCount()))
	}
	if c.sp.GalleryPersons != nil {
		c.galleryPersons.Set(float64(c.sp.GalleryPersons()))
	}
}
