package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Per-frame counters the CV worker updates directly, without going through
// the Collector's periodic pull (spec §4.2, §7 "store write failure", "subscriber
// slowness"). All low-cardinality: no track_id or person_id labels.

var (
	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peoplecount_frames_processed_total",
		Help: "Total frames pulled from the frame source and run through detection",
	})

	DetectorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "peoplecount_detector_latency_ms",
		Help:    "Per-frame detector+tracker latency in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
	})

	StoreWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peoplecount_store_write_failures_total",
		Help: "Crossing events that failed to persist and were published with a placeholder id",
	})

	GalleryPersistFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peoplecount_gallery_persist_failures_total",
		Help: "Re-ID gallery snapshot writes that failed",
	})

	SubscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "peoplecount_subscriber_drops_total",
		Help: "Bus messages dropped because a subscriber's mailbox was full",
	})
)

func RecordFrameProcessed(latencyMs float64) {
	FramesProcessedTotal.Inc()
	DetectorLatency.Observe(latencyMs)
}

func RecordStoreWriteFailure() {
	StoreWriteFailuresTotal.Inc()
}

func RecordGalleryPersistFailure() {
	GalleryPersistFailuresTotal.Inc()
}

func RecordSubscriberDrop() {
	SubscriberDropsTotal.Inc()
}
