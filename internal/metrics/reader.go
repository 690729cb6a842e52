package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesRead tracks frames delivered to callers, by read path.
	FramesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameio_reader_frames_total",
		Help: "Total frames delivered to callers",
	}, []string{"path"}) // path: "single" | "range"

	// CacheLookups tracks GOP cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameio_reader_cache_lookups_total",
		Help: "GOP cache lookups by outcome",
	}, []string{"outcome"}) // outcome: "hit" | "miss"

	// DecodeSpawns tracks decoder process spawns.
	DecodeSpawns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frameio_reader_decode_spawns_total",
		Help: "Total decoder process spawns",
	})

	// DecodeDuration tracks wall time of one decode run (seek + drain).
	DecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frameio_reader_decode_duration_seconds",
		Help:    "Duration of one decode run (seek plus drain)",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.0, 12), // 5ms to ~10s
	})

	// IndexBuildDuration tracks the two-pass index scan at open time.
	IndexBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "frameio_reader_index_build_duration_seconds",
		Help:    "Duration of the two-pass frame index build",
		Buckets: prometheus.ExponentialBuckets(0.01, 2.0, 12),
	})

	// OpenFailures tracks open-time rejections by error kind.
	OpenFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frameio_reader_open_failures_total",
		Help: "Open-time rejections by error kind",
	}, []string{"kind"})
)

// RecordCacheLookup records a GOP cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
	} else {
		CacheLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveDecode records one decoder run.
func ObserveDecode(d time.Duration) {
	DecodeSpawns.Inc()
	DecodeDuration.Observe(d.Seconds())
}
