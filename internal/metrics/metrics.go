// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams tracks live ffmpeg stream processes.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vetito_active_streams",
		Help: "Number of live stream transcode processes.",
	})

	// StreamsStarted counts stream starts by outcome.
	StreamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vetito_streams_started_total",
		Help: "Stream start attempts by outcome.",
	}, []string{"outcome"})

	// JobsTotal counts subtitle generation jobs by terminal state.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vetito_subtitle_jobs_total",
		Help: "Subtitle generation jobs by terminal state.",
	}, []string{"state"})

	// JobDuration observes wall time of completed generation jobs.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vetito_subtitle_job_duration_seconds",
		Help:    "Wall-clock duration of subtitle generation jobs.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	})

	// QueueDepth tracks jobs waiting for the generation engine.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vetito_subtitle_queue_depth",
		Help: "Jobs waiting for an engine slot.",
	})

	// ProbeCacheSize tracks the ffprobe result cache.
	ProbeCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vetito_probe_cache_entries",
		Help: "Cached ffprobe results.",
	})
)
