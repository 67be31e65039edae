// Package metrics holds the process-wide Prometheus collectors shared
// by ConnectionManager and SessionPipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachserver_sessions_active",
		Help: "Currently connected coaching sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachserver_sessions_total",
		Help: "Total coaching sessions started",
	})

	ChunksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coachserver_audio_chunks_processed_total",
		Help: "Total audio chunks processed by the pipeline",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coachserver_stage_duration_seconds",
		Help:    "Per-stage pipeline latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.3, 0.5, 1.0},
	}, []string{"stage"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachserver_errors_total",
		Help: "Error counts by kind",
	}, []string{"kind"})

	FeedbackItemsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachserver_feedback_items_total",
		Help: "Feedback items emitted by source",
	}, []string{"source"})
)
