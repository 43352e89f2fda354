package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts Submit calls.
	// Labels: result (queued, deduplicated, skipped, rejected)
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filingrag",
			Subsystem: "ingest",
			Name:      "submissions_total",
			Help:      "Total number of ingestion submissions by result",
		},
		[]string{"result"},
	)

	// JobsFinished counts jobs that reached a terminal state.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filingrag",
			Subsystem: "ingest",
			Name:      "jobs_total",
			Help:      "Total number of ingestion jobs by outcome",
		},
		[]string{"outcome"},
	)

	// JobsInFlight is the number of jobs currently being processed.
	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "filingrag",
			Subsystem: "ingest",
			Name:      "jobs_in_flight",
			Help:      "Number of ingestion jobs being processed",
		},
	)

	// JobDuration tracks end-to-end job latency.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "filingrag",
			Subsystem: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Duration of ingestion jobs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)
