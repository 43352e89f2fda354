package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsUpserted counts records committed, by backend.
	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filingrag",
			Subsystem: "vectorstore",
			Name:      "records_upserted_total",
			Help:      "Total number of records written to the vector store",
		},
		[]string{"backend"},
	)

	// QueryDuration tracks query latency, by backend.
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "filingrag",
			Subsystem: "vectorstore",
			Name:      "query_duration_seconds",
			Help:      "Duration of vector store queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// OperationErrors counts failed operations.
	// Labels: backend, operation (upsert, query, delete, stats)
	OperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "filingrag",
			Subsystem: "vectorstore",
			Name:      "operation_errors_total",
			Help:      "Total number of failed vector store operations",
		},
		[]string{"backend", "operation"},
	)
)

func observeQuery(backend string, began time.Time) {
	QueryDuration.WithLabelValues(backend).Observe(time.Since(began).Seconds())
}

func recordError(backend, operation string) {
	OperationErrors.WithLabelValues(backend, operation).Inc()
}
