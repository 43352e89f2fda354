package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return newMetrics(mp.Meter(embeddingsInstrumentationName), zap.NewNop()), reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumCounter(m metricdata.Metrics) int64 {
	var total int64
	if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
		for _, dp := range sum.DataPoints {
			total += dp.Value
		}
	}
	return total
}

func TestMetrics_RecordGeneration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordGeneration(ctx, "voyage-finance-2", "embed_documents", 100*time.Millisecond, 128, nil)
	m.RecordGeneration(ctx, "voyage-finance-2", "embed_query", 50*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "voyage-finance-2", "embed_documents", 25*time.Millisecond, 5, errors.New("generation failed"))

	got := collect(t, reader)

	require.Contains(t, got, "filingrag.embedding.duration_seconds")
	hist, ok := got["filingrag.embedding.duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	require.Contains(t, got, "filingrag.embedding.batch_size")
	assert.Equal(t, int64(1), sumCounter(got["filingrag.embedding.errors_total"]))
}

func TestMetrics_RecordCacheLookup(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCacheLookup(ctx, true)
	m.RecordCacheLookup(ctx, false)
	m.RecordCacheLookup(ctx, false)

	got := collect(t, reader)
	assert.Equal(t, int64(3), sumCounter(got["filingrag.embedding.query_cache_total"]))
}
