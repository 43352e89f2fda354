package vectorstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMemoryStore(t *testing.T) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{BatchSize: 10}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChromemStore_UpsertAndQuery(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	recs := records(25, "mda")

	n, err := s.Upsert(ctx, "aapl_1", recs)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	results, err := s.Query(ctx, "aapl_1", recs[7].Vector, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, "mda_7", results[0].ID)
	assert.Equal(t, recs[7].Text, results[0].Text)
	assert.Equal(t, "mda", results[0].Metadata["section"])
	assert.NotContains(t, results[0].Metadata, TextKey)
	assert.InDelta(t, 1.0, results[0].Score, 1e-4)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestChromemStore_QueryOrdering(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "ns", []Record{
		{ID: "far", Vector: []float32{0, 1, 0}, Text: "far"},
		{ID: "near", Vector: []float32{1, 0, 0}, Text: "near"},
		{ID: "mid", Vector: []float32{0.8, 0.6, 0}, Text: "mid"},
	})
	require.NoError(t, err)

	results, err := s.Query(ctx, "ns", []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.Equal(t, "mid", results[1].ID)
}

func TestChromemStore_TopKLargerThanNamespace(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	recs := records(3, "risk")
	_, err := s.Upsert(ctx, "ns", recs)
	require.NoError(t, err)

	results, err := s.Query(ctx, "ns", recs[0].Vector, 50, nil)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestChromemStore_Filter(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "ns", append(records(5, "mda"), records(5, "risk")...))
	require.NoError(t, err)

	results, err := s.Query(ctx, "ns", hashVector("anything", 8), 10, map[string]string{"section": "risk"})
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, "risk", r.Metadata["section"])
	}

	results, err = s.Query(ctx, "ns", hashVector("anything", 8), 10, map[string]string{"section": "legal"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemStore_MissingNamespace(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	results, err := s.Query(ctx, "nobody", []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	exists, err := s.NamespaceExists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChromemStore_OverwriteByID(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	recs := records(4, "mda")

	_, err := s.Upsert(ctx, "ns", recs)
	require.NoError(t, err)
	recs[0].Text = "restated"
	_, err = s.Upsert(ctx, "ns", recs)
	require.NoError(t, err)

	stats, err := s.NamespaceStats(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Vectors)

	results, err := s.Query(ctx, "ns", recs[0].Vector, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "restated", results[0].Text)
}

func TestChromemStore_NamespacesAreIsolated(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, "aapl_1", records(3, "mda"))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "msft_1", records(2, "mda"))
	require.NoError(t, err)

	results, err := s.Query(ctx, "msft_1", hashVector("x", 8), 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestChromemStore_DeleteNamespaceIdempotent(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	_, err := s.Upsert(ctx, "ns", records(3, "mda"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteNamespace(ctx, "ns"))
	require.NoError(t, s.DeleteNamespace(ctx, "ns"))

	exists, err := s.NamespaceExists(ctx, "ns")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChromemStore_TextPreviewTruncated(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	long := strings.Repeat("revenue ", 300)

	_, err := s.Upsert(ctx, "ns", []Record{{ID: "a", Vector: []float32{1, 0}, Text: long}})
	require.NoError(t, err)

	results, err := s.Query(ctx, "ns", []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Len(t, []rune(results[0].Text), DefaultTextPreview)
}

func TestChromemStore_InvalidInput(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_, err := s.Upsert(ctx, " ", records(1, "x"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Upsert(ctx, "ns", []Record{{ID: "a"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Query(ctx, "ns", nil, 5, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Query(ctx, "ns", []float32{1}, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := s.Upsert(ctx, "ns", nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "ns", records(3, "mda"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	exists, err := reopened.NamespaceExists(ctx, "ns")
	require.NoError(t, err)
	assert.True(t, exists)
}
