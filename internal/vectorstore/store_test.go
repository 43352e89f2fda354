package vectorstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertBatches(t *testing.T) {
	var sizes []int
	n, err := upsertBatches(context.Background(), records(250, "x"), 100, func(_ context.Context, b []Record) error {
		sizes = append(sizes, len(b))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 250, n)
	assert.Equal(t, []int{100, 100, 50}, sizes)
}

func TestUpsertBatches_FailureReportsCommitted(t *testing.T) {
	boom := errors.New("disk full")
	calls := 0
	n, err := upsertBatches(context.Background(), records(250, "x"), 100, func(context.Context, []Record) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	})

	assert.Equal(t, 100, n)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 1, be.Batch)
	assert.Equal(t, 100, be.Committed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls, "later batches are not attempted")
}

func TestUpsertBatches_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := upsertBatches(ctx, records(3, "x"), 100, func(context.Context, []Record) error {
		t.Fatal("write must not run")
		return nil
	})
	assert.Zero(t, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short", 1000))
	assert.Equal(t, strings.Repeat("a", 1000), preview(strings.Repeat("a", 1500), 1000))
	assert.Equal(t, "héé", preview("héééé", 3))
	assert.Len(t, []rune(preview(strings.Repeat("é", 1200), 0)), DefaultTextPreview)
}

func TestStoredMetadataRoundTrip(t *testing.T) {
	r := Record{ID: "a", Text: "revenue grew", Metadata: map[string]string{"ticker": "AAPL"}}
	stored := storedMetadata(r, 1000)
	assert.Equal(t, "revenue grew", stored[TextKey])
	assert.NotContains(t, r.Metadata, TextKey, "input metadata is not mutated")

	text, md := splitStored(stored)
	assert.Equal(t, "revenue grew", text)
	assert.Equal(t, map[string]string{"ticker": "AAPL"}, md)
}

func TestUnavailable(t *testing.T) {
	ctx := context.Background()
	var s Store = Unavailable{Reason: "no provider"}

	_, err := s.Upsert(ctx, "ns", records(1, "x"))
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = s.Query(ctx, "ns", []float32{1}, 5, nil)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, s.DeleteNamespace(ctx, "ns"), ErrUnavailable)
	_, err = s.NamespaceExists(ctx, "ns")
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = s.NamespaceStats(ctx, "ns")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, s.Close())
}
