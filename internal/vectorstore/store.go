package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for vector store operations.
var (
	// ErrUnavailable means no store is configured or reachable.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrProvider wraps backend failures.
	ErrProvider = errors.New("vector store provider error")

	// ErrInvalidInput rejects blank namespaces, empty vectors and non-positive topK.
	ErrInvalidInput = errors.New("invalid vector store input")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

const (
	// DefaultUpsertBatchSize is the number of records per backend write.
	DefaultUpsertBatchSize = 100

	// DefaultTextPreview is the stored text limit, in characters.
	DefaultTextPreview = 1000

	// TextKey is the metadata key holding the stored text preview.
	TextKey = "text"
)

// Record is one chunk ready to be stored.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]string
}

// QueryResult is a stored chunk matched by a query.
type QueryResult struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// NamespaceStats describes the contents of one namespace.
type NamespaceStats struct {
	Namespace string `json:"namespace"`
	Vectors   int    `json:"vectors"`
}

// Store is the vector persistence boundary.
type Store interface {
	// Upsert writes records into namespace, replacing any with the same id.
	// It returns the number of records written.
	Upsert(ctx context.Context, namespace string, records []Record) (int, error)

	// Query returns at most topK results ordered by descending score. Each
	// filter entry must match the stored metadata exactly.
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]QueryResult, error)

	// DeleteNamespace removes every vector in namespace. Deleting a missing
	// namespace succeeds.
	DeleteNamespace(ctx context.Context, namespace string) error

	NamespaceStats(ctx context.Context, namespace string) (NamespaceStats, error)

	// NamespaceExists reports whether namespace holds at least one vector.
	NamespaceExists(ctx context.Context, namespace string) (bool, error)

	Close() error
}

// BatchError reports a failed upsert batch. Records in earlier batches were
// committed and are not rolled back.
type BatchError struct {
	Batch     int
	Committed int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("upsert batch %d failed after %d records committed: %v", e.Batch, e.Committed, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

func validateNamespace(namespace string) error {
	if strings.TrimSpace(namespace) == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidInput)
	}
	return nil
}

func validateRecords(records []Record) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: record %d has no id", ErrInvalidInput, i)
		}
		if len(r.Vector) == 0 {
			return fmt.Errorf("%w: record %q has no vector", ErrInvalidInput, r.ID)
		}
	}
	return nil
}

func validateQuery(namespace string, vector []float32, topK int) error {
	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if len(vector) == 0 {
		return fmt.Errorf("%w: query vector is empty", ErrInvalidInput)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidInput, topK)
	}
	return nil
}

// upsertBatches calls write for each consecutive batch of at most size
// records, stopping at the first failure.
func upsertBatches(ctx context.Context, records []Record, size int, write func(context.Context, []Record) error) (int, error) {
	if size <= 0 {
		size = DefaultUpsertBatchSize
	}
	committed := 0
	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			return committed, &BatchError{Batch: start / size, Committed: committed, Err: err}
		}
		end := min(start+size, len(records))
		if err := write(ctx, records[start:end]); err != nil {
			return committed, &BatchError{Batch: start / size, Committed: committed, Err: err}
		}
		committed = end
	}
	return committed, nil
}

// preview truncates text to at most n characters without splitting a rune.
func preview(text string, n int) string {
	if n <= 0 {
		n = DefaultTextPreview
	}
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	i := 0
	for pos := range text {
		if i == n {
			return text[:pos]
		}
		i++
	}
	return text
}

// storedMetadata merges the record metadata with its text preview.
func storedMetadata(r Record, previewLen int) map[string]string {
	md := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		md[k] = v
	}
	md[TextKey] = preview(r.Text, previewLen)
	return md
}

// splitStored separates the text preview from the rest of the stored metadata.
func splitStored(stored map[string]string) (string, map[string]string) {
	md := make(map[string]string, len(stored))
	for k, v := range stored {
		if k == TextKey {
			continue
		}
		md[k] = v
	}
	return stored[TextKey], md
}

func sortByScore(results []QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// Unavailable is the Store used when no backend is configured. Every call
// fails with ErrUnavailable.
type Unavailable struct {
	Reason string
}

var _ Store = Unavailable{}

func (u Unavailable) err() error {
	if u.Reason == "" {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, u.Reason)
}

func (u Unavailable) Upsert(context.Context, string, []Record) (int, error) { return 0, u.err() }

func (u Unavailable) Query(context.Context, string, []float32, int, map[string]string) ([]QueryResult, error) {
	return nil, u.err()
}

func (u Unavailable) DeleteNamespace(context.Context, string) error { return u.err() }

func (u Unavailable) NamespaceStats(context.Context, string) (NamespaceStats, error) {
	return NamespaceStats{}, u.err()
}

func (u Unavailable) NamespaceExists(context.Context, string) (bool, error) { return false, u.err() }

func (u Unavailable) Close() error { return nil }
