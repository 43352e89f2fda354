package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

var chromemTracer = otel.Tracer("filingrag.vectorstore.chromem")

// errPrecomputedOnly is returned if chromem ever tries to embed text itself.
var errPrecomputedOnly = errors.New("chromem store accepts precomputed vectors only")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// BatchSize is the number of records per write. Default: 100.
	BatchSize int

	// TextPreview is the stored text limit in characters. Default: 1000.
	TextPreview int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultUpsertBatchSize
	}
	if c.TextPreview <= 0 {
		c.TextPreview = DefaultTextPreview
	}
}

// ChromemStore implements Store with one chromem collection per namespace.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) the chromem database.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(config.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: creating chromem DB: %w", ErrProvider, err)
		}
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
		zap.Bool("compress", config.Compress),
	)

	return &ChromemStore{db: db, config: config, logger: logger}, nil
}

// embeddingFunc must never be nil: chromem substitutes an OpenAI embedder
// for nil on persisted collections.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(context.Context, string) ([]float32, error) {
		return nil, errPrecomputedOnly
	}
}

// Upsert writes records in sequential batches.
func (s *ChromemStore) Upsert(ctx context.Context, namespace string, records []Record) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("record_count", len(records)),
	)

	if err := validateNamespace(namespace); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := validateRecords(records); err != nil {
		return 0, err
	}

	collection, err := s.db.GetOrCreateCollection(namespace, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordError(backendChromem, "upsert")
		return 0, fmt.Errorf("%w: getting collection %s: %w", ErrProvider, namespace, err)
	}

	n, err := upsertBatches(ctx, records, s.config.BatchSize, func(ctx context.Context, batch []Record) error {
		docs := make([]chromem.Document, len(batch))
		for i, r := range batch {
			md := storedMetadata(r, s.config.TextPreview)
			docs[i] = chromem.Document{
				ID:        r.ID,
				Content:   md[TextKey],
				Metadata:  md,
				Embedding: r.Vector,
			}
		}
		// Vectors are precomputed, so concurrency buys nothing.
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			return fmt.Errorf("%w: %w", ErrProvider, err)
		}
		return nil
	})
	RecordsUpserted.WithLabelValues(backendChromem).Add(float64(n))
	span.SetAttributes(attribute.Int("records_committed", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordError(backendChromem, "upsert")
		s.logger.Warn("chromem upsert failed",
			zap.String("namespace", namespace),
			zap.Int("committed", n),
			zap.Int("total", len(records)),
			zap.Error(err),
		)
		return n, err
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted records to chromem",
		zap.String("namespace", namespace),
		zap.Int("count", n),
	)
	return n, nil
}

// Query returns the topK nearest records in namespace.
func (s *ChromemStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]QueryResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)
	defer observeQuery(backendChromem, time.Now())

	if err := validateQuery(namespace, vector, topK); err != nil {
		return nil, err
	}

	collection := s.db.GetCollection(namespace, s.embeddingFunc())
	if collection == nil {
		return []QueryResult{}, nil
	}

	// chromem rejects nResults greater than the collection size.
	count := collection.Count()
	if count == 0 {
		return []QueryResult{}, nil
	}
	k := min(topK, count)

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	found, err := collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordError(backendChromem, "query")
		return nil, fmt.Errorf("%w: querying %s: %w", ErrProvider, namespace, err)
	}

	results := make([]QueryResult, 0, len(found))
	for _, r := range found {
		text, md := splitStored(r.Metadata)
		if text == "" {
			text = r.Content
		}
		results = append(results, QueryResult{
			ID:       r.ID,
			Score:    r.Similarity,
			Text:     text,
			Metadata: md,
		})
	}
	sortByScore(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteNamespace drops the namespace collection.
func (s *ChromemStore) DeleteNamespace(ctx context.Context, namespace string) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.DeleteNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := validateNamespace(namespace); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(namespace); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordError(backendChromem, "delete")
		return fmt.Errorf("%w: deleting %s: %w", ErrProvider, namespace, err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted chromem namespace", zap.String("namespace", namespace))
	return nil
}

// NamespaceStats returns the vector count of namespace.
func (s *ChromemStore) NamespaceStats(ctx context.Context, namespace string) (NamespaceStats, error) {
	if err := validateNamespace(namespace); err != nil {
		return NamespaceStats{}, err
	}
	stats := NamespaceStats{Namespace: namespace}
	if collection := s.db.GetCollection(namespace, s.embeddingFunc()); collection != nil {
		stats.Vectors = collection.Count()
	}
	return stats, nil
}

// NamespaceExists reports whether namespace holds any vectors.
func (s *ChromemStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	stats, err := s.NamespaceStats(ctx, namespace)
	if err != nil {
		return false, err
	}
	return stats.Vectors > 0, nil
}

// Close is a no-op: chromem persists each write as it happens.
func (s *ChromemStore) Close() error {
	return nil
}
