// Package retrieval turns chunks into stored vectors and questions into
// ranked filing excerpts.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/embeddings"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTopK is the number of results returned when the caller passes none.
const DefaultTopK = 5

// ErrUnavailable means retrieval cannot run because the embedding provider
// or the vector store is not configured. It is distinct from an empty result.
var ErrUnavailable = errors.New("retrieval unavailable")

var tracer = otel.Tracer("filingrag.retrieval")

// Embedder produces document and query vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Service composes an Embedder and a vector store.
type Service struct {
	embedder Embedder
	store    vectorstore.Store
	topK     int
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTopK sets the default result count.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService wires embedder and store. A nil store is treated as unavailable.
func NewService(embedder Embedder, store vectorstore.Store, opts ...Option) *Service {
	if store == nil {
		store = vectorstore.Unavailable{}
	}
	s := &Service{
		embedder: embedder,
		store:    store,
		topK:     DefaultTopK,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// unavailable maps configuration failures from either dependency onto
// ErrUnavailable, leaving other errors untouched.
func unavailable(err error) error {
	if errors.Is(err, embeddings.ErrUnavailable) || errors.Is(err, vectorstore.ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func (s *Service) requireEmbedder() (Embedder, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, embeddings.ErrUnavailable)
	}
	return s.embedder, nil
}

// Ready returns ErrUnavailable when either dependency is unconfigured.
func (s *Service) Ready() error {
	if _, err := s.requireEmbedder(); err != nil {
		return err
	}
	if a, ok := s.embedder.(interface{ Available() bool }); ok && !a.Available() {
		return fmt.Errorf("%w: %w", ErrUnavailable, embeddings.ErrUnavailable)
	}
	if u, ok := s.store.(vectorstore.Unavailable); ok {
		_, err := u.NamespaceExists(context.Background(), "")
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// UpsertChunks embeds chunks in document mode and stores them under
// namespace. It returns the number of vectors written; an empty chunk list
// writes nothing.
func (s *Service) UpsertChunks(ctx context.Context, chunks []chunking.Chunk, namespace string) (int, error) {
	ctx, span := tracer.Start(ctx, "Service.UpsertChunks")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("chunk_count", len(chunks)),
	)

	if len(chunks) == 0 {
		return 0, nil
	}
	emb, err := s.requireEmbedder()
	if err != nil {
		return 0, err
	}

	began := time.Now()
	vectors, err := emb.EmbedDocuments(ctx, chunking.Texts(chunks))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, unavailable(fmt.Errorf("embedding chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("%w: %d vectors for %d chunks", embeddings.ErrMisaligned, len(vectors), len(chunks))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:       c.ID,
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: c.Metadata.Fields(),
		}
	}

	n, err := s.store.Upsert(ctx, namespace, records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return n, unavailable(fmt.Errorf("storing chunks: %w", err))
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("upserted chunks",
		zap.String("namespace", namespace),
		zap.Int("count", n),
		zap.Duration("elapsed", time.Since(began)),
	)
	return n, nil
}

// Retrieve returns the topK chunks most similar to question. A blank
// question returns an empty result without calling the provider.
func (s *Service) Retrieve(ctx context.Context, question, namespace string, topK int) ([]vectorstore.QueryResult, error) {
	return s.Query(ctx, question, namespace, topK, nil)
}

// Query is Retrieve with an exact-match metadata filter.
func (s *Service) Query(ctx context.Context, question, namespace string, topK int, filter map[string]string) ([]vectorstore.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "Service.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
		attribute.Int("filter_keys", len(filter)),
	)

	if strings.TrimSpace(question) == "" {
		return []vectorstore.QueryResult{}, nil
	}
	if topK <= 0 {
		topK = s.topK
	}
	emb, err := s.requireEmbedder()
	if err != nil {
		return nil, err
	}

	vector, err := emb.EmbedQuery(ctx, question)
	if err != nil {
		if errors.Is(err, embeddings.ErrEmptyInput) {
			return []vectorstore.QueryResult{}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(fmt.Errorf("embedding question: %w", err))
	}

	results, err := s.store.Query(ctx, namespace, vector, topK, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, unavailable(fmt.Errorf("querying %s: %w", namespace, err))
	}
	if results == nil {
		results = []vectorstore.QueryResult{}
	}

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// NamespaceExists reports whether namespace holds any vectors.
func (s *Service) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	ok, err := s.store.NamespaceExists(ctx, namespace)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// NamespaceStats describes the stored vectors of namespace.
func (s *Service) NamespaceStats(ctx context.Context, namespace string) (vectorstore.NamespaceStats, error) {
	stats, err := s.store.NamespaceStats(ctx, namespace)
	if err != nil {
		return stats, unavailable(err)
	}
	return stats, nil
}

// DeleteNamespace removes every vector stored for namespace.
func (s *Service) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := s.store.DeleteNamespace(ctx, namespace); err != nil {
		return unavailable(err)
	}
	s.logger.Info("deleted namespace", zap.String("namespace", namespace))
	return nil
}

// ReportContext runs every report topic against namespace concurrently and
// returns the results keyed by topic name. Any failing topic fails the call.
func (s *Service) ReportContext(ctx context.Context, namespace string, topK int) (map[string][]vectorstore.QueryResult, error) {
	ctx, span := tracer.Start(ctx, "Service.ReportContext")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	results := make([][]vectorstore.QueryResult, len(ReportTopics))
	g, gctx := errgroup.WithContext(ctx)
	for i, topic := range ReportTopics {
		g.Go(func() error {
			r, err := s.Retrieve(gctx, topic.Query, namespace, topK)
			if err != nil {
				return fmt.Errorf("topic %s: %w", topic.Name, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make(map[string][]vectorstore.QueryResult, len(ReportTopics))
	for i, topic := range ReportTopics {
		out[topic.Name] = results[i]
	}
	span.SetStatus(codes.Ok, "success")
	return out, nil
}
