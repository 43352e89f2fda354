package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	backendQdrant = "qdrant"

	// Payload keys carried by every point besides the chunk metadata.
	namespaceKey = "namespace"
	chunkIDKey   = "chunk_id"
)

var qdrantTracer = otel.Tracer("filingrag.vectorstore.qdrant")

// QdrantConfig holds configuration for a Qdrant-backed store.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	UseTLS     bool
	APIKey     string

	// VectorSize is used when the collection has to be created. Zero takes
	// the size of the first upserted vector.
	VectorSize int

	BatchSize   int
	TextPreview int

	// MaxMessageSize caps gRPC messages in bytes. Default: 50MB.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "sec_filings"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultUpsertBatchSize
	}
	if c.TextPreview <= 0 {
		c.TextPreview = DefaultTextPreview
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize < 0 {
		return fmt.Errorf("%w: vector size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore implements Store on a single Qdrant collection. Every point
// carries a namespace payload and every read, count and delete filters on it.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	logger *zap.Logger

	mu    sync.Mutex
	ready bool
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore connects to Qdrant and checks its health.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		APIKey: config.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to qdrant: %w", ErrUnavailable, err)
	}

	store := &QdrantStore{client: client, config: config, logger: logger}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.healthCheck(hctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)
	return store, nil
}

func (s *QdrantStore) healthCheck(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// pointID maps a chunk id to a deterministic UUID scoped by namespace, so
// equal chunk ids in different filings never collide.
func pointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(namespace+"/"+id)).String()
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// collectionExists reports whether the shared collection is present,
// remembering a positive answer.
func (s *QdrantStore) collectionExists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return true, nil
	}
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	s.ready = exists
	return exists, nil
}

// ensureCollection creates the shared collection and its namespace index.
func (s *QdrantStore) ensureCollection(ctx context.Context, vectorSize int) error {
	exists, err := s.collectionExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	size := s.config.VectorSize
	if size == 0 {
		size = vectorSize
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(size),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.config.Collection,
		FieldName:      namespaceKey,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("indexing namespace on %s: %w", s.config.Collection, err)
	}

	s.ready = true
	s.logger.Info("created qdrant collection",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_size", size),
	)
	return nil
}

// namespaceFilter builds the mandatory namespace condition plus exact
// keyword matches for each filter entry.
func namespaceFilter(namespace string, filter map[string]string) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(filter)+1)
	must = append(must, qdrant.NewMatchKeyword(namespaceKey, namespace))
	for k, v := range filter {
		if k == namespaceKey {
			continue
		}
		must = append(must, qdrant.NewMatchKeyword(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func (s *QdrantStore) point(namespace string, r Record) *qdrant.PointStruct {
	md := storedMetadata(r, s.config.TextPreview)
	payload := make(map[string]*qdrant.Value, len(md)+2)
	for k, v := range md {
		payload[k] = qdrant.NewValueString(v)
	}
	payload[namespaceKey] = qdrant.NewValueString(namespace)
	payload[chunkIDKey] = qdrant.NewValueString(r.ID)

	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(pointID(namespace, r.ID)),
		Vectors: qdrant.NewVectorsDense(r.Vector),
		Payload: payload,
	}
}

// Upsert writes records in sequential batches, waiting for each to apply.
func (s *QdrantStore) Upsert(ctx context.Context, namespace string, records []Record) (int, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
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

	if err := s.ensureCollection(ctx, len(records[0].Vector)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordError(backendQdrant, "upsert")
		return 0, fmt.Errorf("%w: %w", ErrProvider, err)
	}

	n, err := upsertBatches(ctx, records, s.config.BatchSize, func(ctx context.Context, batch []Record) error {
		points := make([]*qdrant.PointStruct, len(batch))
		for i, r := range batch {
			points[i] = s.point(namespace, r)
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrProvider, err)
		}
		return nil
	})
	RecordsUpserted.WithLabelValues(backendQdrant).Add(float64(n))
	span.SetAttributes(attribute.Int("records_committed", n))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordError(backendQdrant, "upsert")
		s.logger.Warn("qdrant upsert failed",
			zap.String("namespace", namespace),
			zap.Int("committed", n),
			zap.Int("total", len(records)),
			zap.Error(err),
		)
		return n, err
	}

	span.SetStatus(codes.Ok, "success")
	return n, nil
}

// Query returns the topK nearest points in namespace.
func (s *QdrantStore) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]string) ([]QueryResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)
	defer observeQuery(backendQdrant, time.Now())

	if err := validateQuery(namespace, vector, topK); err != nil {
		return nil, err
	}

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return nil, s.fail(span, "query", err)
	}
	if !exists {
		return []QueryResult{}, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         namespaceFilter(namespace, filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		if isNotFound(err) {
			return []QueryResult{}, nil
		}
		return nil, s.fail(span, "query", err)
	}

	results := make([]QueryResult, 0, len(points))
	for _, p := range points {
		stored := make(map[string]string, len(p.GetPayload()))
		for k, v := range p.GetPayload() {
			stored[k] = v.GetStringValue()
		}
		id := stored[chunkIDKey]
		if id == "" {
			id = p.GetId().GetUuid()
		}
		delete(stored, chunkIDKey)
		delete(stored, namespaceKey)

		text, md := splitStored(stored)
		results = append(results, QueryResult{
			ID:       id,
			Score:    p.GetScore(),
			Text:     text,
			Metadata: md,
		})
	}
	sortByScore(results)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// DeleteNamespace removes every point whose namespace payload matches.
func (s *QdrantStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteNamespace")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := validateNamespace(namespace); err != nil {
		return err
	}

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return s.fail(span, "delete", err)
	}
	if !exists {
		return nil
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points:         qdrant.NewPointsSelectorFilter(namespaceFilter(namespace, nil)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil && !isNotFound(err) {
		return s.fail(span, "delete", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Info("deleted qdrant namespace", zap.String("namespace", namespace))
	return nil
}

// NamespaceStats counts the points in namespace exactly.
func (s *QdrantStore) NamespaceStats(ctx context.Context, namespace string) (NamespaceStats, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.NamespaceStats")
	defer span.End()
	span.SetAttributes(attribute.String("namespace", namespace))

	if err := validateNamespace(namespace); err != nil {
		return NamespaceStats{}, err
	}
	stats := NamespaceStats{Namespace: namespace}

	exists, err := s.collectionExists(ctx)
	if err != nil {
		return stats, s.fail(span, "stats", err)
	}
	if !exists {
		return stats, nil
	}

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.config.Collection,
		Filter:         namespaceFilter(namespace, nil),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		if isNotFound(err) {
			return stats, nil
		}
		return stats, s.fail(span, "stats", err)
	}
	stats.Vectors = int(count)
	span.SetStatus(codes.Ok, "success")
	return stats, nil
}

// NamespaceExists reports whether namespace holds any points.
func (s *QdrantStore) NamespaceExists(ctx context.Context, namespace string) (bool, error) {
	stats, err := s.NamespaceStats(ctx, namespace)
	if err != nil {
		return false, err
	}
	return stats.Vectors > 0, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *QdrantStore) fail(span trace.Span, operation string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	recordError(backendQdrant, operation)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: qdrant %s: %w", ErrProvider, operation, err)
}
