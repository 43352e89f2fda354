package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBatchSize is the number of texts sent per provider call.
const DefaultBatchSize = 128

// Client batches document embeddings over a Provider and guards alignment
// between inputs and vectors. A Client without a provider is valid and
// answers every call with ErrUnavailable.
type Client struct {
	provider  Provider
	batchSize int
	cache     QueryCache
	metrics   *Metrics
	logger    *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBatchSize sets the texts per provider call.
func WithBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithQueryCache caches query vectors.
func WithQueryCache(qc QueryCache) ClientOption {
	return func(c *Client) { c.cache = qc }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics replaces the default otel metrics.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient wraps p. p may be nil, in which case the client is unavailable.
func NewClient(p Provider, opts ...ClientOption) *Client {
	c := &Client{
		provider:  p,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(c.logger)
	}
	return c
}

// Available reports whether a provider is configured.
func (c *Client) Available() bool {
	return c != nil && c.provider != nil
}

// Dimension returns the provider's vector size, or 0 when unavailable.
func (c *Client) Dimension() int {
	if !c.Available() {
		return 0
	}
	return c.provider.Dimension()
}

// Model returns the provider's model name.
func (c *Client) Model() string {
	if !c.Available() {
		return ""
	}
	return c.provider.Model()
}

// BatchSize returns the texts per provider call.
func (c *Client) BatchSize() int { return c.batchSize }

// EmbedDocuments embeds texts in document mode, in sequential batches. The
// result has exactly one vector per text in input order. Any failed or
// misaligned batch fails the whole call and no vectors are returned.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if !c.Available() {
		return nil, ErrUnavailable
	}
	if len(texts) == 0 {
		return nil, nil
	}

	model := c.provider.Model()
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		batch := texts[start:end]

		began := time.Now()
		vectors, err := c.provider.EmbedDocuments(ctx, batch)
		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("%w: batch %d returned %d vectors for %d texts", ErrMisaligned, start/c.batchSize, len(vectors), len(batch))
		}
		c.metrics.RecordGeneration(ctx, model, "embed_documents", time.Since(began), len(batch), err)
		if err != nil {
			c.logger.Warn("embedding batch failed",
				zap.Int("batch", start/c.batchSize),
				zap.Int("batch_size", len(batch)),
				zap.Int("total", len(texts)),
				zap.Error(err),
			)
			return nil, fmt.Errorf("embedding batch %d: %w", start/c.batchSize, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a question in query mode. A blank question returns
// ErrEmptyInput without calling the provider.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query is blank", ErrEmptyInput)
	}
	if !c.Available() {
		return nil, ErrUnavailable
	}

	model := c.provider.Model()
	if c.cache != nil {
		if v, ok := c.cache.Get(ctx, model, text); ok {
			c.metrics.RecordCacheLookup(ctx, true)
			return v, nil
		}
		c.metrics.RecordCacheLookup(ctx, false)
	}

	began := time.Now()
	vector, err := c.provider.EmbedQuery(ctx, text)
	if err == nil && len(vector) == 0 {
		err = fmt.Errorf("%w: empty query vector", ErrMisaligned)
	}
	c.metrics.RecordGeneration(ctx, model, "embed_query", time.Since(began), 1, err)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(ctx, model, text, vector)
	}
	return vector, nil
}

// Close releases the provider.
func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	return c.provider.Close()
}
