package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates the provider call failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrUnavailable indicates no embedding provider is configured, usually
	// because the credential is missing. It is distinct from a provider error.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrMisaligned indicates a batch returned a different number of vectors
	// than it was given texts.
	ErrMisaligned = errors.New("embedding count does not match input count")

	// ErrCircuitOpen indicates the provider breaker is rejecting calls.
	ErrCircuitOpen = errors.New("embedding provider circuit open")
)

// Provider names accepted by NewProvider.
const (
	ProviderVoyage    = "voyage"
	ProviderOpenAI    = "openai"
	ProviderTEI       = "tei"
	ProviderFastEmbed = "fastembed"
	ProviderNone      = "none"
)

// Provider is one embedding backend.
type Provider interface {
	// EmbedDocuments embeds texts in document mode, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single text in query mode.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Model returns the model name.
	Model() string
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of voyage, openai, tei, fastembed or none.
	Provider string
	// Model is the embedding model name. Empty selects the provider default.
	Model string
	// BaseURL overrides the API endpoint. Required for tei.
	BaseURL string
	// APIKey authenticates voyage and openai. Without it those providers
	// are unavailable.
	APIKey string
	// Dimension overrides the detected embedding dimension.
	Dimension int
	// Timeout bounds each HTTP request.
	Timeout time.Duration
	// RateLimit caps HTTP requests per second. Zero disables the limiter.
	RateLimit float64
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
	// Logger receives breaker state changes.
	Logger *zap.Logger
}

// NewProvider creates an embedding provider based on the configuration.
// It returns ErrUnavailable when the provider is disabled or lacks a credential.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderVoyage, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: voyage requires an API key", ErrUnavailable)
		}
		return newVoyageProvider(cfg), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: openai requires an API key", ErrUnavailable)
		}
		return newOpenAIProvider(cfg), nil
	case ProviderTEI:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("%w: tei requires a base URL", ErrInvalidConfig)
		}
		return newTEIProvider(cfg), nil
	case ProviderFastEmbed:
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderNone:
		return nil, fmt.Errorf("%w: provider disabled", ErrUnavailable)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}

var knownDimensions = map[string]int{
	"voyage-finance-2":       1024,
	"voyage-3":               1024,
	"voyage-3-lite":          512,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

func dimensionFor(cfg ProviderConfig) int {
	if cfg.Dimension > 0 {
		return cfg.Dimension
	}
	return detectDimensionFromModel(cfg.Model)
}
