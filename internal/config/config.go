// Package config loads filingrag configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete filingrag configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Registry    RegistryConfig    `koanf:"registry"`
	Cache       CacheConfig       `koanf:"cache"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Addr returns host:port for the listener.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ChunkingConfig controls segmentation and packing.
type ChunkingConfig struct {
	ChunkSize    int    `koanf:"chunk_size"`
	ChunkOverlap int    `koanf:"chunk_overlap"`
	Tokenizer    string `koanf:"tokenizer"` // tiktoken | words
	Encoding     string `koanf:"encoding"`

	// TokenizerCacheDir holds downloaded BPE ranks. Empty uses tiktoken's default.
	TokenizerCacheDir string `koanf:"tokenizer_cache_dir"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"`
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	BatchSize int      `koanf:"batch_size"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second, 0 disables
	Dimension int      `koanf:"dimension"`
	CacheDir  string   `koanf:"cache_dir"` // fastembed model cache
}

// VectorStoreConfig selects the vector backend.
type VectorStoreConfig struct {
	Provider        string `koanf:"provider"` // chromem | qdrant | none
	Path            string `koanf:"path"`     // chromem persistence dir, empty for in-memory
	Compress        bool   `koanf:"compress"`
	UpsertBatchSize int    `koanf:"upsert_batch_size"`
	TextPreview     int    `koanf:"text_preview"`

	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantCollection string `koanf:"qdrant_collection"`
	QdrantTLS        bool   `koanf:"qdrant_tls"`
	QdrantAPIKey     Secret `koanf:"qdrant_api_key"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	TopK int `koanf:"top_k"`
}

// IngestConfig sizes the background ingestion pool.
type IngestConfig struct {
	Workers      int      `koanf:"workers"`
	QueueSize    int      `koanf:"queue_size"`
	JobTimeout   Duration `koanf:"job_timeout"`
	MaxAttempts  int      `koanf:"max_attempts"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// RegistryConfig selects where filing and job state lives.
type RegistryConfig struct {
	Driver string `koanf:"driver"` // sqlite | file | memory
	Path   string `koanf:"path"`
}

// CacheConfig configures the optional Redis query-vector cache.
// An empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr     string   `koanf:"redis_addr"`
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	TTL           Duration `koanf:"ttl"`
}

// LoggingConfig is the loadable subset of logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json | console
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the loadable subset of telemetry.Config.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc | http
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	ExportInterval  Duration `koanf:"export_interval"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
		if cfg.Chunking.ChunkOverlap == 0 {
			cfg.Chunking.ChunkOverlap = 200
		}
	}
	if cfg.Chunking.Tokenizer == "" {
		cfg.Chunking.Tokenizer = "tiktoken"
	}
	if cfg.Chunking.Encoding == "" {
		cfg.Chunking.Encoding = "cl100k_base"
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "voyage"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 128
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(60 * time.Second)
	}
	if cfg.Embeddings.RateLimit == 0 {
		cfg.Embeddings.RateLimit = 5
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.UpsertBatchSize == 0 {
		cfg.VectorStore.UpsertBatchSize = 100
	}
	if cfg.VectorStore.TextPreview == 0 {
		cfg.VectorStore.TextPreview = 1000
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}
	if cfg.VectorStore.QdrantCollection == "" {
		cfg.VectorStore.QdrantCollection = "sec_filings"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 2
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 64
	}
	if cfg.Ingest.JobTimeout == 0 {
		cfg.Ingest.JobTimeout = Duration(10 * time.Minute)
	}
	if cfg.Ingest.MaxAttempts == 0 {
		cfg.Ingest.MaxAttempts = 3
	}
	if cfg.Ingest.RetryBackoff == 0 {
		cfg.Ingest.RetryBackoff = Duration(2 * time.Second)
	}

	if cfg.Registry.Driver == "" {
		cfg.Registry.Driver = "sqlite"
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "~/.local/share/filingrag/registry.db"
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(24 * time.Hour)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "filingrag"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownTimeout == 0 {
		cfg.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks the configuration for values no component can run with.
// A missing embedding API key is not an error: the service starts and
// reports retrieval as unavailable.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d (must be 1-65535)", ErrInvalidConfig, c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: shutdown timeout must be positive", ErrInvalidConfig)
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size)", ErrInvalidConfig, c.Chunking.ChunkOverlap)
	}
	if !oneOf(c.Chunking.Tokenizer, "tiktoken", "words") {
		return fmt.Errorf("%w: unknown tokenizer %q", ErrInvalidConfig, c.Chunking.Tokenizer)
	}

	if !oneOf(c.Embeddings.Provider, "voyage", "openai", "tei", "fastembed", "none") {
		return fmt.Errorf("%w: unknown embeddings provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize < 0 || c.Embeddings.Dimension < 0 || c.Embeddings.RateLimit < 0 {
		return fmt.Errorf("%w: embeddings batch_size, dimension and rate_limit must not be negative", ErrInvalidConfig)
	}

	if !oneOf(c.VectorStore.Provider, "chromem", "qdrant", "none") {
		return fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}
	if c.VectorStore.UpsertBatchSize < 0 || c.VectorStore.TextPreview < 0 {
		return fmt.Errorf("%w: vectorstore sizes must not be negative", ErrInvalidConfig)
	}
	if c.VectorStore.Provider == "qdrant" && (c.VectorStore.QdrantPort < 1 || c.VectorStore.QdrantPort > 65535) {
		return fmt.Errorf("%w: qdrant port %d", ErrInvalidConfig, c.VectorStore.QdrantPort)
	}

	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: retrieval top_k must be positive", ErrInvalidConfig)
	}

	if c.Ingest.Workers <= 0 || c.Ingest.QueueSize <= 0 || c.Ingest.MaxAttempts <= 0 {
		return fmt.Errorf("%w: ingest workers, queue_size and max_attempts must be positive", ErrInvalidConfig)
	}

	if !oneOf(c.Registry.Driver, "sqlite", "file", "memory") {
		return fmt.Errorf("%w: unknown registry driver %q", ErrInvalidConfig, c.Registry.Driver)
	}

	if !oneOf(c.Logging.Format, "json", "console") {
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if !oneOf(c.Telemetry.Protocol, "grpc", "http") {
			return fmt.Errorf("%w: unknown telemetry protocol %q", ErrInvalidConfig, c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("%w: telemetry sample_rate must be in [0, 1]", ErrInvalidConfig)
		}
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// ExpandPath resolves a leading "~/" against the user's home directory.
func ExpandPath(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}
