package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/filingrag/internal/chunking"
	"github.com/fyrsmithlabs/filingrag/internal/config"
	"github.com/fyrsmithlabs/filingrag/internal/embeddings"
	"github.com/fyrsmithlabs/filingrag/internal/ingest"
	"github.com/fyrsmithlabs/filingrag/internal/logging"
	"github.com/fyrsmithlabs/filingrag/internal/registry"
	"github.com/fyrsmithlabs/filingrag/internal/retrieval"
	"github.com/fyrsmithlabs/filingrag/internal/telemetry"
	"github.com/fyrsmithlabs/filingrag/internal/tokenizer"
	"github.com/fyrsmithlabs/filingrag/internal/vectorstore"
)

// app holds every wired component. Fields after builder are nil when the
// command only needed chunking.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Telemetry

	builder *chunking.Builder

	embedder  *embeddings.Client
	store     vectorstore.Store
	cache     *embeddings.RedisQueryCache
	retrieval *retrieval.Service
	registry  registry.Store
	queue     *ingest.Queue
}

// loadConfig reads the config file and environment.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.LoadWithFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the service logger. Telemetry comes up first so the
// otelzap bridge can attach when enabled. One-shot commands log to stderr.
func newLogger(ctx context.Context, cfg *config.Config, oneShot bool) (*zap.Logger, *telemetry.Telemetry, error) {
	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	logCfg.Output.Stderr = oneShot

	// Telemetry logs its own setup through a bootstrap logger.
	boot, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), boot.Underlying())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger := boot
	if lp := tel.LoggerProvider(); lp != nil && logCfg.Output.OTEL {
		if logger, err = logging.NewLogger(logCfg, lp); err != nil {
			return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	return logger.Underlying(), tel, nil
}

// newBuilder wires the tokenizer into the chunk builder.
func newBuilder(cfg config.ChunkingConfig) (*chunking.Builder, error) {
	if cfg.TokenizerCacheDir != "" {
		dir, err := config.ExpandPath(cfg.TokenizerCacheDir)
		if err != nil {
			return nil, err
		}
		tokenizer.SetCacheDir(dir)
	}
	counter, err := tokenizer.New(cfg.Tokenizer, cfg.Encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	return chunking.NewBuilder(
		chunking.WithChunkSize(cfg.ChunkSize),
		chunking.WithChunkOverlap(cfg.ChunkOverlap),
		chunking.WithCounter(counter),
	)
}

// newEmbedder returns an unavailable client rather than failing when no
// provider can be configured, so the process still serves health checks.
func newEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*embeddings.Client, *embeddings.RedisQueryCache, error) {
	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
		Timeout:   cfg.Embeddings.Timeout.Duration(),
		RateLimit: cfg.Embeddings.RateLimit,
		CacheDir:  cfg.Embeddings.CacheDir,
		Logger:    logger,
	})
	switch {
	case errors.Is(err, embeddings.ErrUnavailable):
		logger.Warn("embeddings unavailable, retrieval disabled", zap.Error(err))
		return embeddings.NewClient(nil, embeddings.WithLogger(logger)), nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("embeddings: %w", err)
	}

	opts := []embeddings.ClientOption{
		embeddings.WithBatchSize(cfg.Embeddings.BatchSize),
		embeddings.WithLogger(logger),
	}

	var cache *embeddings.RedisQueryCache
	if cfg.Cache.RedisAddr != "" {
		cache, err = embeddings.NewRedisQueryCache(ctx, embeddings.RedisCacheConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword.Value(),
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL.Duration(),
		}, logger)
		if err != nil {
			logger.Warn("query cache disabled", zap.String("addr", cfg.Cache.RedisAddr), zap.Error(err))
		} else {
			opts = append(opts, embeddings.WithQueryCache(cache))
		}
	}

	client := embeddings.NewClient(provider, opts...)
	logger.Info("embeddings ready",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", client.Model()),
		zap.Int("dimension", client.Dimension()))
	return client, cache, nil
}

// newApp wires the full pipeline.
func newApp(ctx context.Context, opts *options, oneShot bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, tel, err := newLogger(ctx, cfg, oneShot)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	if a.builder, err = newBuilder(cfg.Chunking); err != nil {
		a.Close()
		return nil, err
	}

	if a.embedder, a.cache, err = newEmbedder(ctx, cfg, logger); err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = vectorstore.NewStore(ctx, cfg.VectorStore, a.embedder.Dimension(), logger)
	if err != nil {
		if errors.Is(err, vectorstore.ErrInvalidConfig) {
			a.Close()
			return nil, err
		}
		logger.Warn("vector store unavailable, retrieval disabled",
			zap.String("provider", cfg.VectorStore.Provider), zap.Error(err))
		a.store = vectorstore.Unavailable{Reason: err.Error()}
	}

	if a.registry, err = registry.Open(cfg.Registry); err != nil {
		a.Close()
		return nil, fmt.Errorf("registry: %w", err)
	}

	a.retrieval = retrieval.NewService(a.embedder, a.store,
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithLogger(logger),
	)
	a.queue = ingest.NewQueue(a.builder, a.retrieval, a.registry, ingest.Config{
		Workers:      cfg.Ingest.Workers,
		QueueSize:    cfg.Ingest.QueueSize,
		JobTimeout:   cfg.Ingest.JobTimeout.Duration(),
		MaxAttempts:  cfg.Ingest.MaxAttempts,
		RetryBackoff: cfg.Ingest.RetryBackoff.Duration(),
	}, logger)
	return a, nil
}

// Close releases components in reverse wiring order.
func (a *app) Close() {
	if a.registry != nil {
		if err := a.registry.Close(); err != nil {
			a.logger.Warn("closing registry", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing vector store", zap.Error(err))
		}
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
