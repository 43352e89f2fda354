package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// QueryCache stores query vectors keyed by model and text. Implementations
// must treat their own failures as misses.
type QueryCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vector []float32)
}

// RedisCacheConfig configures RedisQueryCache.
type RedisCacheConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// RedisQueryCache caches query embeddings in Redis.
type RedisQueryCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

type cacheEntry struct {
	Model     string    `json:"model"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRedisQueryCache connects to Redis and verifies the connection.
func NewRedisQueryCache(ctx context.Context, cfg RedisCacheConfig, logger *zap.Logger) (*RedisQueryCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return newRedisQueryCache(rdb, cfg, logger), nil
}

func newRedisQueryCache(rdb *redis.Client, cfg RedisCacheConfig, logger *zap.Logger) *RedisQueryCache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "filingrag:qvec:"
	}
	return &RedisQueryCache{client: rdb, ttl: cfg.TTL, prefix: prefix, logger: logger}
}

func (c *RedisQueryCache) key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector, or false on a miss or any Redis failure.
func (c *RedisQueryCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	data, err := c.client.Get(ctx, c.key(model, text)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("query cache get failed", zap.Error(err))
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Vector) == 0 {
		c.logger.Warn("query cache entry unreadable", zap.Error(err))
		return nil, false
	}
	return entry.Vector, true
}

// Set stores vector. Failures are logged and dropped.
func (c *RedisQueryCache) Set(ctx context.Context, model, text string, vector []float32) {
	data, err := json.Marshal(cacheEntry{Model: model, Vector: vector, CreatedAt: time.Now().UTC()})
	if err != nil {
		c.logger.Warn("query cache marshal failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(model, text), data, c.ttl).Err(); err != nil {
		c.logger.Warn("query cache set failed", zap.Error(err))
	}
}

// Close closes the Redis connection pool.
func (c *RedisQueryCache) Close() error {
	return c.client.Close()
}
