package embeddings

import (
	"context"
	"strings"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func unreachableCache() *RedisQueryCache {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	return newRedisQueryCache(rdb, RedisCacheConfig{}, zap.NewNop())
}

func TestRedisQueryCache_Key(t *testing.T) {
	c := unreachableCache()
	defer c.Close()

	k1 := c.key("voyage-finance-2", "what was revenue")
	k2 := c.key("voyage-finance-2", "what was revenue")
	k3 := c.key("text-embedding-3-small", "what was revenue")

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.True(t, strings.HasPrefix(k1, "filingrag:qvec:voyage-finance-2:"))
	assert.Len(t, strings.TrimPrefix(k1, "filingrag:qvec:voyage-finance-2:"), 64)
}

func TestRedisQueryCache_FailuresAreMisses(t *testing.T) {
	c := unreachableCache()
	defer c.Close()
	ctx := context.Background()

	c.Set(ctx, "m", "q", []float32{1, 2})
	v, ok := c.Get(ctx, "m", "q")

	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestNewRedisQueryCache_RequiresAddr(t *testing.T) {
	_, err := NewRedisQueryCache(context.Background(), RedisCacheConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
