package embeddings

import (
	"context"
	"encoding/binary"
	"math"
	"time"

	"github.com/go-redis/redis/v8"

	"ragbase/backend/go/pkg/logger"
	"ragbase/backend/go/pkg/util"
)

// Cache stores query vectors keyed by model and text digest.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, vec []float32)
}

// MemoryCache is an in-process LRU cache.
type MemoryCache struct {
	lru *util.LRUCache[string, []float32]
}

// NewMemoryCache creates an LRU cache holding up to capacity vectors.
func NewMemoryCache(capacity int, ttl time.Duration) (*MemoryCache, error) {
	lru, err := util.NewWithConfig(util.CacheConfig[string, []float32]{Capacity: capacity, TTL: ttl})
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: lru}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool) {
	return c.lru.Get(key)
}

func (c *MemoryCache) Put(_ context.Context, key string, vec []float32) {
	c.lru.Put(key, vec)
}

// RedisCache shares query vectors between processes.
// Redis errors are logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    logger.Logger
}

// NewRedisCache wraps client. Keys are stored under prefix.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl, log: log.WithComponent("embedding_cache")}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("读取 Redis 向量缓存失败")
		}
		return nil, false
	}
	v, ok := decodeVector(b)
	return v, ok
}

func (c *RedisCache) Put(ctx context.Context, key string, vec []float32) {
	if err := c.client.Set(ctx, c.prefix+key, encodeVector(vec), c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("写入 Redis 向量缓存失败")
	}
}

// TieredCache reads through a list of caches in order and back-fills faster tiers.
type TieredCache []Cache

func (t TieredCache) Get(ctx context.Context, key string) ([]float32, bool) {
	for i, c := range t {
		if v, ok := c.Get(ctx, key); ok {
			for j := 0; j < i; j++ {
				t[j].Put(ctx, key, v)
			}
			return v, true
		}
	}
	return nil, false
}

func (t TieredCache) Put(ctx context.Context, key string, vec []float32) {
	for _, c := range t {
		c.Put(ctx, key, vec)
	}
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b)%4 != 0 || len(b) == 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
