package ratelimiter

import (
	"time"

	"ragbase/backend/go/pkg/util"
)

// PerKeyTokenBucket keeps one TokenBucket per key. Idle keys are dropped
// once maxKeys is exceeded or after idleTTL without traffic.
type PerKeyTokenBucket struct {
	rate     float64
	capacity int
	now      func() time.Time
	buckets  *util.LRUCache[string, *TokenBucket]
}

// NewPerKeyTokenBucket creates a keyed limiter. maxKeys <= 0 defaults to 10000.
func NewPerKeyTokenBucket(rate float64, capacity, maxKeys int, idleTTL time.Duration) *PerKeyTokenBucket {
	return newPerKey(rate, capacity, maxKeys, idleTTL, time.Now)
}

func newPerKey(rate float64, capacity, maxKeys int, idleTTL time.Duration, now func() time.Time) *PerKeyTokenBucket {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	buckets, _ := util.NewWithConfig(util.CacheConfig[string, *TokenBucket]{
		Capacity: maxKeys,
		TTL:      idleTTL,
		Now:      now,
	})
	return &PerKeyTokenBucket{rate: rate, capacity: capacity, now: now, buckets: buckets}
}

// AllowKey consumes a token from key's bucket.
func (l *PerKeyTokenBucket) AllowKey(key string) bool {
	b := l.buckets.GetOrPut(key, func() *TokenBucket {
		return newTokenBucket(l.rate, l.capacity, l.now)
	})
	// 刷新 TTL，活跃的客户端不会被淘汰。
	l.buckets.Put(key, b)
	return b.Allow()
}
