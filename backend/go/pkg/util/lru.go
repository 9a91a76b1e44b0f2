package util

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// CacheConfig 用于配置LRU缓存的行为。
type CacheConfig[K comparable, V any] struct {
	// Capacity 是缓存的最大元素数量，必须大于 0。
	Capacity int
	// TTL 是元素的存活时间。如果为0，则元素永不过期。
	TTL time.Duration
	// OnEvict 在元素因容量或过期被移除时调用（持有锁期间，不要在回调中访问缓存）。
	OnEvict func(key K, value V)
	// Now 用于替换时钟，测试时使用。
	Now func() time.Time
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// LRUCache 是一个支持泛型、线程安全、可选过期时间的LRU缓存。
type LRUCache[K comparable, V any] struct {
	config CacheConfig[K, V]
	order  *list.List
	items  map[K]*list.Element
	mu     sync.Mutex

	hits, misses uint64
}

// NewWithConfig 使用指定的配置创建一个LRU缓存实例。
func NewWithConfig[K comparable, V any](config CacheConfig[K, V]) (*LRUCache[K, V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("LRU 缓存容量必须大于 0，当前为 %d", config.Capacity)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &LRUCache[K, V]{
		config: config,
		order:  list.New(),
		items:  make(map[K]*list.Element, config.Capacity),
	}, nil
}

// Get 根据键获取一个值，过期的元素视为不存在。
func (c *LRUCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	e := el.Value.(*entry[K, V])
	if c.expired(e) {
		c.remove(el, true)
		c.misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return e.value, true
}

// Put 添加或更新一个键值对，并刷新其过期时间。
func (c *LRUCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.config.TTL > 0 {
		expiresAt = c.config.Now().Add(c.config.TTL)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	for c.order.Len() > c.config.Capacity {
		c.remove(c.order.Back(), true)
	}
}

// GetOrPut 返回已有的值；不存在时存入 create() 的结果。
func (c *LRUCache[K, V]) GetOrPut(key K, create func() V) V {
	if v, ok := c.Get(key); ok {
		return v
	}
	c.mu.Lock()
	if el, ok := c.items[key]; ok && !c.expired(el.Value.(*entry[K, V])) {
		c.mu.Unlock()
		return el.Value.(*entry[K, V]).value
	}
	c.mu.Unlock()
	v := create()
	c.Put(key, v)
	return v
}

// Remove 删除一个键，不触发 OnEvict。
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if ok {
		c.remove(el, false)
	}
	return ok
}

// Purge 清空缓存。
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[K]*list.Element, c.config.Capacity)
}

// Len 返回当前缓存中的条目数量（包括尚未被动淘汰的过期条目）。
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats 返回命中与未命中次数。
func (c *LRUCache[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRUCache[K, V]) expired(e *entry[K, V]) bool {
	return !e.expiresAt.IsZero() && c.config.Now().After(e.expiresAt)
}

// remove 假设已持有锁。
func (c *LRUCache[K, V]) remove(el *list.Element, evicted bool) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, e.key)
	if evicted && c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}
