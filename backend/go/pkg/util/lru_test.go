package util

import (
	"testing"
	"time"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewWithConfig(CacheConfig[string, int]{
		Capacity: 2,
		OnEvict:  func(k string, _ int) { evicted = append(evicted, k) },
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("a = %d, %v", v, ok)
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Errorf("evicted = %v", evicted)
	}
}

func TestLRUTTL(t *testing.T) {
	now := time.Unix(100, 0)
	c, _ := NewWithConfig(CacheConfig[string, string]{
		Capacity: 4,
		TTL:      time.Minute,
		Now:      func() time.Time { return now },
	})
	c.Put("k", "v")
	if _, ok := c.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}
	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expired entry returned")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d", c.Len())
	}
	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
}

func TestLRUGetOrPut(t *testing.T) {
	c, _ := NewWithConfig(CacheConfig[string, int]{Capacity: 1})
	calls := 0
	mk := func() int { calls++; return 7 }
	if c.GetOrPut("x", mk) != 7 || c.GetOrPut("x", mk) != 7 {
		t.Fatal("unexpected value")
	}
	if calls != 1 {
		t.Errorf("create called %d times", calls)
	}
}

func TestLRURejectsZeroCapacity(t *testing.T) {
	if _, err := NewWithConfig(CacheConfig[int, int]{}); err == nil {
		t.Fatal("expected error")
	}
}
