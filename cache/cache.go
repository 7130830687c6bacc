package cache

import (
	"expvar"
	"sync"
)

// LRUCache is a mutex-guarded fixed-size LRU map. Unlike Bounded it is safe for
// concurrent use and has plain Put/Get semantics.
type LRUCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	inner    *Bounded[K, V]

	hits   *expvar.Int
	misses *expvar.Int
}

// NewLRUCache creates an LRUCache. A capacity of zero or less disables caching:
// Put is ignored and Get always misses.
func NewLRUCache[K comparable, V any](capacity int, onEvicted func(key K, value V)) *LRUCache[K, V] {
	c := &LRUCache[K, V]{capacity: capacity}
	if capacity > 0 {
		c.inner = NewBounded[K, V](capacity, WithOnEvicted[K, V](onEvicted))
	}
	return c
}

func (c *LRUCache[K, V]) SetMetrics(hits, misses *expvar.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = hits
	c.misses = misses
}

func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		return value, false
	}
	if value, ok = c.inner.Peek(key); ok {
		// promote
		c.inner.Put(key, value)
		if c.hits != nil {
			c.hits.Add(1)
		}
		return value, true
	}
	if c.misses != nil {
		c.misses.Add(1)
	}
	return value, false
}

func (c *LRUCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		return
	}
	c.inner.Put(key, value)
}

func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner == nil {
		return 0
	}
	return c.inner.Len()
}

// Clear removes all entries through the eviction callback and resets metrics.
func (c *LRUCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inner != nil {
		c.inner.Clear()
	}
	if c.hits != nil {
		c.hits.Set(0)
	}
	if c.misses != nil {
		c.misses.Set(0)
	}
}

// GetHitRate is suitable for an expvar.Func.
func (c *LRUCache[K, V]) GetHitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hits, misses float64
	if c.hits != nil {
		hits = float64(c.hits.Value())
	}
	if c.misses != nil {
		misses = float64(c.misses.Value())
	}
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return hits / total
}
