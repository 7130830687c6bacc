package cache

import (
	"container/list"
	"expvar"
)

type boundedEntry[K comparable, V any] struct {
	key   K
	value V
}

// Bounded is a capacity-bounded least-recently-used cache whose misses are
// filled by a caller-supplied compute function. It is not safe for concurrent
// use; callers serialise access, typically with a SpinLock.
type Bounded[K comparable, V any] struct {
	capacity  int
	lruList   *list.List
	items     map[K]*list.Element
	validator func(V) bool
	onEvicted func(key K, value V)

	hits      *expvar.Int
	misses    *expvar.Int
	evictions *expvar.Int
}

type BoundedOption[K comparable, V any] func(*Bounded[K, V])

// WithValidator rejects computed values from being cached. A rejected value is
// still returned to the caller.
func WithValidator[K comparable, V any](fn func(V) bool) BoundedOption[K, V] {
	return func(b *Bounded[K, V]) { b.validator = fn }
}

// WithOnEvicted is called for every entry dropped by eviction or Clear.
func WithOnEvicted[K comparable, V any](fn func(key K, value V)) BoundedOption[K, V] {
	return func(b *Bounded[K, V]) { b.onEvicted = fn }
}

// WithMetrics wires expvar counters; any of them may be nil.
func WithMetrics[K comparable, V any](hits, misses, evictions *expvar.Int) BoundedOption[K, V] {
	return func(b *Bounded[K, V]) {
		b.hits = hits
		b.misses = misses
		b.evictions = evictions
	}
}

// NewBounded creates a cache holding at most capacity entries. A capacity below
// one is treated as one.
func NewBounded[K comparable, V any](capacity int, opts ...BoundedOption[K, V]) *Bounded[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bounded[K, V]{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[K]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Get returns the cached value for key, promoting it to most recently used. On
// a miss it calls compute; errors and validator rejections are returned without
// caching anything.
func (b *Bounded[K, V]) Get(key K, compute func(K) (V, error)) (V, error) {
	if elem, ok := b.items[key]; ok {
		if b.hits != nil {
			b.hits.Add(1)
		}
		b.lruList.MoveToFront(elem)
		return elem.Value.(*boundedEntry[K, V]).value, nil
	}
	if b.misses != nil {
		b.misses.Add(1)
	}

	value, err := compute(key)
	if err != nil {
		return value, err
	}
	if b.validator != nil && !b.validator(value) {
		return value, nil
	}
	b.put(key, value)
	return value, nil
}

// Peek returns the cached value without changing recency.
func (b *Bounded[K, V]) Peek(key K) (V, bool) {
	if elem, ok := b.items[key]; ok {
		return elem.Value.(*boundedEntry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put inserts or replaces key as most recently used.
func (b *Bounded[K, V]) Put(key K, value V) {
	if elem, ok := b.items[key]; ok {
		elem.Value.(*boundedEntry[K, V]).value = value
		b.lruList.MoveToFront(elem)
		return
	}
	b.put(key, value)
}

func (b *Bounded[K, V]) put(key K, value V) {
	if b.lruList.Len() >= b.capacity {
		b.evictOldest()
	}
	b.items[key] = b.lruList.PushFront(&boundedEntry[K, V]{key: key, value: value})
}

func (b *Bounded[K, V]) evictOldest() {
	elem := b.lruList.Back()
	if elem == nil {
		return
	}
	entry := b.lruList.Remove(elem).(*boundedEntry[K, V])
	delete(b.items, entry.key)
	if b.evictions != nil {
		b.evictions.Add(1)
	}
	if b.onEvicted != nil {
		b.onEvicted(entry.key, entry.value)
	}
}

// Keys returns the cached keys from most to least recently used.
func (b *Bounded[K, V]) Keys() []K {
	keys := make([]K, 0, b.lruList.Len())
	for e := b.lruList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*boundedEntry[K, V]).key)
	}
	return keys
}

func (b *Bounded[K, V]) Len() int      { return b.lruList.Len() }
func (b *Bounded[K, V]) Capacity() int { return b.capacity }

// Clear drops every entry, least recently used first, through the eviction
// callback.
func (b *Bounded[K, V]) Clear() {
	for b.lruList.Len() > 0 {
		b.evictOldest()
	}
}
