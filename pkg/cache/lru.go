// Package cache provides the size-bounded caches behind the graph kernel's
// node and relationship tables, and the adaptive manager that resizes them
// under heap pressure.
//
// LRU is a classic doubly-linked-list + map LRU with one twist: entries can
// be pinned. A pinned entry is skipped by eviction, so the kernel can keep a
// primitive in memory for as long as a transaction holds uncommitted changes
// against it. If every candidate is pinned the cache temporarily grows past
// its maximum and shrinks again on the next insert once pins are released.
//
// Example:
//
//	c := cache.NewLRU[uint64, *Record]("records", 1000, func(r *Record) bool {
//		return r.InUse()
//	})
//	c.Put(42, rec)
//	if r, ok := c.Get(42); ok {
//		fmt.Println(r)
//	}
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LRU is a thread-safe least-recently-used cache with pinning.
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	name    string
	maxSize int
	pinned  func(V) bool

	list  *list.List
	items map[K]*list.Element

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU creates a cache holding up to maxSize entries. pinned may be nil.
func NewLRU[K comparable, V any](name string, maxSize int, pinned func(V) bool) *LRU[K, V] {
	if maxSize < 0 {
		maxSize = 0
	}
	return &LRU[K, V]{
		name:    name,
		maxSize: maxSize,
		pinned:  pinned,
		list:    list.New(),
		items:   make(map[K]*list.Element),
	}
}

// Name returns the cache name used in stats and logs.
func (c *LRU[K, V]) Name() string {
	return c.name
}

// Get returns the cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	elem, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.list.MoveToFront(elem)
	v := elem.Value.(*entry[K, V]).value
	c.mu.Unlock()

	c.hits.Add(1)
	return v, true
}

// Peek returns the cached value without touching recency or stats.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}
	var zero V
	return zero, false
}

// Put stores value under key, replacing any previous value.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		elem.Value.(*entry[K, V]).value = value
		c.list.MoveToFront(elem)
		return
	}
	c.insert(key, value)
}

// PutIfAbsent stores value unless key is already cached, and returns the
// value that ends up cached.
func (c *LRU[K, V]) PutIfAbsent(key K, value V) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.list.MoveToFront(elem)
		return elem.Value.(*entry[K, V]).value, false
	}
	c.insert(key, value)
	return value, true
}

// insert adds a new entry, evicting first. Caller must hold the lock.
func (c *LRU[K, V]) insert(key K, value V) {
	c.evictTo(c.maxSize - 1)
	elem := c.list.PushFront(&entry[K, V]{key: key, value: value})
	c.items[key] = elem
}

// Remove drops key from the cache.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		return true
	}
	return false
}

// Evict drops key unless its value is pinned. It reports whether an entry
// was removed.
func (c *LRU[K, V]) Evict(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	if c.pinned != nil && c.pinned(elem.Value.(*entry[K, V]).value) {
		return false
	}
	c.removeElement(elem)
	return true
}

// Clear removes every entry that is not pinned.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictTo(0)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// MaxSize returns the current target size.
func (c *LRU[K, V]) MaxSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxSize
}

// Resize changes the target size and evicts down to it.
func (c *LRU[K, V]) Resize(maxSize int) {
	if maxSize < 0 {
		maxSize = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	c.evictTo(maxSize)
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	c.mu.Lock()
	size := c.list.Len()
	maxSize := c.maxSize
	c.mu.Unlock()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Name:      c.name,
		Size:      size,
		MaxSize:   maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   hitRate,
	}
}

// CacheStats holds cache performance metrics.
type CacheStats struct {
	Name      string  `json:"name"`
	Size      int     `json:"size"`      // Current number of entries
	MaxSize   int     `json:"max_size"`  // Current target capacity
	Hits      uint64  `json:"hits"`      // Number of cache hits
	Misses    uint64  `json:"misses"`    // Number of cache misses
	Evictions uint64  `json:"evictions"` // Entries dropped to make room
	HitRate   float64 `json:"hit_rate"`  // Hit rate percentage (0-100)
}

// evictTo drops least recently used unpinned entries until at most target
// remain, or until only pinned entries are left. Caller must hold the lock.
func (c *LRU[K, V]) evictTo(target int) {
	if target < 0 {
		target = 0
	}
	elem := c.list.Back()
	for c.list.Len() > target && elem != nil {
		prev := elem.Prev()
		if c.pinned == nil || !c.pinned(elem.Value.(*entry[K, V]).value) {
			c.removeElement(elem)
			c.evictions.Add(1)
		}
		elem = prev
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}
