package cache

import (
	"container/list"
	"sync"
	"time"
)

// Entry is one exported LRU item.
type Entry[K comparable, V any] struct {
	Key      K         `json:"key"`
	Value    V         `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

type lruItem[K comparable, V any] struct {
	key      K
	value    V
	storedAt time.Time
}

// Stats reports cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	Len       int
	Capacity  int
}

// LRU is a fixed-capacity in-memory cache with least-recently-used eviction.
//
// Get promotes the entry it returns. Set on a full cache evicts exactly one
// entry, the least recently used. When TTL > 0, entries older than TTL are
// treated as misses, removed on access and by the cleanup loop.
// All methods are safe for concurrent use.
type LRU[K comparable, V any] struct {
	mutex    sync.Mutex
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	now      func() time.Time
	stats    Stats

	cleanupTicker *time.Ticker
	done          chan struct{}
	closeOnce     sync.Once
}

// NewLRU creates an LRU cache. Capacity below 1 is raised to 1.
func NewLRU[K comparable, V any](opts ...MemoryOption) *LRU[K, V] {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
		Now:             time.Now,
	}

	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSize < 1 {
		cfg.MaxSize = 1
	}

	c := &LRU[K, V]{
		items:    make(map[K]*list.Element, cfg.MaxSize),
		order:    list.New(),
		capacity: cfg.MaxSize,
		ttl:      cfg.TTL,
		now:      cfg.Now,
		done:     make(chan struct{}),
	}

	if cfg.TTL > 0 && cfg.CleanupInterval > 0 {
		c.cleanupTicker = time.NewTicker(cfg.CleanupInterval)
		go c.cleanupExpired()
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	it := el.Value.(*lruItem[K, V])
	if c.expired(it) {
		c.removeElement(el)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return it.value, true
}

// Set stores value under key as the most recently used entry.
func (c *LRU[K, V]) Set(key K, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.setLocked(key, value, c.now())
}

func (c *LRU[K, V]) setLocked(key K, value V, storedAt time.Time) {
	if el, ok := c.items[key]; ok {
		it := el.Value.(*lruItem[K, V])
		it.value = value
		it.storedAt = storedAt
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}

	c.items[key] = c.order.PushFront(&lruItem[K, V]{key: key, value: value, storedAt: storedAt})
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *LRU[K, V]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.order.Len()
}

// Stats returns a copy of the counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	s := c.stats
	s.Len = c.order.Len()
	s.Capacity = c.capacity
	return s
}

// Entries returns the live entries ordered from least to most recently used.
// Replaying them through Load restores the same recency order.
func (c *LRU[K, V]) Entries() []Entry[K, V] {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	out := make([]Entry[K, V], 0, c.order.Len())
	for el := c.order.Back(); el != nil; el = el.Prev() {
		it := el.Value.(*lruItem[K, V])
		if c.expired(it) {
			continue
		}
		out = append(out, Entry[K, V]{Key: it.key, Value: it.value, StoredAt: it.storedAt})
	}
	return out
}

// Load inserts entries in order, keeping their stored timestamps.
// Entries already expired are skipped.
func (c *LRU[K, V]) Load(entries []Entry[K, V]) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, e := range entries {
		storedAt := e.StoredAt
		if storedAt.IsZero() {
			storedAt = c.now()
		}
		it := &lruItem[K, V]{storedAt: storedAt}
		if c.expired(it) {
			continue
		}
		c.setLocked(e.Key, e.Value, storedAt)
	}
}

// Purge removes all expired entries and returns how many were removed.
func (c *LRU[K, V]) Purge() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.ttl <= 0 {
		return 0
	}
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*lruItem[K, V])) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	c.stats.Expired += uint64(removed)
	return removed
}

func (c *LRU[K, V]) expired(it *lruItem[K, V]) bool {
	return c.ttl > 0 && c.now().Sub(it.storedAt) > c.ttl
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	it := c.order.Remove(el).(*lruItem[K, V])
	delete(c.items, it.key)
}

func (c *LRU[K, V]) cleanupExpired() {
	for {
		select {
		case <-c.done:
			return
		case <-c.cleanupTicker.C:
			c.Purge()
		}
	}
}

// Close stops the cleanup ticker.
func (c *LRU[K, V]) Close() error {
	c.closeOnce.Do(func() {
		if c.cleanupTicker != nil {
			c.cleanupTicker.Stop()
		}
		close(c.done)
	})
	return nil
}
