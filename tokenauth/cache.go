package tokenauth

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultCacheSize is used when a cache is created with a non-positive size
	DefaultCacheSize = 64

	// DefaultKeyTTL is used when a cache is created with a non-positive TTL
	DefaultKeyTTL = 10 * time.Minute
)

// cacheEntry represents a single cache entry with its own expiry
type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
	element   *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired at the given instant
func (e *cacheEntry[V]) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// KeyCache is an in-memory LRU cache with TTL.
// Thread-safe; a single instance is meant to be shared by all validations.
type KeyCache[V any] struct {
	mu        sync.Mutex
	entries   map[string]*cacheEntry[V]
	lruList   *list.List // Front is most recently used
	maxSize   int
	ttl       time.Duration
	now       func() time.Time
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewKeyCache creates a new KeyCache with specified max size and default TTL
func NewKeyCache[V any](maxSize int, ttl time.Duration) *KeyCache[V] {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}

	return &KeyCache[V]{
		entries: make(map[string]*cacheEntry[V]),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value stored under key.
// Expired entries are removed and reported as misses; hits become most recently used.
func (c *KeyCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.now()) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		var zero V
		return zero, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.value, true
}

// Put stores value under key. A non-positive ttl uses the cache default.
func (c *KeyCache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)

	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Expired entries give up their slot before a live one is evicted
	if c.lruList.Len() >= c.maxSize {
		c.reapExpired(c.now())
	}
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry[V]{
		key:       key,
		value:     value,
		expiresAt: expiresAt,
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// Len returns the number of stored entries, including ones not yet reaped
func (c *KeyCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lruList.Len()
}

// Invalidate removes a specific cache entry
func (c *KeyCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(key)
}

// Clear removes all entries from the cache
func (c *KeyCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry[V])
	c.lruList.Init()
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *KeyCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reapExpired(c.now())
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns cache statistics
func (c *KeyCache[V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:      c.lruList.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}

	return stats
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *KeyCache[V]) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// reapExpired drops entries expired at now (must be called with lock held)
func (c *KeyCache[V]) reapExpired(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if entry.isExpired(now) {
			c.removeEntry(key)
			removed++
		}
	}

	return removed
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *KeyCache[V]) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}

	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
	c.evictions++
}
