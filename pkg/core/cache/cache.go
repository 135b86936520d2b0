package cache

import (
	"sync"
	"time"
)

// Entry represents a cached item with expiration
type Entry struct {
	Value      interface{}
	Expiration time.Time
	ttl        time.Duration
}

// IsExpired checks if the entry has expired
func (e *Entry) IsExpired() bool {
	if e.Expiration.IsZero() {
		return false // Never expires
	}
	return time.Now().After(e.Expiration)
}

// EvictFunc is called for every entry that leaves the cache through expiry,
// capacity eviction, Delete or Close. It runs without the cache lock held.
type EvictFunc func(key string, value interface{})

// Cache is a thread-safe in-memory cache with TTL support
type Cache struct {
	mu       sync.RWMutex
	items    map[string]*Entry
	maxItems int
	ttl      time.Duration
	sliding  bool
	onEvict  EvictFunc

	stop      chan struct{}
	closeOnce sync.Once

	// Metrics
	hits   int64
	misses int64
}

// Config holds cache configuration
type Config struct {
	MaxItems int
	TTL      time.Duration

	// Sliding extends an entry's lifetime on every successful Get
	Sliding bool

	// CleanupInterval controls how often expired entries are collected
	CleanupInterval time.Duration

	OnEvict EvictFunc
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxItems:        10000,
		TTL:             5 * time.Minute,
		CleanupInterval: time.Minute,
	}
}

// New creates a new cache instance
func New(cfg Config) *Cache {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}

	c := &Cache{
		items:    make(map[string]*Entry),
		maxItems: cfg.MaxItems,
		ttl:      cfg.TTL,
		sliding:  cfg.Sliding,
		onEvict:  cfg.OnEvict,
		stop:     make(chan struct{}),
	}

	// Start cleanup goroutine
	go c.cleanupLoop(cfg.CleanupInterval)

	return c
}

// Get retrieves a value from the cache
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	entry, exists := c.items[key]
	if !exists {
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	if entry.IsExpired() {
		delete(c.items, key)
		c.misses++
		c.mu.Unlock()
		c.evicted(key, entry.Value)
		return nil, false
	}

	if c.sliding && entry.ttl > 0 {
		entry.Expiration = time.Now().Add(entry.ttl)
	}
	c.hits++
	c.mu.Unlock()
	return entry.Value, true
}

// Set stores a value in the cache with the default TTL
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL. A ttl <= 0 never expires.
// Replacing an entry evicts the previous value.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()

	var evictedKey string
	var evictedValue interface{}
	var replaced *Entry

	if old, ok := c.items[key]; ok {
		replaced = old
	} else if len(c.items) >= c.maxItems {
		// Evict if at capacity (simple LRU: remove oldest)
		evictedKey, evictedValue = c.evictOldest()
	}

	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}

	c.items[key] = &Entry{
		Value:      value,
		Expiration: exp,
		ttl:        ttl,
	}
	c.mu.Unlock()

	if evictedKey != "" {
		c.evicted(evictedKey, evictedValue)
	}
	if replaced != nil {
		c.evicted(key, replaced.Value)
	}
}

// Delete removes a value from the cache
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	entry, ok := c.items[key]
	delete(c.items, key)
	c.mu.Unlock()

	if ok {
		c.evicted(key, entry.Value)
	}
}

// Clear removes all items from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	items := c.items
	c.items = make(map[string]*Entry)
	c.mu.Unlock()

	for key, entry := range items {
		c.evicted(key, entry.Value)
	}
}

// Size returns the number of items in the cache
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the keys of all live entries
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.IsExpired() {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics
func (c *Cache) Stats() (hits, misses int64, hitRate float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hits = c.hits
	misses = c.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	return
}

// Close stops the cleanup goroutine and evicts every entry
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.Clear()
	})
}

func (c *Cache) evicted(key string, value interface{}) {
	if c.onEvict != nil {
		c.onEvict(key, value)
	}
}

// evictOldest removes the entry closest to expiry (must be called with lock held)
func (c *Cache) evictOldest() (string, interface{}) {
	var oldestKey string
	var oldest *Entry

	for key, entry := range c.items {
		if oldest == nil || earlier(entry, oldest) {
			oldestKey = key
			oldest = entry
		}
	}

	if oldest == nil {
		return "", nil
	}
	delete(c.items, oldestKey)
	return oldestKey, oldest.Value
}

// earlier orders entries by expiration; entries without one sort last
func earlier(a, b *Entry) bool {
	if a.Expiration.IsZero() {
		return false
	}
	if b.Expiration.IsZero() {
		return true
	}
	return a.Expiration.Before(b.Expiration)
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	c.mu.Lock()
	expired := make(map[string]interface{})
	for key, entry := range c.items {
		if entry.IsExpired() {
			expired[key] = entry.Value
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	for key, value := range expired {
		c.evicted(key, value)
	}
}
