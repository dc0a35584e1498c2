package cache

import (
	"sync"
	"time"
)

// ttlEntry represents an entry in the TTL cache.
type ttlEntry[V any] struct {
	key       string
	value     V
	storedAt  time.Time
	expiresAt time.Time
}

// isExpired checks if the entry has expired.
func (e *ttlEntry[V]) isExpired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// TTL is a thread-safe cache whose entries expire after a fixed duration.
type TTL[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	items   map[string]*ttlEntry[V]
	stats   *Statistics
	evictFn EvictCallback[V]

	// Background janitor coordination
	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	janitor   bool
}

// NewTTL creates a TTL cache. Every entry expires ttl after it is stored.
func NewTTL[V any](ttl time.Duration, opts Options[V]) *TTL[V] {
	c := &TTL[V]{
		ttl:      ttl,
		items:    make(map[string]*ttlEntry[V]),
		stats:    &Statistics{},
		evictFn:  opts.OnEvict,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		c.janitor = true
		go c.cleanup(opts.CleanupInterval)
	} else {
		close(c.done)
	}

	return c
}

// Get retrieves a value by key, checking for expiration.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()

	if !exists {
		var zero V
		c.stats.Miss()
		return zero, false
	}

	if entry.isExpired(time.Now()) {
		c.mu.Lock()
		// Double-check it's still there and still expired
		if current, still := c.items[key]; still && current.isExpired(time.Now()) {
			delete(c.items, key)
			c.stats.Eviction()
			if c.evictFn != nil {
				defer c.evictFn(key, current.value)
			}
		}
		c.mu.Unlock()

		var zero V
		c.stats.Miss()
		return zero, false
	}

	c.stats.Hit()
	return entry.value, true
}

// Has reports whether an unexpired entry exists for key.
func (c *TTL[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores a value with the given key. Returns true if a new entry was
// created, false if an existing entry was overwritten.
func (c *TTL[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	now := time.Now()
	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{
		key:       key,
		value:     value,
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	c.stats.Set()
	return !exists, nil
}

// Delete removes an entry by key. Returns true if the key existed.
func (c *TTL[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	if exists {
		delete(c.items, key)
		if c.evictFn != nil {
			defer c.evictFn(key, entry.value)
		}
	}
	c.mu.Unlock()

	return exists, nil
}

// Clear removes all entries from the cache.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	if c.evictFn != nil {
		for _, entry := range c.items {
			c.evictFn(entry.key, entry.value)
		}
	}
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()
}

// Size returns the current number of entries, including entries that have
// expired but not yet been removed.
func (c *TTL[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns all keys with unexpired entries.
func (c *TTL[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.items))
	now := time.Now()
	for key, entry := range c.items {
		if now.Before(entry.expiresAt) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *TTL[V]) Stats() *Statistics {
	return c.stats
}

// SweepOlderThan removes all entries stored more than maxAge ago, regardless
// of their TTL, and returns the number removed.
func (c *TTL[V]) SweepOlderThan(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	var evicted []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if entry.storedAt.Before(cutoff) {
			evicted = append(evicted, entry)
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	// Evict callbacks run outside the lock
	for _, entry := range evicted {
		c.stats.Eviction()
		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
	}
	return len(evicted)
}

// Close stops the background janitor. Safe to call multiple times,
// including concurrently.
func (c *TTL[V]) Close() {
	c.closeOnce.Do(func() { close(c.shutdown) })
	<-c.done
}

// cleanup runs in a background goroutine and periodically removes expired entries.
func (c *TTL[V]) cleanup(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired removes all expired entries from the cache.
func (c *TTL[V]) removeExpired() {
	now := time.Now()
	var expired []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if entry.isExpired(now) {
			expired = append(expired, entry)
			delete(c.items, key)
		}
	}
	c.mu.Unlock()

	for _, entry := range expired {
		c.stats.Eviction()
		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
	}
}
