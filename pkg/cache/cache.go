// Package cache provides a generic, thread-safe TTL cache.
//
// The chat client uses it to retain recently acknowledged message ids for a
// bounded window so duplicate submissions and late retries can be rejected
// without unbounded memory growth. Entries expire after the configured TTL
// and are removed by a background janitor; callers may also sweep entries
// older than an arbitrary age.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/vzorr/chat-test-client-sub001/errors"
)

// EvictCallback is called when an entry is evicted from the cache.
// It receives the key and value of the evicted entry.
type EvictCallback[V any] func(key string, value V)

// Statistics tracks cache activity. All counters are safe for concurrent use.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

// Hit records a cache hit
func (s *Statistics) Hit() { s.hits.Add(1) }

// Miss records a cache miss
func (s *Statistics) Miss() { s.misses.Add(1) }

// Set records a stored entry
func (s *Statistics) Set() { s.sets.Add(1) }

// Eviction records an evicted entry
func (s *Statistics) Eviction() { s.evictions.Add(1) }

// Hits returns the total number of cache hits
func (s *Statistics) Hits() int64 { return s.hits.Load() }

// Misses returns the total number of cache misses
func (s *Statistics) Misses() int64 { return s.misses.Load() }

// Sets returns the total number of stored entries
func (s *Statistics) Sets() int64 { return s.sets.Load() }

// Evictions returns the total number of evicted entries
func (s *Statistics) Evictions() int64 { return s.evictions.Load() }

// Options configures optional cache behavior.
type Options[V any] struct {
	// CleanupInterval is how often the background janitor removes expired
	// entries. Zero disables the janitor; expired entries are then removed
	// lazily on access or by explicit sweeps.
	CleanupInterval time.Duration

	// OnEvict, when set, is invoked for every entry removed by expiry,
	// sweep, delete, or clear.
	OnEvict EvictCallback[V]
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidMessage, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
