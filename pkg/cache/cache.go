// Package cache provides the thread-safe caches used by channels:
//   - Retention: sequence-id keyed, insertion-order bounded, expiring message store
//   - TTLCache: string keyed, entries expire after a fixed time-to-live
//   - LRUCache: string keyed, least recently used entries evicted beyond a size bound
//
// Every cache tracks Statistics unconditionally; Prometheus metrics are opt-in
// through WithMetrics.
package cache

import (
	"github.com/c360/semchannels/errors"
)

// Cache is the string-keyed interface implemented by the TTL and LRU caches.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was created, false if updated.
	Set(key string, value V) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed and was deleted.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close shuts down the cache and releases background goroutines and metrics.
	Close() error
}

// EvictCallback is called when an entry leaves the cache for any reason other
// than being overwritten.
type EvictCallback[V any] func(key string, value V)

func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
