package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// ttlCache expires entries a fixed time after their last Set. Expired entries
// are invisible to Get and Keys immediately and are removed by a background
// sweep.
type ttlCache[V any] struct {
	mu              sync.RWMutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]*ttlEntry[V]
	clock           Clock
	stats           *Statistics
	metrics         *cacheMetrics
	evictFn         EvictCallback[V]

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTTL creates a TTL cache. A cleanupInterval <= 0 defaults to the ttl.
// The sweep goroutine stops on Close or when ctx is done.
func NewTTL[V any](ctx context.Context, ttl, cleanupInterval time.Duration, options ...Option[V]) (Cache[V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %v", ttl)
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}

	opts := applyOptions(options...)
	metrics, err := opts.buildMetrics("NewTTL")
	if err != nil {
		return nil, err
	}

	c := &ttlCache[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]*ttlEntry[V]),
		clock:           opts.clock,
		stats:           NewStatistics(),
		metrics:         metrics,
		evictFn:         opts.evictCallback,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	go c.cleanup(ctx)
	return c, nil
}

func (c *ttlCache[V]) expired(e *ttlEntry[V], now time.Time) bool {
	return now.After(e.expiresAt)
}

// Get returns a live entry. An expired entry counts as a miss and is left for the sweep.
func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	live := exists && !c.expired(entry, c.clock())
	c.mu.RUnlock()

	if !live {
		var zero V
		c.stats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss()
		}
		return zero, false
	}

	c.stats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit()
	}
	return entry.value, true
}

// Set stores value and restarts its time-to-live.
func (c *ttlCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	_, exists := c.items[key]
	c.items[key] = &ttlEntry[V]{key: key, value: value, expiresAt: c.clock().Add(c.ttl)}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}
	return !exists, nil
}

// Delete removes an entry by key.
func (c *ttlCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	entry, exists := c.items[key]
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false, nil
	}
	if c.evictFn != nil {
		c.evictFn(key, entry.value)
	}
	c.stats.Delete()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(size)
	}
	return true, nil
}

// Clear removes all entries from the cache.
func (c *ttlCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]*ttlEntry[V])
	c.mu.Unlock()

	if c.evictFn != nil {
		for _, entry := range old {
			c.evictFn(entry.key, entry.value)
		}
	}
	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	return nil
}

// Size returns the number of stored entries, including expired ones not yet swept.
func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Keys returns the keys of live entries.
func (c *ttlCache[V]) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.clock()
	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !c.expired(entry, now) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns cache statistics.
func (c *ttlCache[V]) Stats() *Statistics {
	return c.stats
}

// Close stops the sweep goroutine and unregisters metrics.
func (c *ttlCache[V]) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.shutdown)
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			err = fmt.Errorf("cache: timeout waiting for cleanup goroutine to finish")
		}
		if c.metrics != nil {
			c.metrics.unregister()
		}
	})
	return err
}

func (c *ttlCache[V]) cleanup(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

// removeExpired sweeps expired entries and reports them to the eviction callback.
func (c *ttlCache[V]) removeExpired() []string {
	now := c.clock()
	var expired []*ttlEntry[V]

	c.mu.Lock()
	for key, entry := range c.items {
		if c.expired(entry, now) {
			expired = append(expired, entry)
			delete(c.items, key)
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	keys := make([]string, 0, len(expired))
	for _, entry := range expired {
		keys = append(keys, entry.key)
		if c.evictFn != nil {
			c.evictFn(entry.key, entry.value)
		}
		c.stats.Expiration()
		if c.metrics != nil {
			c.metrics.recordExpiration()
		}
	}
	if len(expired) > 0 {
		c.stats.UpdateSize(int64(size))
		if c.metrics != nil {
			c.metrics.updateSize(size)
		}
	}
	return keys
}
