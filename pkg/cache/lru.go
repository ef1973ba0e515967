package cache

import (
	"container/list"
	"fmt"
	"sync"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// lruCache evicts the least recently used entry once maxSize is exceeded.
type lruCache[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List // front is most recently used
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int, options ...Option[V]) (Cache[V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("cache: lru max size must be positive, got %d", maxSize)
	}

	opts := applyOptions(options...)
	metrics, err := opts.buildMetrics("NewLRU")
	if err != nil {
		return nil, err
	}

	return &lruCache[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		stats:   NewStatistics(),
		metrics: metrics,
		evictFn: opts.evictCallback,
	}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (c *lruCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	element, exists := c.items[key]
	if exists {
		c.order.MoveToFront(element)
	}
	c.mu.Unlock()

	if !exists {
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
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores value as the most recently used entry, evicting the least
// recently used one if the bound is exceeded.
func (c *lruCache[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	var evicted *lruEntry[V]

	c.mu.Lock()
	element, exists := c.items[key]
	if exists {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
	} else {
		c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
		if len(c.items) > c.maxSize {
			evicted = c.removeElement(c.order.Back())
		}
	}
	size := len(c.items)
	c.mu.Unlock()

	c.stats.Set()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordSet()
		c.metrics.updateSize(size)
	}

	if evicted != nil {
		c.stats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction()
		}
		if c.evictFn != nil {
			c.evictFn(evicted.key, evicted.value)
		}
	}
	return !exists, nil
}

// Delete removes an entry by key.
func (c *lruCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	element, exists := c.items[key]
	var removed *lruEntry[V]
	if exists {
		removed = c.removeElement(element)
	}
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false, nil
	}

	c.stats.Delete()
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.recordDelete()
		c.metrics.updateSize(size)
	}
	if c.evictFn != nil {
		c.evictFn(removed.key, removed.value)
	}
	return true, nil
}

// Clear removes all entries, reporting them oldest first to the eviction callback.
func (c *lruCache[V]) Clear() error {
	c.mu.Lock()
	var removed []*lruEntry[V]
	if c.evictFn != nil {
		removed = make([]*lruEntry[V], 0, len(c.items))
		for e := c.order.Back(); e != nil; e = e.Prev() {
			removed = append(removed, e.Value.(*lruEntry[V]))
		}
	}
	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.mu.Unlock()

	c.stats.UpdateSize(0)
	if c.metrics != nil {
		c.metrics.updateSize(0)
	}
	for _, entry := range removed {
		c.evictFn(entry.key, entry.value)
	}
	return nil
}

// Size returns the current number of entries in the cache.
func (c *lruCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys most recently used first.
func (c *lruCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*lruEntry[V]).key)
	}
	return keys
}

// Stats returns cache statistics.
func (c *lruCache[V]) Stats() *Statistics {
	return c.stats
}

// Close unregisters metrics. The LRU cache has no goroutines.
func (c *lruCache[V]) Close() error {
	if c.metrics != nil {
		c.metrics.unregister()
	}
	return nil
}

// removeElement must be called with mu held.
func (c *lruCache[V]) removeElement(element *list.Element) *lruEntry[V] {
	entry := c.order.Remove(element).(*lruEntry[V])
	delete(c.items, entry.key)
	return entry
}
