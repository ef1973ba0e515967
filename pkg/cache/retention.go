package cache

import (
	"container/list"
	"sync"
	"time"
)

const (
	// Forever disables expiry: entries stay until evicted by the size bound or removed.
	Forever time.Duration = -1

	// DefaultMaxEntries bounds a Retention cache created with maxEntries <= 0.
	DefaultMaxEntries = 65536
)

type retained[V any] struct {
	id        uint64
	value     V
	expiresAt int64 // unix milliseconds
	forever   bool
}

// Retention stores published messages by sequence id for a bounded time.
//
// Entries are kept in insertion order. Adding beyond the size bound evicts
// the oldest inserted entry whether or not it has expired. Earliest and
// Latest report the oldest and newest inserted entries still held.
//
// Expiry is evaluated at millisecond granularity and only by Cleanup; Get
// keeps serving an expired entry until the next cleanup removes it.
type Retention[V any] struct {
	mu         sync.RWMutex
	maxEntries int
	retention  time.Duration
	items      map[uint64]*list.Element
	order      *list.List // front is oldest
	clock      Clock
	stats      *Statistics
	metrics    *cacheMetrics
	evictFn    func(id uint64, value V)
}

// NewRetention creates a retention cache. retention <= 0 (or Forever) keeps
// entries until they are evicted or removed.
func NewRetention[V any](maxEntries int, retention time.Duration, options ...Option[V]) (*Retention[V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if retention <= 0 {
		retention = Forever
	}

	opts := applyOptions(options...)
	metrics, err := opts.buildMetrics("NewRetention")
	if err != nil {
		return nil, err
	}

	return &Retention[V]{
		maxEntries: maxEntries,
		retention:  retention,
		items:      make(map[uint64]*list.Element),
		order:      list.New(),
		clock:      opts.clock,
		stats:      NewStatistics(),
		metrics:    metrics,
		evictFn:    opts.idEvict,
	}, nil
}

// Retention returns the configured retention, or Forever.
func (r *Retention[V]) Retention() time.Duration {
	return r.retention
}

// Add stores value under id with a fresh expiry. Re-adding an id replaces
// its value and expiry but keeps its insertion position.
func (r *Retention[V]) Add(id uint64, value V) {
	entry := &retained[V]{id: id, value: value, forever: r.retention == Forever}
	if !entry.forever {
		entry.expiresAt = r.clock().Add(r.retention).UnixMilli()
	}

	var evicted *retained[V]

	r.mu.Lock()
	if element, exists := r.items[id]; exists {
		element.Value = entry
	} else {
		r.items[id] = r.order.PushBack(entry)
		if len(r.items) > r.maxEntries {
			evicted = r.removeElement(r.order.Front())
		}
	}
	size := len(r.items)
	r.mu.Unlock()

	r.stats.Set()
	r.stats.UpdateSize(int64(size))
	if r.metrics != nil {
		r.metrics.recordSet()
		r.metrics.updateSize(size)
	}

	if evicted != nil {
		r.stats.Eviction()
		if r.metrics != nil {
			r.metrics.recordEviction()
		}
		if r.evictFn != nil {
			r.evictFn(evicted.id, evicted.value)
		}
	}
}

// Get returns the value stored under id.
func (r *Retention[V]) Get(id uint64) (V, bool) {
	r.mu.RLock()
	element, exists := r.items[id]
	var value V
	if exists {
		value = element.Value.(*retained[V]).value
	}
	r.mu.RUnlock()

	if exists {
		r.stats.Hit()
		if r.metrics != nil {
			r.metrics.recordHit()
		}
	} else {
		r.stats.Miss()
		if r.metrics != nil {
			r.metrics.recordMiss()
		}
	}
	return value, exists
}

// Earliest returns the id of the oldest inserted entry.
func (r *Retention[V]) Earliest() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if front := r.order.Front(); front != nil {
		return front.Value.(*retained[V]).id, true
	}
	return 0, false
}

// Latest returns the id of the newest inserted entry.
func (r *Retention[V]) Latest() (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if back := r.order.Back(); back != nil {
		return back.Value.(*retained[V]).id, true
	}
	return 0, false
}

// Cleanup removes every expired entry and returns them keyed by id.
//
// Expired ids are collected under the read lock first; each is then removed
// under the write lock only if it is still present and still expired, so a
// concurrent Add that refreshed an id keeps it.
func (r *Retention[V]) Cleanup() map[uint64]V {
	now := r.clock().UnixMilli()

	r.mu.RLock()
	var candidates []uint64
	for e := r.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*retained[V])
		if !entry.forever && entry.expiresAt < now {
			candidates = append(candidates, entry.id)
		}
	}
	r.mu.RUnlock()

	removed := make(map[uint64]V, len(candidates))
	if len(candidates) == 0 {
		return removed
	}

	r.mu.Lock()
	for _, id := range candidates {
		element, exists := r.items[id]
		if !exists {
			continue
		}
		entry := element.Value.(*retained[V])
		if entry.forever || entry.expiresAt >= now {
			continue
		}
		r.removeElement(element)
		removed[id] = entry.value
	}
	size := len(r.items)
	r.mu.Unlock()

	for range removed {
		r.stats.Expiration()
		if r.metrics != nil {
			r.metrics.recordExpiration()
		}
	}
	r.stats.UpdateSize(int64(size))
	if r.metrics != nil {
		r.metrics.updateSize(size)
	}
	return removed
}

// EarliestCloseTime returns the latest expiry among all entries, which is the
// soonest moment every entry may be discarded. An empty cache returns now.
// The boolean is false when some entry never expires.
func (r *Retention[V]) EarliestCloseTime() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.items) == 0 {
		return r.clock(), true
	}

	var latest int64
	for e := r.order.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*retained[V])
		if entry.forever {
			return time.Time{}, false
		}
		if entry.expiresAt > latest {
			latest = entry.expiresAt
		}
	}
	return time.UnixMilli(latest), true
}

// Len returns the number of stored entries.
func (r *Retention[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Stats returns cache statistics.
func (r *Retention[V]) Stats() *Statistics {
	return r.stats
}

// Close unregisters metrics. Entries stay readable.
func (r *Retention[V]) Close() error {
	if r.metrics != nil {
		r.metrics.unregister()
	}
	return nil
}

// removeElement must be called with mu held.
func (r *Retention[V]) removeElement(element *list.Element) *retained[V] {
	entry := r.order.Remove(element).(*retained[V])
	delete(r.items, entry.id)
	return entry
}
