package cache

import (
	"time"

	"github.com/c360/semchannels/metric"
)

// Clock returns the current time. Caches read time only through their clock.
type Clock func() time.Time

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are ALWAYS collected; metrics are optional.
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	idEvict       func(id uint64, value V)
	clock         Clock
}

// WithMetrics enables Prometheus metrics export for cache statistics under
// the given component label. A nil registry or empty prefix is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback for entries evicted from a TTL or LRU cache.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithRetentionEviction sets a callback for entries a Retention cache drops
// because its bound was exceeded.
func WithRetentionEviction[V any](callback func(id uint64, value V)) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.idEvict = callback
	}
}

// WithClock replaces time.Now, for deterministic expiry in tests.
func WithClock[V any](clock Clock) Option[V] {
	return func(opts *cacheOptions[V]) {
		if clock != nil {
			opts.clock = clock
		}
	}
}

func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{clock: time.Now}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}

// buildMetrics registers metrics when requested; component names the cache
// type for error classification.
func (o *cacheOptions[V]) buildMetrics(component string) (*cacheMetrics, error) {
	if o.metricsReg == nil || o.metricsPrefix == "" {
		return nil, nil
	}
	m, err := newCacheMetrics(o.metricsReg, o.metricsPrefix)
	if err != nil {
		return nil, wrapMetricsErr(err, component)
	}
	return m, nil
}
