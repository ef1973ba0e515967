package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/metric"
)

// cacheMetrics holds Prometheus metrics for one cache instance.
type cacheMetrics struct {
	registry *metric.MetricsRegistry
	prefix   string

	hits        prometheus.Counter
	misses      prometheus.Counter
	sets        prometheus.Counter
	deletes     prometheus.Counter
	evictions   prometheus.Counter
	expirations prometheus.Counter
	size        prometheus.Gauge
}

type metricSpec struct {
	name      string
	collector prometheus.Collector
}

// newCacheMetrics creates and registers cache metrics labelled with prefix.
// On a registration failure every metric registered so far is removed again.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "semchannels",
			Subsystem:   "cache",
			Name:        name,
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        help,
		})
	}

	m := &cacheMetrics{
		registry:    registry,
		prefix:      prefix,
		hits:        counter("hits_total", "Total number of cache hits"),
		misses:      counter("misses_total", "Total number of cache misses"),
		sets:        counter("sets_total", "Total number of cache set operations"),
		deletes:     counter("deletes_total", "Total number of cache delete operations"),
		evictions:   counter("evictions_total", "Total number of entries evicted by a size bound"),
		expirations: counter("expirations_total", "Total number of entries removed on expiry"),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "semchannels",
			Subsystem:   "cache",
			Name:        "size",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries in cache",
		}),
	}

	registered := make([]string, 0, 7)
	for _, spec := range m.specs() {
		var err error
		switch c := spec.collector.(type) {
		case prometheus.Gauge:
			err = registry.RegisterGauge(prefix, spec.name, c)
		case prometheus.Counter:
			err = registry.RegisterCounter(prefix, spec.name, c)
		}
		if err != nil {
			for _, name := range registered {
				registry.Unregister(prefix, name)
			}
			return nil, err
		}
		registered = append(registered, spec.name)
	}
	return m, nil
}

func (m *cacheMetrics) specs() []metricSpec {
	return []metricSpec{
		{"cache_hits", m.hits},
		{"cache_misses", m.misses},
		{"cache_sets", m.sets},
		{"cache_deletes", m.deletes},
		{"cache_evictions", m.evictions},
		{"cache_expirations", m.expirations},
		{"cache_size", m.size},
	}
}

// unregister removes every metric so a cache with the same prefix can be
// created again later.
func (m *cacheMetrics) unregister() {
	for _, spec := range m.specs() {
		m.registry.Unregister(m.prefix, spec.name)
	}
}

func (m *cacheMetrics) recordHit()        { m.hits.Inc() }
func (m *cacheMetrics) recordMiss()       { m.misses.Inc() }
func (m *cacheMetrics) recordSet()        { m.sets.Inc() }
func (m *cacheMetrics) recordDelete()     { m.deletes.Inc() }
func (m *cacheMetrics) recordEviction()   { m.evictions.Inc() }
func (m *cacheMetrics) recordExpiration() { m.expirations.Inc() }
func (m *cacheMetrics) updateSize(n int)  { m.size.Set(float64(n)) }

func wrapMetricsErr(err error, component string) error {
	return errors.WrapTransient(err, "cache", component, "metrics registration")
}
