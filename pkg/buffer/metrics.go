package buffer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/semchannels/metric"
)

// bufferMetrics exports one buffer's statistics.
type bufferMetrics struct {
	registry *metric.MetricsRegistry
	prefix   string

	writes      prometheus.Counter
	reads       prometheus.Counter
	drops       prometheus.Counter
	size        prometheus.Gauge
	utilization prometheus.Gauge
}

type metricSpec struct {
	name      string
	collector prometheus.Collector
}

func newBufferMetrics(registry *metric.MetricsRegistry, prefix string) (*bufferMetrics, error) {
	labels := prometheus.Labels{"component": prefix}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "semchannels", Subsystem: "buffer", Name: name, ConstLabels: labels, Help: help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "semchannels", Subsystem: "buffer", Name: name, ConstLabels: labels, Help: help,
		})
	}

	m := &bufferMetrics{
		registry:    registry,
		prefix:      prefix,
		writes:      counter("writes_total", "Total number of buffer writes"),
		reads:       counter("reads_total", "Total number of buffer reads"),
		drops:       counter("drops_total", "Total number of items dropped on overflow"),
		size:        gauge("size", "Current number of items in buffer"),
		utilization: gauge("utilization", "Buffer utilization (0-1)"),
	}

	var registered []string
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

func (m *bufferMetrics) specs() []metricSpec {
	return []metricSpec{
		{"buffer_writes", m.writes},
		{"buffer_reads", m.reads},
		{"buffer_drops", m.drops},
		{"buffer_size", m.size},
		{"buffer_utilization", m.utilization},
	}
}

func (m *bufferMetrics) unregister() {
	for _, spec := range m.specs() {
		m.registry.Unregister(m.prefix, spec.name)
	}
}

func (m *bufferMetrics) recordWrite(size, capacity int) {
	m.writes.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordRead(size, capacity int) {
	m.reads.Inc()
	m.updateSize(size, capacity)
}

func (m *bufferMetrics) recordDrop() { m.drops.Inc() }

func (m *bufferMetrics) updateSize(size, capacity int) {
	m.size.Set(float64(size))
	m.utilization.Set(float64(size) / float64(capacity))
}
