package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semchannels"

// Metrics contains the node-level channel and transport metrics
type Metrics struct {
	// Channel metrics
	ChannelsOpen     *prometheus.GaugeVec
	Published        *prometheus.CounterVec
	Received         *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	ResponseBytes    *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
	CallbackFailures *prometheus.CounterVec
	FetchDuration    *prometheus.HistogramVec
	StateVectorSize  *prometheus.GaugeVec

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ChannelsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "open",
				Help:      "Channels currently open by kind",
			},
			[]string{"kind"},
		),

		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "published_total",
				Help:      "Messages published per channel",
			},
			[]string{"channel"},
		),

		Received: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "received_total",
				Help:      "Messages fetched and delivered to subscribers per channel",
			},
			[]string{"channel"},
		),

		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "requests_total",
				Help:      "Data requests answered per channel by resolution kind",
			},
			[]string{"channel", "kind"},
		),

		ResponseBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "response_bytes_total",
				Help:      "Payload bytes sent in responses per channel",
			},
			[]string{"channel"},
		),

		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "fetch_failures_total",
				Help:      "Failed fetches per channel by reason",
			},
			[]string{"channel", "reason"},
		),

		CallbackFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "callback_failures_total",
				Help:      "Subscriber callbacks that panicked per channel",
			},
			[]string{"channel"},
		),

		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "channel",
				Name:      "fetch_duration_seconds",
				Help:      "Time from fetch request to decoded message",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"channel"},
		),

		StateVectorSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "state_vector_size",
				Help:      "Publishers known to a synchronized channel",
			},
			[]string{"channel"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ChannelsOpen,
		c.Published,
		c.Received,
		c.Requests,
		c.ResponseBytes,
		c.FetchFailures,
		c.CallbackFailures,
		c.FetchDuration,
		c.StateVectorSize,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordChannelOpened increments the open gauge for kind
func (c *Metrics) RecordChannelOpened(kind string) {
	c.ChannelsOpen.WithLabelValues(kind).Inc()
}

// RecordChannelClosed decrements the open gauge for kind
func (c *Metrics) RecordChannelClosed(kind string) {
	c.ChannelsOpen.WithLabelValues(kind).Dec()
}

// RecordPublished increments the publish counter
func (c *Metrics) RecordPublished(channel string) {
	c.Published.WithLabelValues(channel).Inc()
}

// RecordReceived increments the delivered message counter and observes fetch latency
func (c *Metrics) RecordReceived(channel string, took time.Duration) {
	c.Received.WithLabelValues(channel).Inc()
	c.FetchDuration.WithLabelValues(channel).Observe(took.Seconds())
}

// RecordRequest counts one answered request
func (c *Metrics) RecordRequest(channel, kind string) {
	c.Requests.WithLabelValues(channel, kind).Inc()
}

// RecordResponseBytes adds n payload bytes sent for channel
func (c *Metrics) RecordResponseBytes(channel string, n int) {
	c.ResponseBytes.WithLabelValues(channel).Add(float64(n))
}

// RecordFetchFailure counts a failed fetch
func (c *Metrics) RecordFetchFailure(channel, reason string) {
	c.FetchFailures.WithLabelValues(channel, reason).Inc()
}

// RecordCallbackFailure counts a subscriber callback that panicked
func (c *Metrics) RecordCallbackFailure(channel string) {
	c.CallbackFailures.WithLabelValues(channel).Inc()
}

// RecordStateVectorSize sets the number of known publishers
func (c *Metrics) RecordStateVectorSize(channel string, n int) {
	c.StateVectorSize.WithLabelValues(channel).Set(float64(n))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
