package metric

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
)

func gatheredNames(t *testing.T, registry *MetricsRegistry) map[string]bool {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	return names
}

func TestMetricsRegistry_RegisterKinds(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_counter", Help: "c"})
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "g"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_histogram", Help: "h"})

	require.NoError(t, registry.RegisterCounter("svc", "test_counter", counter))
	require.NoError(t, registry.RegisterGauge("svc", "test_gauge", gauge))
	require.NoError(t, registry.RegisterHistogram("svc", "test_histogram", histogram))

	counter.Inc()
	gauge.Set(42)
	histogram.Observe(1.5)

	names := gatheredNames(t, registry)
	for _, n := range []string{"test_counter", "test_gauge", "test_histogram"} {
		assert.True(t, names[n], "%s should be registered", n)
	}
}

func TestMetricsRegistry_PreventDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	counter1 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})
	counter2 := prometheus.NewCounter(prometheus.CounterOpts{Name: "duplicate_counter", Help: "dup"})

	require.NoError(t, registry.RegisterCounter("service1", "duplicate_counter", counter1))

	err := registry.RegisterCounter("service1", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.Contains(t, err.Error(), "duplicate metric registration")

	err = registry.RegisterCounter("service2", "duplicate_counter", counter2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "unregister_counter", Help: "u"})
	require.NoError(t, registry.RegisterCounter("svc", "unregister_counter", counter))
	assert.True(t, gatheredNames(t, registry)["unregister_counter"])

	assert.True(t, registry.Unregister("svc", "unregister_counter"))
	assert.False(t, gatheredNames(t, registry)["unregister_counter"])
	assert.False(t, registry.Unregister("svc", "unregister_counter"))
}

func TestMetricsRegistry_ThreadSafety(t *testing.T) {
	registry := NewMetricsRegistry()

	var wg sync.WaitGroup
	const n = 10
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("concurrent_counter_%d", id)
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: "c"})
			assert.NoError(t, registry.RegisterCounter("svc", name, counter))
		}(i)
	}
	wg.Wait()

	count := 0
	for name := range gatheredNames(t, registry) {
		if strings.HasPrefix(name, "concurrent_counter_") {
			count++
		}
	}
	assert.Equal(t, n, count)
}

func TestMetricsRegistrar_Interface(t *testing.T) {
	var registrar MetricsRegistrar = NewMetricsRegistry()

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "iface_total", Help: "i"}, []string{"k"})
	require.NoError(t, registrar.RegisterCounterVec("svc", "iface_total", vec))
}

func TestCoreMetrics_Recorded(t *testing.T) {
	registry := NewMetricsRegistry()
	m := registry.CoreMetrics()

	m.RecordChannelOpened("notification")
	m.RecordChannelOpened("notification")
	m.RecordChannelClosed("notification")
	m.RecordPublished("chat")
	m.RecordReceived("chat", 20*time.Millisecond)
	m.RecordRequest("chat", "latest")
	m.RecordResponseBytes("chat", 128)
	m.RecordResponseBytes("chat", 72)
	m.RecordFetchFailure("chat", "timeout")
	m.RecordCallbackFailure("chat")
	m.RecordStateVectorSize("room", 3)
	m.RecordNATSStatus(true)
	m.RecordNATSRTT(50 * time.Millisecond)
	m.RecordNATSReconnect()
	m.RecordCircuitBreakerState(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChannelsOpen.WithLabelValues("notification")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.ResponseBytes.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("chat", "latest")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StateVectorSize.WithLabelValues("room")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.NATSRTT))

	names := gatheredNames(t, registry)
	for _, expected := range []string{
		"semchannels_channel_open",
		"semchannels_channel_published_total",
		"semchannels_channel_received_total",
		"semchannels_channel_requests_total",
		"semchannels_channel_response_bytes_total",
		"semchannels_channel_fetch_failures_total",
		"semchannels_channel_callback_failures_total",
		"semchannels_channel_fetch_duration_seconds",
		"semchannels_sync_state_vector_size",
		"semchannels_nats_connected",
		"semchannels_nats_rtt_milliseconds",
		"semchannels_nats_reconnects_total",
		"semchannels_nats_circuit_breaker",
	} {
		assert.True(t, names[expected], "core metric %s should be gathered", expected)
	}
}
