package cache

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/metric"
)

func familiesByName(t *testing.T, registry *metric.MetricsRegistry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily)
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}
	return byName
}

func TestCacheMetricsIntegration(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	cache, err := NewLRU[string](10, WithMetrics[string](registry, "test_cache"))
	require.NoError(t, err)

	_, _ = cache.Set("key1", "value1")
	_, _ = cache.Set("key2", "value2")
	_, found := cache.Get("key1")
	assert.True(t, found)
	_, found = cache.Get("key3")
	assert.False(t, found)
	deleted, _ := cache.Delete("key2")
	assert.True(t, deleted)

	byName := familiesByName(t, registry)

	expect := map[string]float64{
		"semchannels_cache_hits_total":    1,
		"semchannels_cache_misses_total":  1,
		"semchannels_cache_sets_total":    2,
		"semchannels_cache_deletes_total": 1,
	}
	for name, want := range expect {
		mf := byName[name]
		require.NotNil(t, mf, "%s should exist", name)
		assert.Equal(t, want, mf.Metric[0].GetCounter().GetValue(), name)
	}

	size := byName["semchannels_cache_size"]
	require.NotNil(t, size)
	assert.Equal(t, float64(1), size.Metric[0].GetGauge().GetValue())
	assert.Equal(t, "test_cache", size.Metric[0].Label[0].GetValue())
}

func TestRetentionMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	clock := newFakeClock()

	r, err := NewRetention[string](2, 100*time.Millisecond,
		WithMetrics[string](registry, "retention_chat"),
		WithClock[string](clock.Now))
	require.NoError(t, err)

	r.Add(1, "a")
	r.Add(2, "b")
	r.Add(3, "c")
	clock.Advance(time.Second)
	r.Cleanup()

	byName := familiesByName(t, registry)
	assert.Equal(t, float64(1), byName["semchannels_cache_evictions_total"].Metric[0].GetCounter().GetValue())
	assert.Equal(t, float64(2), byName["semchannels_cache_expirations_total"].Metric[0].GetCounter().GetValue())
	assert.Equal(t, float64(0), byName["semchannels_cache_size"].Metric[0].GetGauge().GetValue())
}

func TestCacheMetrics_CloseAllowsReuse(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	first, err := NewTTL[string](context.Background(), time.Second, time.Second,
		WithMetrics[string](registry, "peers"))
	require.NoError(t, err)

	_, err = NewLRU[string](10, WithMetrics[string](registry, "peers"))
	require.Error(t, err, "same component label is already registered")

	require.NoError(t, first.Close())

	second, err := NewLRU[string](10, WithMetrics[string](registry, "peers"))
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestCacheWithoutMetrics(t *testing.T) {
	cache, err := NewLRU[string](10)
	require.NoError(t, err)

	_, _ = cache.Set("key1", "value1")
	val, found := cache.Get("key1")
	assert.True(t, found)
	assert.Equal(t, "value1", val)
	assert.Nil(t, cache.(*lruCache[string]).metrics)
}
