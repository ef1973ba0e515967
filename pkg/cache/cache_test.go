package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testBasicOperations(t *testing.T, cache Cache[string]) {
	if value, exists := cache.Get("key1"); exists {
		t.Errorf("Expected cache miss, got value: %s", value)
	}

	isNew, err := cache.Set("key1", "value1")
	if err != nil {
		t.Fatalf("Unexpected error setting key: %v", err)
	}
	if !isNew {
		t.Error("Expected new entry creation")
	}
	if value, exists := cache.Get("key1"); !exists || value != "value1" {
		t.Errorf("Expected 'value1', got value: %s, exists: %t", value, exists)
	}

	isNew, err = cache.Set("key1", "value1_updated")
	if err != nil {
		t.Fatalf("Unexpected error updating key: %v", err)
	}
	if isNew {
		t.Error("Expected existing entry update")
	}
	if value, _ := cache.Get("key1"); value != "value1_updated" {
		t.Errorf("Expected 'value1_updated', got value: %s", value)
	}

	if deleted, err := cache.Delete("key1"); err != nil || !deleted {
		t.Errorf("Expected successful deletion, got %t, %v", deleted, err)
	}
	if deleted, err := cache.Delete("key1"); err != nil || deleted {
		t.Errorf("Expected deletion of missing key to report false, got %t, %v", deleted, err)
	}

	if _, err := cache.Set("", "x"); err == nil {
		t.Error("Expected error for empty key")
	}
}

func testKeysSizeClear(t *testing.T, cache Cache[string]) {
	_, _ = cache.Set("key1", "value1")
	_, _ = cache.Set("key2", "value2")

	if cache.Size() != 2 {
		t.Errorf("Expected size 2, got %d", cache.Size())
	}

	keyMap := make(map[string]bool)
	for _, key := range cache.Keys() {
		keyMap[key] = true
	}
	if len(keyMap) != 2 || !keyMap["key1"] || !keyMap["key2"] {
		t.Errorf("Expected keys 'key1' and 'key2', got %v", cache.Keys())
	}

	_ = cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Expected size 0 after clear, got %d", cache.Size())
	}
	if _, exists := cache.Get("key1"); exists {
		t.Error("Expected cache miss after clear")
	}
}

func testSuite(t *testing.T, createCache func() Cache[string]) {
	t.Run("BasicOperations", func(t *testing.T) {
		cache := createCache()
		defer cache.Close()
		testBasicOperations(t, cache)
	})

	t.Run("KeysSizeClear", func(t *testing.T) {
		cache := createCache()
		defer cache.Close()
		testKeysSizeClear(t, cache)
	})
}

func TestLRUCache(t *testing.T) {
	testSuite(t, func() Cache[string] {
		cache, err := NewLRU[string](10)
		if err != nil {
			panic(err)
		}
		return cache
	})

	t.Run("LRUEviction", func(t *testing.T) {
		cache, err := NewLRU[string](3)
		if err != nil {
			t.Fatal(err)
		}
		defer cache.Close()

		_, _ = cache.Set("key1", "value1")
		_, _ = cache.Set("key2", "value2")
		_, _ = cache.Set("key3", "value3")

		// key1 becomes most recently used, so key2 is evicted next
		cache.Get("key1")
		_, _ = cache.Set("key4", "value4")

		if cache.Size() != 3 {
			t.Errorf("Expected size 3 after eviction, got %d", cache.Size())
		}
		if _, exists := cache.Get("key2"); exists {
			t.Error("Expected key2 to be evicted")
		}
		for _, key := range []string{"key1", "key3", "key4"} {
			if _, exists := cache.Get(key); !exists {
				t.Errorf("Expected %s to exist", key)
			}
		}
		if cache.Stats().Evictions() != 1 {
			t.Errorf("Expected 1 eviction, got %d", cache.Stats().Evictions())
		}
	})

	t.Run("LRUOrder", func(t *testing.T) {
		cache, err := NewLRU[string](3)
		if err != nil {
			t.Fatal(err)
		}
		defer cache.Close()

		_, _ = cache.Set("key1", "value1")
		_, _ = cache.Set("key2", "value2")
		_, _ = cache.Set("key3", "value3")
		cache.Get("key2")
		cache.Get("key1")
		cache.Get("key3")

		keys := cache.Keys()
		expected := []string{"key3", "key1", "key2"}
		for i, key := range keys {
			if key != expected[i] {
				t.Errorf("Expected key order %v, got %v", expected, keys)
				break
			}
		}
	})

	t.Run("InvalidSize", func(t *testing.T) {
		if _, err := NewLRU[string](0); err == nil {
			t.Error("Expected error for zero max size")
		}
	})
}

func TestTTLCache(t *testing.T) {
	testSuite(t, func() Cache[string] {
		cache, err := NewTTL[string](context.Background(), time.Minute, time.Minute)
		if err != nil {
			panic(err)
		}
		return cache
	})

	t.Run("ExpiryFollowsClock", func(t *testing.T) {
		clock := newFakeClock()
		cache, err := NewTTL[string](context.Background(), 100*time.Millisecond, time.Hour,
			WithClock[string](clock.Now))
		if err != nil {
			t.Fatal(err)
		}
		defer cache.Close()

		_, _ = cache.Set("peer", "alive")
		clock.Advance(60 * time.Millisecond)
		if _, exists := cache.Get("peer"); !exists {
			t.Error("Expected peer to be live before ttl")
		}

		// Set restarts the ttl
		_, _ = cache.Set("peer", "alive")
		clock.Advance(60 * time.Millisecond)
		if _, exists := cache.Get("peer"); !exists {
			t.Error("Expected refreshed peer to be live")
		}

		clock.Advance(50 * time.Millisecond)
		if _, exists := cache.Get("peer"); exists {
			t.Error("Expected peer to be expired")
		}
		if len(cache.Keys()) != 0 {
			t.Errorf("Expected no live keys, got %v", cache.Keys())
		}
	})

	t.Run("BackgroundCleanup", func(t *testing.T) {
		var mu sync.Mutex
		var expired []string

		cache, err := NewTTL[string](context.Background(), 50*time.Millisecond, 25*time.Millisecond,
			WithEvictionCallback[string](func(key string, _ string) {
				mu.Lock()
				expired = append(expired, key)
				mu.Unlock()
			}))
		if err != nil {
			t.Fatal(err)
		}
		defer cache.Close()

		_, _ = cache.Set("key1", "value1")
		time.Sleep(150 * time.Millisecond)

		if cache.Size() != 0 {
			t.Errorf("Expected size 0 after cleanup, got %d", cache.Size())
		}
		mu.Lock()
		if len(expired) != 1 || expired[0] != "key1" {
			t.Errorf("Expected expired keys [key1], got %v", expired)
		}
		mu.Unlock()
		if cache.Stats().Expirations() != 1 {
			t.Errorf("Expected 1 expiration, got %d", cache.Stats().Expirations())
		}
	})

	t.Run("CloseIsIdempotent", func(t *testing.T) {
		cache, err := NewTTL[string](context.Background(), time.Second, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := cache.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
		if err := cache.Close(); err != nil {
			t.Fatalf("Second Close failed: %v", err)
		}
	})
}

func TestConcurrency(t *testing.T) {
	lru, _ := NewLRU[string](100)
	ttl, _ := NewTTL[string](context.Background(), time.Second, 500*time.Millisecond)

	for _, tc := range []struct {
		name  string
		cache Cache[string]
	}{{"LRU", lru}, {"TTL", ttl}} {
		t.Run(tc.name, func(t *testing.T) {
			defer tc.cache.Close()

			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for j := 0; j < 100; j++ {
						key := fmt.Sprintf("key%d-%d", id, j)
						value := fmt.Sprintf("value%d-%d", id, j)
						_, _ = tc.cache.Set(key, value)
						if got, exists := tc.cache.Get(key); exists && got != value {
							t.Errorf("Expected %s, got %s", value, got)
						}
						if j%10 == 0 {
							_, _ = tc.cache.Delete(key)
						}
					}
				}(i)
			}
			wg.Wait()
		})
	}
}

func TestStatistics(t *testing.T) {
	cache, err := NewLRU[string](10)
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()

	_, _ = cache.Set("key1", "value1")
	_, _ = cache.Set("key2", "value2")
	cache.Get("key1")
	cache.Get("key3")
	_, _ = cache.Delete("key2")

	summary := cache.Stats().Summary()
	if summary.Sets != 2 || summary.Hits != 1 || summary.Misses != 1 || summary.Deletes != 1 {
		t.Errorf("Unexpected counters: %+v", summary)
	}
	if summary.HitRatio != 0.5 {
		t.Errorf("Expected hit ratio 0.5, got %f", summary.HitRatio)
	}
	if summary.CurrentSize != 1 || summary.MaxSize != 2 {
		t.Errorf("Expected current 1 and max 2, got %d and %d", summary.CurrentSize, summary.MaxSize)
	}
}
