package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRetention(t *testing.T, max int, retention time.Duration, clock *fakeClock) *Retention[string] {
	t.Helper()
	r, err := NewRetention[string](max, retention, WithClock[string](clock.Now))
	require.NoError(t, err)
	return r
}

// heldIDs lists stored ids oldest first.
func heldIDs[V any](r *Retention[V]) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uint64, 0, len(r.items))
	for e := r.order.Front(); e != nil; e = e.Next() {
		ids = append(ids, e.Value.(*retained[V]).id)
	}
	return ids
}

func held[V any](r *Retention[V], id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[id]
	return ok
}

func TestRetention_AddGet(t *testing.T) {
	r := newRetention(t, 10, time.Second, newFakeClock())

	_, ok := r.Get(1)
	assert.False(t, ok)

	r.Add(1, "one")
	r.Add(2, "two")

	v, ok := r.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)
	assert.True(t, held(r, 2))
	assert.False(t, held(r, 3))
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, int64(1), r.Stats().Misses())
}

func TestRetention_EarliestLatest(t *testing.T) {
	r := newRetention(t, 10, time.Second, newFakeClock())

	_, ok := r.Earliest()
	assert.False(t, ok)
	_, ok = r.Latest()
	assert.False(t, ok)

	for _, id := range []uint64{3, 5, 9} {
		r.Add(id, "m")
	}

	earliest, ok := r.Earliest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), earliest)

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(9), latest)
	assert.Equal(t, []uint64{3, 5, 9}, heldIDs(r))
}

func TestRetention_EvictsOldestInserted(t *testing.T) {
	var evicted []uint64
	r, err := NewRetention[string](3, Forever, WithRetentionEviction[string](func(id uint64, _ string) {
		evicted = append(evicted, id)
	}))
	require.NoError(t, err)

	for id := uint64(0); id < 5; id++ {
		r.Add(id, "m")
	}
	// reading an entry does not protect it
	r.Get(2)
	r.Add(5, "m")

	assert.Equal(t, []uint64{3, 4, 5}, heldIDs(r))
	assert.Equal(t, []uint64{0, 1, 2}, evicted)
	assert.Equal(t, int64(3), r.Stats().Evictions())
}

func TestRetention_ReAddKeepsPosition(t *testing.T) {
	r := newRetention(t, 3, time.Second, newFakeClock())
	r.Add(1, "a")
	r.Add(2, "b")
	r.Add(1, "a2")

	assert.Equal(t, []uint64{1, 2}, heldIDs(r))
	v, _ := r.Get(1)
	assert.Equal(t, "a2", v)
}

func TestRetention_Cleanup(t *testing.T) {
	clock := newFakeClock()
	r := newRetention(t, 10, 500*time.Millisecond, clock)

	r.Add(1, "one")
	clock.Advance(300 * time.Millisecond)
	r.Add(2, "two")

	assert.Empty(t, r.Cleanup())

	// expiry is strict: an entry expiring exactly now survives
	clock.Advance(200 * time.Millisecond)
	assert.Empty(t, r.Cleanup())

	clock.Advance(time.Millisecond)
	removed := r.Cleanup()
	assert.Equal(t, map[uint64]string{1: "one"}, removed)
	assert.False(t, held(r, 1))
	assert.True(t, held(r, 2))

	earliest, _ := r.Earliest()
	assert.Equal(t, uint64(2), earliest)
	assert.Equal(t, int64(1), r.Stats().Expirations())
}

func TestRetention_CleanupSubMillisecond(t *testing.T) {
	clock := newFakeClock()
	r := newRetention(t, 10, time.Millisecond, clock)

	r.Add(1, "one")
	clock.Advance(1900 * time.Microsecond)
	assert.Empty(t, r.Cleanup(), "expiry is compared in whole milliseconds")

	clock.Advance(200 * time.Microsecond)
	assert.Len(t, r.Cleanup(), 1)
}

func TestRetention_Forever(t *testing.T) {
	clock := newFakeClock()
	r := newRetention(t, 10, Forever, clock)
	assert.Equal(t, Forever, r.Retention())

	r.Add(1, "one")
	clock.Advance(24 * time.Hour)
	assert.Empty(t, r.Cleanup())
	assert.True(t, held(r, 1))

	_, bounded := r.EarliestCloseTime()
	assert.False(t, bounded)
}

func TestRetention_EarliestCloseTime(t *testing.T) {
	clock := newFakeClock()
	r := newRetention(t, 10, 500*time.Millisecond, clock)

	closeAt, bounded := r.EarliestCloseTime()
	assert.True(t, bounded)
	assert.Equal(t, clock.Now(), closeAt, "empty cache may close now")

	r.Add(1, "one")
	clock.Advance(100 * time.Millisecond)
	r.Add(2, "two")

	closeAt, bounded = r.EarliestCloseTime()
	assert.True(t, bounded)
	assert.Equal(t, clock.Now().Add(500*time.Millisecond).UnixMilli(), closeAt.UnixMilli())
}

func TestRetention_Defaults(t *testing.T) {
	r, err := NewRetention[int](0, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxEntries, r.maxEntries)
	assert.Equal(t, Forever, r.Retention())
}

func TestRetention_ConcurrentCleanup(t *testing.T) {
	r, err := NewRetention[int](1000, time.Millisecond)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < 2000; i++ {
			r.Add(i, int(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			for id, v := range r.Cleanup() {
				assert.Equal(t, int(id), v)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := uint64(0); i < 2000; i++ {
			if v, ok := r.Get(i); ok {
				assert.Equal(t, int(i), v)
			}
			r.Earliest()
			r.Latest()
		}
	}()
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 1000)
}
