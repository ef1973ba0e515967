package future

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_Resolve(t *testing.T) {
	f, p := New[int]()
	assert.False(t, f.Ready())

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Resolve(42)
	}()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, f.Ready())
	assert.NoError(t, f.Err())
}

func TestFuture_Reject(t *testing.T) {
	boom := errors.New("boom")
	f, p := New[string]()
	assert.True(t, p.Reject(boom))

	_, err := f.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, f.Err(), boom)
}

func TestFuture_FirstCompletionWins(t *testing.T) {
	f, p := New[int]()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if p.Resolve(v) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.False(t, p.Reject(errors.New("late")))
	_, err := f.Wait(context.Background())
	assert.NoError(t, err)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f, _ := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, f.Err())
}
