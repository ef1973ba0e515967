package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/pkg/future"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/transport/memory"
)

const waitFor = 3 * time.Second

func newLoop(t *testing.T) *worker.EventLoop {
	t.Helper()
	loop := worker.NewEventLoop()
	require.NoError(t, loop.Start(context.Background()))
	t.Cleanup(func() { _ = loop.Stop(time.Second) })
	return loop
}

// newNode returns a provider on its own face of hub.
func newNode(t *testing.T, hub *memory.Hub, loop *worker.EventLoop, opts ...ProviderOption) *Provider {
	t.Helper()
	face := hub.NewFace()
	p, err := NewProvider(face, loop, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
		_ = face.Close()
	})
	return p
}

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	return f.Wait(ctx)
}

func mustOpen[T any](t *testing.T, ch Channel[T]) {
	t.Helper()
	f, err := ch.Open(context.Background())
	require.NoError(t, err)
	_, err = await(t, f)
	require.NoError(t, err)
	require.True(t, ch.IsOpen())
}

func mustFetch[T any](f *future.Future[T], err error) func(t *testing.T) T {
	return func(t *testing.T) T {
		t.Helper()
		require.NoError(t, err)
		v, err := await(t, f)
		require.NoError(t, err)
		return v
	}
}

type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.items...)
}

func (c *collector[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
