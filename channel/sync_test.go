package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/transport/memory"
)

const syncURI = "ndn:/test/sync"

var fastSync = WithSyncSettings(SyncSettings{
	Lifetime:      300 * time.Millisecond,
	ResponseDelay: 20 * time.Millisecond,
	PeerTimeout:   time.Minute,
})

type syncGroup struct {
	hub  *memory.Hub
	loop *worker.EventLoop
}

func newSyncGroup(t *testing.T) *syncGroup {
	t.Helper()
	return &syncGroup{hub: memory.NewHub(), loop: newLoop(t)}
}

func (g *syncGroup) member(t *testing.T, opts ...Option) *SyncChannel[string] {
	t.Helper()
	opts = append([]Option{fastSync, WithRetention(time.Minute), WithRetrievalTimeout(500 * time.Millisecond)}, opts...)
	ch, err := NewSync[string](newNode(t, g.hub, g.loop), syncURI, JSONCodec[string]{}, opts...)
	require.NoError(t, err)
	mustOpen[string](t, ch)
	return ch
}

func TestSync_ConcurrentPublishers(t *testing.T) {
	g := newSyncGroup(t)
	sub := g.member(t)
	got := &collector[string]{}
	require.NoError(t, sub.Subscribe(got.add))

	pubs := []*SyncChannel[string]{g.member(t), g.member(t)}
	require.NotEqual(t, pubs[0].Publisher(), pubs[1].Publisher())

	const perPublisher = 10
	var wg sync.WaitGroup
	for i, pub := range pubs {
		wg.Add(1)
		go func(i int, pub *SyncChannel[string]) {
			defer wg.Done()
			for n := 0; n < perPublisher; n++ {
				assert.NoError(t, pub.Publish(fmt.Sprintf("p%d-%02d", i, n)))
				time.Sleep(5 * time.Millisecond)
			}
		}(i, pub)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return got.len() == 2*perPublisher }, 5*time.Second, 20*time.Millisecond)

	for i := range pubs {
		prefix := fmt.Sprintf("p%d-", i)
		var fromPublisher, want []string
		for _, msg := range got.snapshot() {
			if strings.HasPrefix(msg, prefix) {
				fromPublisher = append(fromPublisher, msg)
			}
		}
		for n := 0; n < perPublisher; n++ {
			want = append(want, fmt.Sprintf("%s%02d", prefix, n))
		}
		assert.Equal(t, want, fromPublisher, "publisher %d order", i)
	}

	require.Eventually(t, func() bool {
		states := sub.States()
		if len(states) != 2 {
			return false
		}
		for _, st := range states {
			if st.Sequence != perPublisher-1 {
				return false
			}
		}
		return true
	}, waitFor, 20*time.Millisecond)
	for _, pub := range pubs {
		assert.Contains(t, sub.States(), chronosync.State{Publisher: pub.Publisher(), Sequence: perPublisher - 1})
	}
}

func TestSync_OwnMessagesAreNotDelivered(t *testing.T) {
	g := newSyncGroup(t)
	ch := g.member(t)
	other := g.member(t)

	own := &collector[string]{}
	require.NoError(t, ch.Subscribe(own.add))
	seen := &collector[string]{}
	require.NoError(t, other.Subscribe(seen.add))

	require.NoError(t, ch.Publish("mine"))
	require.Eventually(t, func() bool { return seen.len() == 1 }, waitFor, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, own.len())
}

func TestSync_Latest(t *testing.T) {
	g := newSyncGroup(t)
	pub := g.member(t)

	// nothing observed yet: any publisher answers a rightmost request
	fresh := g.member(t)
	require.NoError(t, pub.Publish("x"))
	require.NoError(t, pub.Publish("y"))
	assert.Equal(t, "y", mustFetch(fresh.Latest(context.Background()))(t))
	assert.Equal(t, "x", mustFetch(fresh.Earliest(context.Background()))(t))

	require.Eventually(t, func() bool {
		for _, st := range fresh.States() {
			if st.Publisher == pub.Publisher() && st.Sequence == 1 {
				return true
			}
		}
		return false
	}, waitFor, 10*time.Millisecond)
	require.NoError(t, pub.Publish("z"))
	require.Eventually(t, func() bool {
		f, err := fresh.Latest(context.Background())
		if err != nil {
			return false
		}
		v, err := await(t, f)
		return err == nil && v == "z"
	}, waitFor, 20*time.Millisecond)

	assert.Equal(t, "x", mustFetch(fresh.Get(context.Background(), pub.Publisher(), 0))(t))
}

func TestSync_CloseLeavesGroup(t *testing.T) {
	g := newSyncGroup(t)
	pub := g.member(t, WithRetention(200*time.Millisecond))
	require.True(t, g.hub.Registered(pub.Group()))

	require.NoError(t, pub.Publish("last"))
	require.NoError(t, pub.Close())
	assert.Equal(t, StateCloseScheduled, pub.State())
	assert.True(t, g.hub.Registered(pub.Group()), "group membership outlives the drain")

	require.Eventually(t, func() bool { return pub.State() == StateClosed }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !g.hub.Registered(pub.Group()) }, waitFor, 10*time.Millisecond)
	assert.Zero(t, g.hub.Registrations())
	assert.ErrorIs(t, pub.Publish("after"), errors.ErrChannelClosed)
}

func TestSync_GroupIsSharedByURI(t *testing.T) {
	g := newSyncGroup(t)
	a := g.member(t)
	b := g.member(t)
	assert.True(t, a.Group().Equal(b.Group()))
	assert.True(t, a.Group().Equal(chronosync.GroupName(a.Name())))
	assert.True(t, chronosync.BroadcastPrefix.IsPrefixOf(a.Group()))
}
