package channel

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/cache"
	"github.com/c360/semchannels/pkg/future"
	"github.com/c360/semchannels/transport"
)

// maxGapFill bounds how many missed ids of one publisher are fetched after a
// jump in its sequence.
const maxGapFill = 256

const defaultDeliveryMemory = 1024

// SyncChannel is the multi-publisher strategy. Every handle publishes under
// its own random publisher id; a chronosync group replicates each
// publisher's latest sequence id, and subscribers fetch
// <name>/<seq>/<publisher> from the originating publisher.
//
// Messages of one publisher are delivered in sequence order, fetching ids
// skipped by coalesced state updates. There is no order across publishers.
type SyncChannel[T any] struct {
	*core[T]
	publisher uint64
	group     name.Name
	data      *responder[T]
	syncer    atomic.Pointer[chronosync.Synchronizer]

	progressMu sync.Mutex
	progress   cache.Cache[uint64]
	latest     *chronosync.State
}

func newSyncChannel[T any](e env, uri string, n name.Name, settings Settings, codec Codec[T]) (*SyncChannel[T], error) {
	c, err := newCore(e, uri, n, settings, codec)
	if err != nil {
		return nil, err
	}
	publisher, err := randomPublisher()
	if err != nil {
		return nil, errors.WrapFatal(err, "SyncChannel", "new", "generate publisher id")
	}
	memory := settings.Sync.DeliveryMemory
	if memory <= 0 {
		memory = defaultDeliveryMemory
	}
	progress, err := cache.NewLRU[uint64](memory)
	if err != nil {
		return nil, err
	}

	ch := &SyncChannel[T]{
		core:      c,
		publisher: publisher,
		group:     chronosync.GroupName(n),
		progress:  progress,
	}
	ch.logger = ch.logger.With("publisher", strconv.FormatUint(publisher, 16))
	ch.data = c.responder(n, &ch.publisher)
	return ch, nil
}

func randomPublisher() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Publisher returns this handle's publisher id.
func (c *SyncChannel[T]) Publisher() uint64 { return c.publisher }

// Group returns the sync group address.
func (c *SyncChannel[T]) Group() name.Name { return c.group }

// Open registers the channel prefix and joins the sync group.
func (c *SyncChannel[T]) Open(ctx context.Context) (*future.Future[struct{}], error) {
	if err := c.life.BeginOpen(); err != nil {
		return nil, err
	}

	f, p := future.New[struct{}]()
	go func() {
		release, err := c.join(ctx)
		if err != nil {
			c.life.FailOpen()
			c.logger.Warn("failed to open sync channel", "error", err)
			p.Reject(err)
			return
		}
		if err := c.markOpen(release); err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(struct{}{})
	}()
	return f, nil
}

func (c *SyncChannel[T]) join(ctx context.Context) (func(), error) {
	reg, err := c.face.Register(ctx, c.name, c.handle)
	if err != nil {
		return nil, errors.WrapTransient(err, "SyncChannel", "Open", "register "+c.uri)
	}
	unregister := func() {
		if err := c.face.Unregister(reg); err != nil {
			c.logger.Warn("failed to unregister prefix", "error", err)
		}
	}

	tracker, err := c.peerTracker()
	if err != nil {
		unregister()
		return nil, errors.WrapTransient(err, "SyncChannel", "Open", "create peer tracker")
	}

	opts := []chronosync.Option{
		chronosync.WithLogger(c.logger),
		chronosync.WithPeerTracker(tracker),
	}
	if c.metrics != nil {
		opts = append(opts, chronosync.WithMetrics(c.metrics, c.uri))
	}
	syncer := chronosync.New(c.face, c.loop, chronosync.Config{
		Group:         c.group,
		Publisher:     c.publisher,
		SyncLifetime:  c.settings.Sync.Lifetime,
		ResponseDelay: c.settings.Sync.ResponseDelay,
		PruneInterval: c.settings.Sync.PeerTimeout / 2,
	}, opts...)
	syncer.OnState(c.onStates)

	if err := syncer.Start(ctx); err != nil {
		unregister()
		_ = tracker.Close()
		return nil, err
	}

	c.syncer.Store(syncer)
	return func() {
		if err := syncer.Stop(); err != nil {
			c.logger.Warn("failed to leave sync group", "error", err)
		}
		_ = tracker.Close()
		unregister()
	}, nil
}

func (c *SyncChannel[T]) peerTracker() (chronosync.PeerTracker, error) {
	if c.peers != nil {
		return c.peers(c.group)
	}
	return chronosync.NewMemoryPeerTracker(context.Background(), c.settings.Sync.PeerTimeout)
}

func (c *SyncChannel[T]) handle(req transport.Request, rsp transport.Responder) {
	if c.publishing.Load() {
		c.data.handle(req, rsp)
	}
}

// onStates runs on the event loop for every remote state that advanced the
// vector.
func (c *SyncChannel[T]) onStates(states []chronosync.State) {
	for _, st := range states {
		c.progressMu.Lock()
		latest := st
		c.latest = &latest
		from := c.nextToQueue(st)
		c.progressMu.Unlock()

		if !c.subscribing.Load() {
			continue
		}
		for seq := from; seq <= st.Sequence; seq++ {
			c.enqueue(delivery[T]{
				result: c.fetchAsync(context.Background(), c.request(c.messageName(st.Publisher, seq), transport.SelectNone)),
				id:     seq,
				attrs:  []any{"from", strconv.FormatUint(st.Publisher, 16)},
			})
		}
	}
}

// nextToQueue returns the first id of st's publisher not yet queued for
// delivery and records st.Sequence as queued. The result exceeds st.Sequence
// when nothing is new. Requires progressMu.
func (c *SyncChannel[T]) nextToQueue(st chronosync.State) uint64 {
	key := strconv.FormatUint(st.Publisher, 16)
	last, seen := c.progress.Get(key)
	if seen && last >= st.Sequence {
		return st.Sequence + 1
	}
	if _, err := c.progress.Set(key, st.Sequence); err != nil {
		c.logger.Debug("failed to record delivery progress", "error", err)
	}

	if !seen {
		return st.Sequence
	}
	from := last + 1
	if st.Sequence-from >= maxGapFill {
		c.logger.Warn("skipping messages after sequence gap", "from", strconv.FormatUint(st.Publisher, 16),
			"missed", st.Sequence-from-maxGapFill+1)
		from = st.Sequence - maxGapFill + 1
	}
	return from
}

func (c *SyncChannel[T]) messageName(publisher, seq uint64) name.Name {
	return c.name.AppendNumber(seq, name.MarkerSequence).AppendNumber(publisher, name.MarkerPublisher)
}

// Publish stores msg under this publisher's next sequence id and announces
// the new state to the group.
func (c *SyncChannel[T]) Publish(msg T) error {
	if err := c.life.RequireOpen("Publish"); err != nil {
		return err
	}
	id, err := c.insert(msg)
	if err != nil {
		return err
	}
	if err := c.syncer.Load().Publish(context.Background(), id); err != nil {
		return errors.Wrap(err, "SyncChannel", "Publish", fmt.Sprintf("announce id %d", id))
	}
	c.logger.Debug("published", "id", id)
	return nil
}

// Subscribe adds fn to the callbacks run for every message of another
// publisher.
func (c *SyncChannel[T]) Subscribe(fn func(T)) error {
	if err := c.life.RequireOpen("Subscribe"); err != nil {
		return err
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "SyncChannel", "Subscribe", "check callback")
	}
	c.subscribe(fn)
	return nil
}

// Latest fetches the most recently observed remote message, or asks any
// publisher for its newest one when nothing was observed yet.
func (c *SyncChannel[T]) Latest(ctx context.Context) (*future.Future[T], error) {
	if err := c.life.RequireOpen("Latest"); err != nil {
		return nil, err
	}
	c.progressMu.Lock()
	latest := c.latest
	c.progressMu.Unlock()

	if latest != nil {
		return c.fetchAsync(ctx, c.request(c.messageName(latest.Publisher, latest.Sequence), transport.SelectNone)), nil
	}
	return c.fetchAsync(ctx, c.request(c.name, transport.SelectRightmost)), nil
}

// Earliest asks any publisher for its oldest retained message.
func (c *SyncChannel[T]) Earliest(ctx context.Context) (*future.Future[T], error) {
	if err := c.life.RequireOpen("Earliest"); err != nil {
		return nil, err
	}
	return c.fetchAsync(ctx, c.request(c.name, transport.SelectLeftmost)), nil
}

// Get fetches message seq of publisher.
func (c *SyncChannel[T]) Get(ctx context.Context, publisher, seq uint64) (*future.Future[T], error) {
	if err := c.life.RequireOpen("Get"); err != nil {
		return nil, err
	}
	return c.fetchAsync(ctx, c.request(c.messageName(publisher, seq), transport.SelectNone)), nil
}

// OnLatest installs producer for rightmost requests and starts publishing.
func (c *SyncChannel[T]) OnLatest(producer func() (T, error)) error {
	if err := c.life.RequireOpen("OnLatest"); err != nil {
		return err
	}
	if producer == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "SyncChannel", "OnLatest", "check producer")
	}
	c.setProducer(producer)
	return nil
}

// States returns the replicated state vector.
func (c *SyncChannel[T]) States() []chronosync.State {
	syncer := c.syncer.Load()
	if syncer == nil {
		return nil
	}
	return syncer.States()
}

// Close leaves the group and deregisters now, or once every retained message
// has expired.
func (c *SyncChannel[T]) Close() error {
	return c.close()
}
