package channel

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/metric"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/buffer"
	"github.com/c360/semchannels/pkg/cache"
	"github.com/c360/semchannels/pkg/future"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/segment"
	"github.com/c360/semchannels/transport"
)

// deliveryBacklog bounds fetched-but-undelivered messages per channel.
const deliveryBacklog = 1024

// env is what a Provider hands to every channel it builds.
type env struct {
	face     transport.Face
	loop     *worker.EventLoop
	logger   *slog.Logger
	metrics  *metric.Metrics
	registry *metric.MetricsRegistry
	observer RequestObserver
	peers    func(group name.Name) (chronosync.PeerTracker, error)
	onClosed func(handle)
}

// handle is the strategy-independent view a Provider keeps of a channel.
type handle interface {
	URI() string
	Stats() Stats
	forceClose()
}

// Stats is a point-in-time summary of one channel.
type Stats struct {
	URI         string   `json:"uri"`
	Strategy    Strategy `json:"strategy"`
	State       string   `json:"state"`
	Publishing  bool     `json:"publishing"`
	Subscribing bool     `json:"subscribing"`
	Published   int64    `json:"published"`
	Received    int64    `json:"received"`
	Retained    int      `json:"retained"`
	Earliest    *uint64  `json:"earliest,omitempty"`
	Latest      *uint64  `json:"latest,omitempty"`
}

type delivery[T any] struct {
	result *future.Future[T]
	id     uint64
	attrs  []any
}

// core holds what both strategies share: lifecycle, the publishing window
// and retention cache, fetch and ordered subscriber delivery.
type core[T any] struct {
	env
	uri      string
	name     name.Name
	settings Settings
	codec    Codec[T]
	logger   *slog.Logger
	life     Lifecycle

	pubMu       sync.Mutex
	window      Window
	cache       *cache.Retention[retained[T]]
	producer    func() (T, error)
	stopCleanup func() bool

	publishing  atomic.Bool
	subscribing atomic.Bool
	opened      atomic.Bool
	published   atomic.Int64
	received    atomic.Int64

	cbMu      sync.RWMutex
	callbacks []func(T)

	deliveries buffer.Buffer[delivery[T]]
	draining   atomic.Bool
	closing    atomic.Bool

	closeMu     sync.Mutex
	cancelClose func() bool
	release     func()
	finishOnce  sync.Once
}

func newCore[T any](e env, uri string, n name.Name, settings Settings, codec Codec[T]) (*core[T], error) {
	logger := e.logger.With("channel", uri, "strategy", string(settings.Strategy))

	var opts []cache.Option[retained[T]]
	if e.registry != nil {
		opts = append(opts, cache.WithMetrics[retained[T]](e.registry, "retention:"+uri))
	}
	retention, err := cache.NewRetention[retained[T]](settings.MaxEntries, settings.Retention, opts...)
	if err != nil && len(opts) > 0 {
		// another handle for the same channel owns the metrics
		logger.Debug("retention metrics unavailable", "error", err)
		retention, err = cache.NewRetention[retained[T]](settings.MaxEntries, settings.Retention)
	}
	if err != nil {
		return nil, err
	}

	c := &core[T]{
		env:      e,
		uri:      uri,
		name:     n,
		settings: settings,
		codec:    codec,
		logger:   logger,
		cache:    retention,
	}
	c.deliveries, err = buffer.NewCircularBuffer(deliveryBacklog,
		buffer.WithOverflowPolicy[delivery[T]](buffer.DropNewest),
		buffer.WithDropCallback(c.dropDelivery),
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the channel name.
func (c *core[T]) Name() name.Name { return c.name }

// URI returns the channel URI.
func (c *core[T]) URI() string { return c.uri }

// State returns the lifecycle state.
func (c *core[T]) State() State { return c.life.State() }

// IsOpen reports whether the channel is open. A channel whose close is
// scheduled is no longer open, though it still answers requests.
func (c *core[T]) IsOpen() bool { return c.life.State() == StateOpen }

// IsPublishing reports whether Publish or OnLatest was called.
func (c *core[T]) IsPublishing() bool { return c.publishing.Load() }

// IsSubscribing reports whether Subscribe was called.
func (c *core[T]) IsSubscribing() bool { return c.subscribing.Load() }

// Retention returns the configured retention.
func (c *core[T]) Retention() time.Duration { return c.cache.Retention() }

// RetrievalTimeout returns the fetch lifetime.
func (c *core[T]) RetrievalTimeout() time.Duration { return c.settings.RetrievalTimeout }

// Window returns the publishing window; ok is false before the first publish.
func (c *core[T]) Window() (earliest, latest uint64, ok bool) { return c.window.Snapshot() }

// Stats implements handle.
func (c *core[T]) Stats() Stats {
	st := Stats{
		URI:         c.uri,
		Strategy:    c.settings.Strategy,
		State:       c.life.State().String(),
		Publishing:  c.publishing.Load(),
		Subscribing: c.subscribing.Load(),
		Published:   c.published.Load(),
		Received:    c.received.Load(),
		Retained:    c.cache.Len(),
	}
	if earliest, latest, ok := c.window.Snapshot(); ok {
		st.Earliest, st.Latest = &earliest, &latest
	}
	return st
}

// insert stores v under the next sequence id.
func (c *core[T]) insert(v T) (uint64, error) {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return 0, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err), "Channel", "Publish", "encode message")
	}

	c.pubMu.Lock()
	id := c.window.Advance()
	c.cache.Add(id, retained[T]{value: v, data: data})
	c.cleanupLocked()
	c.pubMu.Unlock()

	c.startPublishing()
	c.published.Add(1)
	if c.metrics != nil {
		c.metrics.RecordPublished(c.uri)
	}
	return id, nil
}

func (c *core[T]) startPublishing() {
	if c.publishing.Swap(true) {
		return
	}
	if c.cache.Retention() != cache.Forever {
		c.scheduleCleanup()
	}
}

// cleanupLocked must be called with pubMu held.
func (c *core[T]) cleanupLocked() {
	if expired := c.cache.Cleanup(); len(expired) > 0 {
		c.logger.Debug("expired retained messages", "count", len(expired))
	}
	if earliest, ok := c.cache.Earliest(); ok {
		c.window.Raise(earliest)
	}
}

func (c *core[T]) scheduleCleanup() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	if c.life.State() == StateClosed {
		return
	}
	c.stopCleanup = c.loop.Schedule(c.settings.cleanupInterval(), func() {
		c.pubMu.Lock()
		c.cleanupLocked()
		c.pubMu.Unlock()
		c.scheduleCleanup()
	})
}

// setProducer installs the onLatest producer.
func (c *core[T]) setProducer(fn func() (T, error)) {
	c.pubMu.Lock()
	c.producer = fn
	c.pubMu.Unlock()
	c.startPublishing()
}

// produceLatest runs the producer and stores its value under the next id,
// holding the publish lock throughout so no other publish can take the id.
func (c *core[T]) produceLatest() (uint64, bool) {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.producer == nil {
		return 0, false
	}
	v, err := c.callProducer()
	if err != nil {
		c.logger.Warn("onLatest producer failed", "error", err)
		return 0, false
	}
	data, err := c.codec.Marshal(v)
	if err != nil {
		c.logger.Warn("onLatest value not encodable", "error", err)
		return 0, false
	}

	id := c.window.Advance()
	c.cache.Add(id, retained[T]{value: v, data: data})
	c.published.Add(1)
	if c.metrics != nil {
		c.metrics.RecordPublished(c.uri)
	}
	return id, true
}

func (c *core[T]) callProducer() (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panicked: %v", r)
		}
	}()
	return c.producer()
}

func (c *core[T]) responder(prefix name.Name, publisher *uint64) *responder[T] {
	return &responder[T]{
		channel:   c.uri,
		prefix:    prefix,
		cache:     c.cache,
		loop:      c.loop,
		chunkSize: c.settings.ChunkSize,
		freshness: c.settings.freshness(),
		observer:  c.observer,
		logger:    c.logger,
		produce:   c.produceLatest,
		publisher: publisher,
	}
}

// fetch expresses req and decodes the response.
func (c *core[T]) fetch(ctx context.Context, req transport.Request) (T, error) {
	var zero T
	start := time.Now()

	packets, err := c.face.Express(ctx, req)
	if err != nil {
		reason := "transport"
		if stderrors.Is(err, errors.ErrFetchTimeout) {
			reason = "timeout"
		}
		c.recordFetchFailure(reason)
		return zero, errors.Wrap(err, "Channel", "fetch", "fetch "+req.Name.String())
	}

	data, err := segment.Decode(packets)
	if err != nil {
		c.recordFetchFailure("decode")
		return zero, err
	}
	v, err := c.codec.Unmarshal(data)
	if err != nil {
		c.recordFetchFailure("decode")
		return zero, err
	}

	c.received.Add(1)
	if c.metrics != nil {
		c.metrics.RecordReceived(c.uri, time.Since(start))
	}
	return v, nil
}

func (c *core[T]) fetchAsync(ctx context.Context, req transport.Request) *future.Future[T] {
	f, p := future.New[T]()
	go func() {
		p.Complete(c.fetch(ctx, req))
		c.scheduleDrain()
	}()
	return f
}

func (c *core[T]) recordFetchFailure(reason string) {
	if c.metrics != nil {
		c.metrics.RecordFetchFailure(c.uri, reason)
	}
}

// request builds a fetch request with the channel's retrieval timeout.
func (c *core[T]) request(n name.Name, selector transport.Selector) transport.Request {
	return transport.Request{
		Name:        n,
		Selector:    selector,
		MustBeFresh: true,
		Lifetime:    c.settings.RetrievalTimeout,
	}
}

// subscribe adds fn to the delivery callbacks.
func (c *core[T]) subscribe(fn func(T)) {
	c.cbMu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.cbMu.Unlock()
	c.subscribing.Store(true)
}

// enqueue schedules delivery of a fetch result. Deliveries happen in
// enqueue order whatever order the fetches complete in.
func (c *core[T]) enqueue(d delivery[T]) {
	if err := c.deliveries.Write(d); err != nil {
		c.logger.Debug("channel closing, delivery discarded", append([]any{"id", d.id}, d.attrs...)...)
		return
	}
	c.scheduleDrain()
}

func (c *core[T]) dropDelivery(d delivery[T]) {
	c.logger.Warn("delivery backlog full, dropping message", append([]any{"id", d.id}, d.attrs...)...)
	if c.metrics != nil {
		c.metrics.RecordFetchFailure(c.uri, "backlog_full")
	}
}

// scheduleDrain submits a drain to the event loop once the oldest pending
// delivery has completed. At most one drain is queued or running.
func (c *core[T]) scheduleDrain() {
	if c.closing.Load() || !c.headReady() {
		return
	}
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	if err := c.loop.Submit(c.drain); err != nil {
		c.draining.Store(false)
		c.logger.Warn("delivery deferred, event loop busy", "error", err)
	}
}

func (c *core[T]) headReady() bool {
	d, ok := c.deliveries.Peek()
	return ok && d.result.Ready()
}

// drain delivers completed results in order and stops at the first one
// still in flight; its completion schedules the next drain.
func (c *core[T]) drain() {
	for !c.closing.Load() && c.headReady() {
		d, ok := c.deliveries.Read()
		if !ok {
			break
		}
		if err := d.result.Err(); err != nil {
			c.logger.Warn("dropping notification", append([]any{"id", d.id, "error", err}, d.attrs...)...)
			continue
		}
		v, _ := d.result.Wait(context.Background())
		c.invoke(v, d)
	}
	c.draining.Store(false)
	// a fetch may have completed after the last check but before the flag
	// was released
	c.scheduleDrain()
}

func (c *core[T]) invoke(v T, d delivery[T]) {
	c.cbMu.RLock()
	callbacks := slices.Clone(c.callbacks)
	c.cbMu.RUnlock()

	for _, fn := range callbacks {
		c.safeCall(fn, v, d)
	}
}

func (c *core[T]) safeCall(fn func(T), v T, d delivery[T]) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber callback failed", append([]any{"id", d.id, "panic", r}, d.attrs...)...)
			if c.metrics != nil {
				c.metrics.RecordCallbackFailure(c.uri)
			}
		}
	}()
	fn(v)
}

// markOpen finishes Open. release is stored before the state changes so a
// close racing with Open always undoes the registrations, exactly once.
func (c *core[T]) markOpen(release func()) error {
	release = sync.OnceFunc(release)
	c.closeMu.Lock()
	c.release = release
	c.closeMu.Unlock()

	if err := c.life.CompleteOpen(); err != nil {
		release()
		return err
	}

	c.opened.Store(true)
	if c.metrics != nil {
		c.metrics.RecordChannelOpened(string(c.settings.Strategy))
	}
	c.logger.Debug("channel open")
	return nil
}

// close stops the channel now, or once every retained message has expired.
func (c *core[T]) close() error {
	retainedState := c.publishing.Load() && c.cache.Len() > 0
	state, err := c.life.Close(retainedState)
	if err != nil {
		return err
	}
	if state == StateClosed {
		c.finish()
		return nil
	}

	closeAt, bounded := c.cache.EarliestCloseTime()
	if !bounded {
		c.logger.Info("retention is unbounded, channel keeps answering until shutdown")
		return nil
	}

	delay := time.Until(closeAt)
	c.closeMu.Lock()
	c.cancelClose = c.loop.Schedule(delay, c.finish)
	c.closeMu.Unlock()
	c.logger.Debug("close scheduled", "in", delay)
	return nil
}

// forceClose releases everything immediately, whatever the state.
func (c *core[T]) forceClose() {
	c.closeMu.Lock()
	cancel := c.cancelClose
	c.closeMu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.finish()
}

func (c *core[T]) finish() {
	c.finishOnce.Do(func() {
		c.life.CompleteClose()

		c.pubMu.Lock()
		stop := c.stopCleanup
		c.pubMu.Unlock()
		if stop != nil {
			stop()
		}

		c.closeMu.Lock()
		release := c.release
		c.closeMu.Unlock()
		if release != nil {
			release()
		}

		c.closing.Store(true)
		_ = c.deliveries.Close()
		_ = c.cache.Close()

		if c.opened.Load() && c.metrics != nil {
			c.metrics.RecordChannelClosed(string(c.settings.Strategy))
		}
		if c.onClosed != nil {
			c.onClosed(c)
		}
		c.logger.Debug("channel closed")
	})
}
