package chronosync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/metric"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/segment"
	"github.com/c360/semchannels/transport"
)

// Defaults for Config.
const (
	DefaultSyncLifetime  = 10 * time.Second
	DefaultResponseDelay = 500 * time.Millisecond
)

// BroadcastPrefix is shared by every sync group.
var BroadcastPrefix = name.MustParse("/bcast")

const updateComponent = "update"

// GroupName returns the sync group address of a channel: the broadcast
// prefix plus the first 16 bytes of the SHA-256 of the channel URI, in hex.
func GroupName(channel name.Name) name.Name {
	sum := sha256.Sum256([]byte(channel.URI()))
	return BroadcastPrefix.AppendString(hex.EncodeToString(sum[:16]))
}

// Config configures a Synchronizer.
type Config struct {
	// Group is the sync group address, usually GroupName(channel).
	Group name.Name
	// Publisher is the local publisher id.
	Publisher uint64
	// SyncLifetime bounds each outstanding sync request.
	SyncLifetime time.Duration
	// ResponseDelay delays answers to stale digests and spaces out requests.
	ResponseDelay time.Duration
	// HistorySize is the number of remembered digests.
	HistorySize int
	// PruneInterval is how often stale peers are checked; zero disables pruning.
	PruneInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SyncLifetime <= 0 {
		c.SyncLifetime = DefaultSyncLifetime
	}
	if c.ResponseDelay <= 0 {
		c.ResponseDelay = DefaultResponseDelay
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPeerTracker enables stale-peer pruning through tracker.
func WithPeerTracker(tracker PeerTracker) Option {
	return func(s *Synchronizer) { s.peers = tracker }
}

// WithMetrics reports the state vector size under label.
func WithMetrics(m *metric.Metrics, label string) Option {
	return func(s *Synchronizer) {
		s.metrics = m
		s.label = label
	}
}

type heldRequest struct {
	digest  Digest
	name    name.Name
	rsp     transport.Responder
	expires time.Time
}

// Synchronizer replicates a vector of per-publisher sequence ids across a
// broadcast group.
//
// Every member keeps one sync request outstanding, named with its current
// digest. A member whose digest matches holds the request until its vector
// changes; a member with a different digest answers after ResponseDelay with
// the states the requester is missing. Local changes are also announced with
// a response-less update so members learn of them without waiting for the
// next request.
type Synchronizer struct {
	face    transport.Face
	loop    *worker.EventLoop
	cfg     Config
	logger  *slog.Logger
	peers   PeerTracker
	metrics *metric.Metrics
	label   string

	mu        sync.Mutex
	history   *History
	held      []heldRequest
	forgotten map[uint64]uint64
	observers []func([]State)
	reg       transport.RegistrationID
	running   bool
	cancel    context.CancelFunc
	stopPrune func() bool

	wg sync.WaitGroup
}

// New creates a synchronizer. Start joins the group.
func New(face transport.Face, loop *worker.EventLoop, cfg Config, opts ...Option) *Synchronizer {
	cfg.applyDefaults()
	s := &Synchronizer{
		face:      face,
		loop:      loop,
		cfg:       cfg,
		logger:    slog.Default(),
		history:   NewHistory(cfg.HistorySize),
		forgotten: make(map[uint64]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("group", cfg.Group.String(), "publisher", peerKey(cfg.Publisher))
	return s
}

// Publisher returns the local publisher id.
func (s *Synchronizer) Publisher() uint64 {
	return s.cfg.Publisher
}

// Digest returns the current digest.
func (s *Synchronizer) Digest() Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Digest()
}

// States returns the current vector ordered by publisher.
func (s *Synchronizer) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.All()
}

// OnState registers fn to receive remote states that advanced the vector.
// fn runs on the event loop.
func (s *Synchronizer) OnState(fn func([]State)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Start registers the group prefix and begins requesting. It returns once the
// registration is confirmed.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyOpen, "Synchronizer", "Start", "join sync group")
	}
	s.mu.Unlock()

	reg, err := s.face.Register(ctx, s.cfg.Group, s.handle)
	if err != nil {
		return errors.WrapTransient(err, "Synchronizer", "Start", "register sync group")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.reg = reg
	s.running = true
	s.cancel = cancel
	s.mu.Unlock()

	s.touch(s.cfg.Publisher)
	if s.peers != nil && s.cfg.PruneInterval > 0 {
		s.schedulePrune()
	}

	s.wg.Add(1)
	go s.requestLoop(runCtx)

	s.logger.Debug("joined sync group")
	return nil
}

// Stop leaves the group. Held requests are abandoned.
func (s *Synchronizer) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	reg := s.reg
	s.held = nil
	stopPrune := s.stopPrune
	s.mu.Unlock()

	if stopPrune != nil {
		stopPrune()
	}
	// requestLoop only blocks on the cancelled run context, never on the
	// loop, so waiting here is safe from a loop task.
	s.wg.Wait()

	err := s.face.Unregister(reg)
	if s.peers != nil {
		if ferr := s.peers.Forget(context.Background(), s.cfg.Publisher); ferr != nil {
			s.logger.Debug("failed to forget local publisher", "error", ferr)
		}
	}
	s.logger.Debug("left sync group")
	return err
}

// Publish records a new local sequence id, answers held requests and
// announces the change to the group.
func (s *Synchronizer) Publish(ctx context.Context, sequence uint64) error {
	state := State{Publisher: s.cfg.Publisher, Sequence: sequence}
	s.apply([]State{state})

	update := s.cfg.Group.
		AppendString(updateComponent).
		AppendNumber(state.Publisher, name.MarkerPublisher).
		AppendNumber(state.Sequence, name.MarkerSequence)
	if err := s.face.Notify(ctx, transport.Request{Name: update, Lifetime: time.Second, MustBeFresh: true}); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSendFailed, err), "Synchronizer", "Publish", "announce state")
	}
	return nil
}

// handle runs on the transport delivery goroutine.
func (s *Synchronizer) handle(req transport.Request, rsp transport.Responder) {
	suffix := req.Name[min(len(s.cfg.Group), len(req.Name)):]
	switch {
	case len(suffix) == 3 && string(suffix[0]) == updateComponent:
		publisher, err1 := suffix[1].NumberWithMarker(name.MarkerPublisher)
		sequence, err2 := suffix[2].NumberWithMarker(name.MarkerSequence)
		if err1 != nil || err2 != nil || publisher == s.cfg.Publisher {
			return
		}
		s.submit(func() {
			s.touch(publisher)
			s.apply([]State{{Publisher: publisher, Sequence: sequence}})
		})

	case len(suffix) == 2:
		digest, err := ParseDigest(string(suffix[0]))
		if err != nil {
			s.logger.Debug("ignoring sync request", "name", req.Name.String(), "error", err)
			return
		}
		requester, err := suffix[1].NumberWithMarker(name.MarkerPublisher)
		if err != nil || requester == s.cfg.Publisher {
			return
		}
		s.submit(func() {
			s.touch(requester)
			s.onRequest(req, digest, rsp)
		})

	default:
		s.logger.Debug("ignoring request outside sync naming", "name", req.Name.String())
	}
}

func (s *Synchronizer) submit(task worker.Task) {
	if err := s.loop.Submit(task); err != nil {
		s.logger.Warn("dropping sync work", "error", err)
	}
}

func (s *Synchronizer) onRequest(req transport.Request, digest Digest, rsp transport.Responder) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if s.history.IsCurrent(digest) {
		now := time.Now()
		live := s.held[:0]
		for _, h := range s.held {
			if h.expires.After(now) {
				live = append(live, h)
			}
		}
		s.held = append(live, heldRequest{
			digest:  digest,
			name:    req.Name,
			rsp:     rsp,
			expires: now.Add(req.LifetimeOrDefault()),
		})
		s.mu.Unlock()
		return
	}

	current := s.history.Digest()
	states := s.history.Complement(digest)
	s.mu.Unlock()

	if len(states) == 0 {
		return
	}
	s.loop.Schedule(s.cfg.ResponseDelay, func() {
		s.respond(rsp, req.Name, current, states)
	})
}

func (s *Synchronizer) respond(rsp transport.Responder, reqName name.Name, digest Digest, states []State) {
	packets := segment.Encode(EncodeStates(states), transport.Packet{Name: reqName.AppendString(digest.Hex())}, 0)
	if err := rsp.Send(packets...); err != nil {
		s.logger.Warn("failed to send sync response", "name", reqName.String(), "error", err)
	}
}

// apply merges states, answers held requests and notifies observers of the
// remote states that advanced the vector.
func (s *Synchronizer) apply(states []State) []State {
	s.mu.Lock()
	accepted := states[:0:0]
	for _, st := range states {
		if seq, ok := s.forgotten[st.Publisher]; ok {
			if st.Sequence <= seq {
				continue
			}
			delete(s.forgotten, st.Publisher)
		}
		accepted = append(accepted, st)
	}

	changed := s.history.Add(accepted...)
	if len(changed) == 0 {
		s.mu.Unlock()
		return nil
	}

	current := s.history.Digest()
	held := s.held
	s.held = nil
	replies := make([][]State, len(held))
	for i, h := range held {
		replies[i] = s.history.Complement(h.digest)
	}
	observers := slices.Clone(s.observers)
	size := s.history.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordStateVectorSize(s.label, size)
	}

	for i, h := range held {
		h, reply := h, replies[i]
		s.submit(func() { s.respond(h.rsp, h.name, current, reply) })
	}

	var remote []State
	for _, st := range changed {
		if st.Publisher != s.cfg.Publisher {
			remote = append(remote, st)
		}
	}
	if len(remote) > 0 {
		for _, fn := range observers {
			fn(remote)
		}
	}
	return changed
}

func (s *Synchronizer) requestLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		digest := s.Digest()
		req := transport.Request{
			Name:     s.cfg.Group.AppendString(digest.Hex()).AppendNumber(s.cfg.Publisher, name.MarkerPublisher),
			Lifetime: s.cfg.SyncLifetime,
		}

		packets, err := s.face.Express(ctx, req)
		if ctx.Err() != nil {
			return
		}

		wait := time.Duration(0)
		switch {
		case err == nil:
			s.onResponse(ctx, packets)
			wait = s.cfg.ResponseDelay
		case stderrors.Is(err, errors.ErrFetchTimeout):
			s.logger.Debug("no sync response", "digest", digest.String())
		default:
			s.logger.Warn("sync request failed", "error", err)
			wait = s.cfg.ResponseDelay
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// onResponse merges a sync response on the loop. ctx is the run context, so
// a Stop issued from a loop task never waits on a merge queued behind it.
func (s *Synchronizer) onResponse(ctx context.Context, packets []transport.Packet) {
	data, err := segment.Decode(packets)
	if err != nil {
		s.logger.Warn("undecodable sync response", "error", err)
		return
	}
	remoteDigest, err := ParseDigest(string(segment.BaseName(packets[0]).Get(-1)))
	if err != nil {
		s.logger.Warn("sync response without digest", "error", err)
		return
	}
	states, err := DecodeStates(data)
	if err != nil {
		s.logger.Warn("undecodable sync states", "error", err)
		return
	}

	err = s.loop.Go(ctx, func() {
		if ctx.Err() != nil {
			return
		}
		for _, st := range s.apply(states) {
			if st.Publisher != s.cfg.Publisher {
				s.touch(st.Publisher)
			}
		}
		if local := s.Digest(); local != remoteDigest {
			s.logger.Debug("digest differs after merge", "remote", remoteDigest.String(), "local", local.String())
		}
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("dropping sync response", "error", err)
	}
}

func (s *Synchronizer) touch(publisher uint64) {
	if s.peers == nil {
		return
	}
	if err := s.peers.Touch(context.Background(), publisher); err != nil {
		s.logger.Debug("failed to record peer", "peer", peerKey(publisher), "error", err)
	}
}

func (s *Synchronizer) schedulePrune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopPrune = s.loop.Schedule(s.cfg.PruneInterval, func() {
		s.Prune(context.Background())
		s.schedulePrune()
	})
}

// Prune removes remote publishers the peer tracker no longer considers alive.
// A pruned publisher is only re-added by a state newer than the one removed.
func (s *Synchronizer) Prune(ctx context.Context) []uint64 {
	if s.peers == nil {
		return nil
	}

	var stale []uint64
	for _, st := range s.States() {
		if st.Publisher == s.cfg.Publisher {
			continue
		}
		if !s.peers.Alive(ctx, st.Publisher) {
			stale = append(stale, st.Publisher)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	s.mu.Lock()
	for _, p := range stale {
		if seq, ok := s.history.Sequence(p); ok {
			s.forgotten[p] = seq
			s.history.Remove(p)
		}
	}
	size := s.history.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordStateVectorSize(s.label, size)
	}
	s.logger.Debug("pruned stale publishers", "count", len(stale))
	return stale
}
