// Package natsface carries the named-data exchange over core NATS.
//
// A name maps to a subject under a root (default "ndn") with one token per
// component. Registering a prefix subscribes to the prefix subject and every
// subject below it. A request is a message with a fresh inbox as reply
// subject; each response segment comes back as one reply. Request and packet
// metadata travel in headers, so payloads are never re-encoded.
package natsface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/timestamp"
	"github.com/c360/semchannels/transport"
)

// Header keys.
const (
	HeaderName        = "Ndn-Name"
	HeaderSelector    = "Ndn-Selector"
	HeaderMustBeFresh = "Ndn-Must-Be-Fresh"
	HeaderLifetime    = "Ndn-Lifetime"  // milliseconds
	HeaderFinal       = "Ndn-Final"     // "1" on the last segment
	HeaderFreshness   = "Ndn-Freshness" // milliseconds
	HeaderSent        = "Ndn-Sent"      // unix milliseconds
	HeaderResponder   = "Ndn-Responder"
)

const deliveryQueue = 4096

// Conn is the subset of natsclient.Client the face uses.
type Conn interface {
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	Unsubscribe(sub *nats.Subscription) error
	PublishMsg(msg *nats.Msg) error
	NewInbox() string
	Flush(ctx context.Context) error
}

// Option configures a Face.
type Option func(*Face)

// WithSubjectRoot sets the subject every name is mapped under.
func WithSubjectRoot(root string) Option {
	return func(f *Face) {
		if root != "" {
			f.root = root
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Face) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithResponderID overrides the random id stamped on responses.
func WithResponderID(id string) Option {
	return func(f *Face) {
		if id != "" {
			f.id = id
		}
	}
}

// Face implements transport.Face over a NATS connection. Handlers of all
// registrations run on one delivery goroutine in arrival order.
type Face struct {
	conn   Conn
	root   string
	id     string
	logger *slog.Logger

	deliverCh chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	regs      map[transport.RegistrationID][]*nats.Subscription
	nextID    transport.RegistrationID
	freshness time.Duration
	closed    bool
}

// New creates a face on conn.
func New(conn Conn, opts ...Option) *Face {
	f := &Face{
		conn:      conn,
		root:      name.DefaultSubjectRoot,
		id:        uuid.NewString(),
		logger:    slog.Default(),
		deliverCh: make(chan func(), deliveryQueue),
		done:      make(chan struct{}),
		regs:      make(map[transport.RegistrationID][]*nats.Subscription),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "natsface", "responder", f.id)
	go f.deliverLoop()
	return f
}

// ID returns the responder id stamped on this face's responses.
func (f *Face) ID() string {
	return f.id
}

func (f *Face) deliverLoop() {
	for {
		select {
		case <-f.done:
			return
		case fn := <-f.deliverCh:
			fn()
		}
	}
}

func (f *Face) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Register implements transport.Face.
func (f *Face) Register(ctx context.Context, prefix name.Name, h transport.Handler) (transport.RegistrationID, error) {
	if f.isClosed() {
		return 0, errors.WrapTransient(errors.ErrNoConnection, "natsface.Face", "Register", "register "+prefix.String())
	}

	subject := prefix.Subject(f.root)
	handler := func(msg *nats.Msg) { f.receive(msg, h) }

	var subs []*nats.Subscription
	fail := func(err error) (transport.RegistrationID, error) {
		for _, sub := range subs {
			_ = f.conn.Unsubscribe(sub)
		}
		return 0, errors.WrapTransient(
			fmt.Errorf("%w: %s: %v", errors.ErrRegistrationFailed, prefix, err),
			"natsface.Face", "Register", "register prefix")
	}

	for _, s := range []string{subject, subject + ".>"} {
		sub, err := f.conn.Subscribe(s, handler)
		if err != nil {
			return fail(err)
		}
		subs = append(subs, sub)
	}
	if err := f.conn.Flush(ctx); err != nil {
		return fail(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		for _, sub := range subs {
			_ = f.conn.Unsubscribe(sub)
		}
		return 0, errors.WrapTransient(errors.ErrNoConnection, "natsface.Face", "Register", "register "+prefix.String())
	}
	f.nextID++
	id := f.nextID
	f.regs[id] = subs
	f.logger.Debug("prefix registered", "prefix", prefix.String(), "subject", subject, "registration", id)
	return id, nil
}

// Unregister implements transport.Face.
func (f *Face) Unregister(id transport.RegistrationID) error {
	f.mu.Lock()
	subs, ok := f.regs[id]
	delete(f.regs, id)
	f.mu.Unlock()
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("unknown registration %d", id), "natsface.Face", "Unregister", "remove registration")
	}

	var firstErr error
	for _, sub := range subs {
		if err := f.conn.Unsubscribe(sub); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// receive runs on a nats.go subscription goroutine.
func (f *Face) receive(msg *nats.Msg, h transport.Handler) {
	req, err := f.decodeRequest(msg)
	if err != nil {
		f.logger.Debug("dropping undecodable request", "subject", msg.Subject, "error", err)
		return
	}

	var rsp transport.Responder = discard{}
	if msg.Reply != "" {
		rsp = &responder{face: f, reply: msg.Reply, name: req.Name}
	}

	select {
	case f.deliverCh <- func() { h(req, rsp) }:
	case <-f.done:
	default:
		f.logger.Warn("delivery queue full, dropping request", "name", req.Name.String())
	}
}

func (f *Face) decodeRequest(msg *nats.Msg) (transport.Request, error) {
	var (
		n   name.Name
		err error
	)
	if uri := msg.Header.Get(HeaderName); uri != "" {
		n, err = name.Parse(uri)
	} else {
		n, err = name.ParseSubject(f.root, msg.Subject)
	}
	if err != nil {
		return transport.Request{}, err
	}

	req := transport.Request{
		Name:        n,
		Selector:    transport.ParseSelector(msg.Header.Get(HeaderSelector)),
		MustBeFresh: msg.Header.Get(HeaderMustBeFresh) == "1",
	}
	if d, ok := timestamp.DecodeDuration(msg.Header.Get(HeaderLifetime)); ok && d > 0 {
		req.Lifetime = d
	}
	return req, nil
}

func (f *Face) requestMsg(req transport.Request) *nats.Msg {
	msg := nats.NewMsg(req.Name.Subject(f.root))
	msg.Header.Set(HeaderName, req.Name.String())
	if req.Selector != transport.SelectNone {
		msg.Header.Set(HeaderSelector, req.Selector.String())
	}
	if req.MustBeFresh {
		msg.Header.Set(HeaderMustBeFresh, "1")
	}
	msg.Header.Set(HeaderLifetime, timestamp.EncodeDuration(req.LifetimeOrDefault()))
	return msg
}

// Express implements transport.Face. Replies from any responder but the
// first are ignored, as are stale packets when req.MustBeFresh is set.
func (f *Face) Express(ctx context.Context, req transport.Request) ([]transport.Packet, error) {
	if f.isClosed() {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "natsface.Face", "Express", "express "+req.Name.String())
	}

	// The inbox callback blocks until Express takes the reply or returns,
	// so a response of any length arrives whole.
	finished := make(chan struct{})
	replies := make(chan *nats.Msg, 64)
	inbox := f.conn.NewInbox()
	sub, err := f.conn.Subscribe(inbox, func(msg *nats.Msg) {
		select {
		case replies <- msg:
		case <-finished:
		}
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsface.Face", "Express", "subscribe inbox")
	}
	defer func() {
		close(finished)
		_ = f.conn.Unsubscribe(sub)
	}()

	msg := f.requestMsg(req)
	msg.Reply = inbox
	if err := f.conn.PublishMsg(msg); err != nil {
		return nil, errors.WrapTransient(err, "natsface.Face", "Express", "publish request")
	}

	lifetime := req.LifetimeOrDefault()
	timer := time.NewTimer(lifetime)
	defer timer.Stop()

	var (
		responder string
		packets   []transport.Packet
	)
	for {
		select {
		case reply := <-replies:
			from := reply.Header.Get(HeaderResponder)
			if responder == "" {
				responder = from
			} else if from != responder {
				continue
			}

			p, sent := decodePacket(reply)
			if req.MustBeFresh && stale(p, sent, time.Now()) {
				f.logger.Debug("discarding stale packet", "name", p.Name.String())
				continue
			}
			packets = append(packets, p)
			if p.Final {
				return packets, nil
			}
		case <-timer.C:
			return nil, errors.WrapTransient(
				fmt.Errorf("%w: %s after %s", errors.ErrFetchTimeout, req.Name, lifetime),
				"natsface.Face", "Express", "await response")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// stale reports whether p outlived its freshness between sending and now.
// Packets without freshness never go stale.
func stale(p transport.Packet, sent, now time.Time) bool {
	return timestamp.Expired(timestamp.ToUnixMs(sent), p.Freshness, timestamp.ToUnixMs(now))
}

func decodePacket(msg *nats.Msg) (transport.Packet, time.Time) {
	p := transport.Packet{
		Final:   msg.Header.Get(HeaderFinal) == "1",
		Payload: msg.Data,
	}
	if n, err := name.Parse(msg.Header.Get(HeaderName)); err == nil {
		p.Name = n
	}
	if d, ok := timestamp.DecodeDuration(msg.Header.Get(HeaderFreshness)); ok {
		p.Freshness = d
	}
	var sent time.Time
	if ms, ok := timestamp.Decode(msg.Header.Get(HeaderSent)); ok {
		sent = timestamp.FromUnixMs(ms)
	}
	return p, sent
}

// Notify implements transport.Face.
func (f *Face) Notify(_ context.Context, req transport.Request) error {
	if f.isClosed() {
		return errors.WrapTransient(errors.ErrNoConnection, "natsface.Face", "Notify", "notify "+req.Name.String())
	}
	if err := f.conn.PublishMsg(f.requestMsg(req)); err != nil {
		return errors.WrapTransient(err, "natsface.Face", "Notify", "publish notification")
	}
	return nil
}

// SetResponseFreshness implements transport.Face.
func (f *Face) SetResponseFreshness(d time.Duration) {
	f.mu.Lock()
	f.freshness = d
	f.mu.Unlock()
}

func (f *Face) responseFreshness() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freshness
}

// Close unsubscribes every registration and stops delivery. The connection
// itself belongs to the caller.
func (f *Face) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	regs := f.regs
	f.regs = make(map[transport.RegistrationID][]*nats.Subscription)
	f.mu.Unlock()

	for _, subs := range regs {
		for _, sub := range subs {
			_ = f.conn.Unsubscribe(sub)
		}
	}
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// responder answers one request. Only the first Send goes out.
type responder struct {
	face  *Face
	reply string
	name  name.Name
	sent  atomic.Bool
}

func (r *responder) Send(packets ...transport.Packet) error {
	if !r.sent.CompareAndSwap(false, true) {
		return nil
	}

	fresh := r.face.responseFreshness()
	now := timestamp.Encode(timestamp.Now())
	for _, p := range packets {
		if p.Freshness == 0 {
			p.Freshness = fresh
		}
		msg := nats.NewMsg(r.reply)
		msg.Header.Set(HeaderName, p.Name.String())
		msg.Header.Set(HeaderResponder, r.face.id)
		msg.Header.Set(HeaderSent, now)
		msg.Header.Set(HeaderFreshness, timestamp.EncodeDuration(p.Freshness))
		if p.Final {
			msg.Header.Set(HeaderFinal, "1")
		}
		msg.Data = p.Payload

		if err := r.face.conn.PublishMsg(msg); err != nil {
			return errors.WrapTransient(
				fmt.Errorf("%w: %s: %v", errors.ErrSendFailed, r.name, err),
				"natsface.responder", "Send", "publish response")
		}
	}
	return nil
}

type discard struct{}

func (discard) Send(...transport.Packet) error { return nil }
