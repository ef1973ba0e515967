// Package memory is an in-process transport. Faces attached to the same Hub
// see each other's registrations, which makes it the transport of choice for
// protocol tests and single-process deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/transport"
)

// deliveryQueue bounds undelivered requests per face.
const deliveryQueue = 1024

// Hub routes requests between faces.
type Hub struct {
	mu     sync.RWMutex
	regs   map[transport.RegistrationID]*registration
	nextID transport.RegistrationID
	reject func(prefix name.Name) bool
	logger *slog.Logger
}

type registration struct {
	id      transport.RegistrationID
	face    *Face
	prefix  name.Name
	handler transport.Handler
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		regs:   make(map[transport.RegistrationID]*registration),
		logger: slog.Default().With("component", "memory-hub"),
	}
}

// RejectRegistrations makes every later Register whose prefix satisfies fn
// fail with errors.ErrRegistrationFailed. A nil fn accepts everything again.
func (h *Hub) RejectRegistrations(fn func(prefix name.Name) bool) {
	h.mu.Lock()
	h.reject = fn
	h.mu.Unlock()
}

// Registrations returns the number of live registrations across all faces.
func (h *Hub) Registrations() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.regs)
}

// Registered reports whether some face currently has prefix registered.
func (h *Hub) Registered(prefix name.Name) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.regs {
		if r.prefix.Equal(prefix) {
			return true
		}
	}
	return false
}

func (h *Hub) matching(n name.Name) []*registration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*registration
	for _, r := range h.regs {
		if r.prefix.IsPrefixOf(n) {
			out = append(out, r)
		}
	}
	return out
}

// Face is one endpoint on a Hub. Requests reach a face's handlers in the order
// they were sent, on a single delivery goroutine.
type Face struct {
	hub       *Hub
	deliverCh chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	regs      map[transport.RegistrationID]struct{}
	freshness time.Duration
	closed    bool
}

// NewFace attaches a new face to the hub.
func (h *Hub) NewFace() *Face {
	f := &Face{
		hub:       h,
		deliverCh: make(chan func(), deliveryQueue),
		done:      make(chan struct{}),
		regs:      make(map[transport.RegistrationID]struct{}),
	}
	go f.deliverLoop()
	return f
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

func (f *Face) enqueue(fn func()) {
	select {
	case f.deliverCh <- fn:
	case <-f.done:
	default:
		f.hub.logger.Warn("delivery queue full, dropping request")
	}
}

// Register implements transport.Face.
func (f *Face) Register(_ context.Context, prefix name.Name, h transport.Handler) (transport.RegistrationID, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return 0, errors.WrapTransient(errors.ErrNoConnection, "memory.Face", "Register", "register "+prefix.String())
	}

	f.hub.mu.Lock()
	if f.hub.reject != nil && f.hub.reject(prefix) {
		f.hub.mu.Unlock()
		return 0, errors.WrapTransient(
			fmt.Errorf("%w: %s rejected", errors.ErrRegistrationFailed, prefix),
			"memory.Face", "Register", "register prefix")
	}
	f.hub.nextID++
	id := f.hub.nextID
	f.hub.regs[id] = &registration{id: id, face: f, prefix: prefix, handler: h}
	f.hub.mu.Unlock()

	f.mu.Lock()
	f.regs[id] = struct{}{}
	f.mu.Unlock()
	return id, nil
}

// Unregister implements transport.Face.
func (f *Face) Unregister(id transport.RegistrationID) error {
	f.mu.Lock()
	_, ok := f.regs[id]
	delete(f.regs, id)
	f.mu.Unlock()
	if !ok {
		return errors.WrapInvalid(fmt.Errorf("unknown registration %d", id), "memory.Face", "Unregister", "remove registration")
	}

	f.hub.mu.Lock()
	delete(f.hub.regs, id)
	f.hub.mu.Unlock()
	return nil
}

// Express implements transport.Face. Every matching registration sees the
// request; the first Send wins.
func (f *Face) Express(ctx context.Context, req transport.Request) ([]transport.Packet, error) {
	p := &pending{result: make(chan []transport.Packet, 1)}
	f.dispatch(req, p)

	timer := time.NewTimer(req.LifetimeOrDefault())
	defer timer.Stop()

	select {
	case packets := <-p.result:
		return packets, nil
	case <-timer.C:
		p.expire()
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s after %s", errors.ErrFetchTimeout, req.Name, req.LifetimeOrDefault()),
			"memory.Face", "Express", "await response")
	case <-ctx.Done():
		p.expire()
		return nil, ctx.Err()
	}
}

// Notify implements transport.Face.
func (f *Face) Notify(_ context.Context, req transport.Request) error {
	f.dispatch(req, nil)
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

// Close removes every registration of this face and stops delivery.
func (f *Face) Close() error {
	f.mu.Lock()
	f.closed = true
	ids := make([]transport.RegistrationID, 0, len(f.regs))
	for id := range f.regs {
		ids = append(ids, id)
	}
	f.regs = make(map[transport.RegistrationID]struct{})
	f.mu.Unlock()

	f.hub.mu.Lock()
	for _, id := range ids {
		delete(f.hub.regs, id)
	}
	f.hub.mu.Unlock()

	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

// dispatch hands req to every matching registration. A nil pending marks a
// notification.
func (f *Face) dispatch(req transport.Request, p *pending) {
	for _, r := range f.hub.matching(req.Name) {
		var rsp transport.Responder = discard{}
		if p != nil {
			rsp = responder{pending: p, face: r.face}
		}
		handler := r.handler
		r.face.enqueue(func() { handler(req, rsp) })
	}
}

// pending collects the single response to one expressed request.
type pending struct {
	mu     sync.Mutex
	result chan []transport.Packet
	done   bool
}

func (p *pending) expire() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

// responder answers on behalf of one responding face. Packets sent after the
// request was answered or expired are dropped, as a network would.
type responder struct {
	pending *pending
	face    *Face
}

func (r responder) Send(packets ...transport.Packet) error {
	r.pending.mu.Lock()
	defer r.pending.mu.Unlock()
	if r.pending.done {
		return nil
	}
	r.pending.done = true

	fresh := r.face.responseFreshness()
	out := make([]transport.Packet, len(packets))
	for i, p := range packets {
		if p.Freshness == 0 {
			p.Freshness = fresh
		}
		out[i] = p
	}
	r.pending.result <- out
	return nil
}

type discard struct{}

func (discard) Send(...transport.Packet) error { return nil }
