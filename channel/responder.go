package channel

import (
	"log/slog"
	"time"

	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/cache"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/segment"
	"github.com/c360/semchannels/transport"
)

// retained is a cached message with its serialized form.
type retained[T any] struct {
	value T
	data  []byte
}

// responder answers data requests from a channel's retention cache.
//
// A request resolves to one sequence id, in order: an explicit sequence
// component; a rightmost request when an onLatest producer yields a value;
// the newest retained id for rightmost; the oldest for leftmost. Anything else,
// and any id no longer retained, is dropped without a response.
type responder[T any] struct {
	channel   string
	prefix    name.Name
	cache     *cache.Retention[retained[T]]
	loop      *worker.EventLoop
	chunkSize int
	freshness time.Duration
	observer  RequestObserver
	logger    *slog.Logger

	// produce runs the onLatest producer and returns the id it was stored
	// under; ok is false when there is no producer or it failed.
	produce func() (id uint64, ok bool)

	// publisher, when set, restricts answers to requests naming this
	// publisher or none.
	publisher *uint64
}

// handle runs on the transport delivery goroutine and only queues work.
func (r *responder[T]) handle(req transport.Request, rsp transport.Responder) {
	if err := r.loop.Submit(func() { r.serve(req, rsp) }); err != nil {
		r.logger.Warn("dropping request", "name", req.Name.String(), "error", err)
	}
}

func (r *responder[T]) serve(req transport.Request, rsp transport.Responder) {
	id, kind, ok := r.resolve(req)
	if !ok {
		r.logger.Debug("dropping unresolvable request", "name", req.Name.String(), "selector", req.Selector.String())
		return
	}
	if r.observer != nil {
		r.observer.MessageRequested(r.channel, id, kind)
	}

	entry, found := r.cache.Get(id)
	if !found {
		r.logger.Debug("dropping request for message not retained", "name", req.Name.String(), "id", id)
		return
	}

	base := r.prefix.AppendNumber(id, name.MarkerSequence)
	if r.publisher != nil {
		base = base.AppendNumber(*r.publisher, name.MarkerPublisher)
	}
	packets := segment.Encode(entry.data, transport.Packet{Name: base, Freshness: r.freshness}, r.chunkSize)
	if err := rsp.Send(packets...); err != nil {
		r.logger.Error("failed to send message", "name", base.String(), "error", err)
		return
	}

	r.logger.Debug("sent message", "name", base.String(), "segments", len(packets))
	if r.observer != nil {
		r.observer.MessageSent(r.channel, id, len(entry.data))
	}
}

func (r *responder[T]) resolve(req transport.Request) (uint64, RequestKind, bool) {
	if !r.prefix.IsPrefixOf(req.Name) {
		return 0, "", false
	}
	suffix := req.Name[len(r.prefix):]

	if r.publisher != nil {
		for _, c := range suffix {
			if p, err := c.NumberWithMarker(name.MarkerPublisher); err == nil && p != *r.publisher {
				return 0, "", false
			}
		}
	}

	for _, c := range suffix {
		if id, err := c.NumberWithMarker(name.MarkerSequence); err == nil {
			return id, RequestExplicit, true
		}
	}

	if req.Selector == transport.SelectRightmost && r.produce != nil {
		if id, ok := r.produce(); ok {
			return id, RequestProduced, true
		}
	}

	switch req.Selector {
	case transport.SelectRightmost:
		id, ok := r.cache.Latest()
		return id, RequestLatest, ok
	case transport.SelectLeftmost:
		id, ok := r.cache.Earliest()
		return id, RequestEarliest, ok
	default:
		return 0, "", false
	}
}
