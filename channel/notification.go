package channel

import (
	"context"
	"fmt"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/future"
	"github.com/c360/semchannels/transport"
)

const (
	dataComponent   = "data"
	updateComponent = "update"
)

// NotificationChannel is the single-publisher strategy. The publisher answers
// requests under <name>/data and announces every new id with a response-less
// request on <name>/update/<id>; subscribers fetch each announced id.
type NotificationChannel[T any] struct {
	*core[T]
	dataName   name.Name
	updateName name.Name
	data       *responder[T]
}

func newNotificationChannel[T any](e env, uri string, n name.Name, settings Settings, codec Codec[T]) (*NotificationChannel[T], error) {
	c, err := newCore(e, uri, n, settings, codec)
	if err != nil {
		return nil, err
	}
	ch := &NotificationChannel[T]{
		core:       c,
		dataName:   n.AppendString(dataComponent),
		updateName: n.AppendString(updateComponent),
	}
	ch.data = c.responder(ch.dataName, nil)
	return ch, nil
}

// Open registers <name>. Data requests are answered once the channel
// publishes; update notifications are followed once it subscribes.
func (c *NotificationChannel[T]) Open(ctx context.Context) (*future.Future[struct{}], error) {
	if err := c.life.BeginOpen(); err != nil {
		return nil, err
	}

	f, p := future.New[struct{}]()
	go func() {
		reg, err := c.face.Register(ctx, c.name, c.handle)
		if err != nil {
			c.life.FailOpen()
			c.logger.Warn("prefix registration failed", "error", err)
			p.Reject(errors.WrapTransient(err, "NotificationChannel", "Open", "register "+c.uri))
			return
		}
		release := func() {
			if err := c.face.Unregister(reg); err != nil {
				c.logger.Warn("failed to unregister prefix", "error", err)
			}
		}
		if err := c.markOpen(release); err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(struct{}{})
	}()
	return f, nil
}

func (c *NotificationChannel[T]) handle(req transport.Request, rsp transport.Responder) {
	if len(req.Name) <= len(c.name) {
		return
	}
	switch string(req.Name[len(c.name)]) {
	case dataComponent:
		if c.publishing.Load() {
			c.data.handle(req, rsp)
		}
	case updateComponent:
		if c.subscribing.Load() {
			c.onUpdate(req)
		}
	}
}

// onUpdate starts the fetch for an announced id; delivery follows
// announcement order.
func (c *NotificationChannel[T]) onUpdate(req transport.Request) {
	if len(req.Name) != len(c.updateName)+1 {
		c.logger.Debug("ignoring malformed update", "name", req.Name.String())
		return
	}
	id, err := req.Name.Get(-1).NumberWithMarker(name.MarkerSequence)
	if err != nil {
		c.logger.Debug("ignoring malformed update", "name", req.Name.String(), "error", err)
		return
	}

	result := c.fetchAsync(context.Background(), c.request(c.dataName.AppendNumber(id, name.MarkerSequence), transport.SelectNone))
	c.enqueue(delivery[T]{result: result, id: id})
}

// Publish stores msg under the next sequence id and announces it. The
// message stays retrievable even if the announcement fails.
func (c *NotificationChannel[T]) Publish(msg T) error {
	if err := c.life.RequireOpen("Publish"); err != nil {
		return err
	}
	id, err := c.insert(msg)
	if err != nil {
		return err
	}

	update := transport.Request{
		Name:        c.updateName.AppendNumber(id, name.MarkerSequence),
		MustBeFresh: true,
		Lifetime:    updateLifetime,
	}
	if err := c.face.Notify(context.Background(), update); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrSendFailed, err),
			"NotificationChannel", "Publish", fmt.Sprintf("announce id %d", id))
	}
	c.logger.Debug("published", "id", id)
	return nil
}

// Subscribe adds fn to the callbacks run for every announced message.
func (c *NotificationChannel[T]) Subscribe(fn func(T)) error {
	if err := c.life.RequireOpen("Subscribe"); err != nil {
		return err
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "NotificationChannel", "Subscribe", "check callback")
	}
	c.subscribe(fn)
	return nil
}

// Latest fetches the newest message with a rightmost request.
func (c *NotificationChannel[T]) Latest(ctx context.Context) (*future.Future[T], error) {
	if err := c.life.RequireOpen("Latest"); err != nil {
		return nil, err
	}
	return c.fetchAsync(ctx, c.request(c.dataName, transport.SelectRightmost)), nil
}

// Earliest fetches the oldest retained message with a leftmost request.
func (c *NotificationChannel[T]) Earliest(ctx context.Context) (*future.Future[T], error) {
	if err := c.life.RequireOpen("Earliest"); err != nil {
		return nil, err
	}
	return c.fetchAsync(ctx, c.request(c.dataName, transport.SelectLeftmost)), nil
}

// Get fetches the message published under id.
func (c *NotificationChannel[T]) Get(ctx context.Context, id uint64) (*future.Future[T], error) {
	if err := c.life.RequireOpen("Get"); err != nil {
		return nil, err
	}
	return c.fetchAsync(ctx, c.request(c.dataName.AppendNumber(id, name.MarkerSequence), transport.SelectNone)), nil
}

// OnLatest installs producer for rightmost requests and starts publishing.
func (c *NotificationChannel[T]) OnLatest(producer func() (T, error)) error {
	if err := c.life.RequireOpen("OnLatest"); err != nil {
		return err
	}
	if producer == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, "NotificationChannel", "OnLatest", "check producer")
	}
	c.setProducer(producer)
	return nil
}

// Close deregisters now, or once every retained message has expired.
func (c *NotificationChannel[T]) Close() error {
	return c.close()
}
