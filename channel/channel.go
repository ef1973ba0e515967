package channel

import (
	"context"
	"time"

	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/future"
)

// Channel is the handle node code uses to publish to and subscribe on one
// named channel. Both strategies implement it.
//
// Lifecycle errors are returned synchronously. Transport failures surface
// through the returned futures.
type Channel[T any] interface {
	Name() name.Name
	URI() string

	// Open registers the channel prefix. The future resolves once the
	// transport confirms the registration.
	Open(ctx context.Context) (*future.Future[struct{}], error)

	// Close stops the channel. With messages still retained the channel keeps
	// answering until the last one expires, in state StateCloseScheduled.
	Close() error

	Publish(msg T) error
	Subscribe(fn func(T)) error
	Latest(ctx context.Context) (*future.Future[T], error)
	Earliest(ctx context.Context) (*future.Future[T], error)

	// OnLatest installs a producer invoked for rightmost requests; its value
	// is published under the next sequence id before being returned.
	OnLatest(producer func() (T, error)) error

	IsOpen() bool
	IsPublishing() bool
	IsSubscribing() bool
	State() State
	Retention() time.Duration
	RetrievalTimeout() time.Duration
	Stats() Stats
}

var (
	_ Channel[string] = (*NotificationChannel[string])(nil)
	_ Channel[string] = (*SyncChannel[string])(nil)
)
