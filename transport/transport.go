// Package transport defines the named-data face the channel protocol runs on:
// prefix registration, requests with child selectors, response-less
// notifications and segmented responses.
package transport

import (
	"context"
	"time"

	"github.com/c360/semchannels/name"
)

// Selector asks a responder to choose among several matching names.
type Selector int

const (
	// SelectNone requests an exact name.
	SelectNone Selector = iota
	// SelectLeftmost requests the canonically smallest matching name.
	SelectLeftmost
	// SelectRightmost requests the canonically largest matching name.
	SelectRightmost
)

// String returns the wire form of the selector.
func (s Selector) String() string {
	switch s {
	case SelectLeftmost:
		return "leftmost"
	case SelectRightmost:
		return "rightmost"
	default:
		return "none"
	}
}

// ParseSelector is the inverse of Selector.String; unknown values map to SelectNone.
func ParseSelector(s string) Selector {
	switch s {
	case "leftmost":
		return SelectLeftmost
	case "rightmost":
		return SelectRightmost
	default:
		return SelectNone
	}
}

// Request is a named interest.
type Request struct {
	Name        name.Name
	Selector    Selector
	MustBeFresh bool
	// Lifetime bounds how long the requester waits for a response.
	Lifetime time.Duration
}

// Packet is one named response packet. Segmented responses are sequences of
// packets sharing a base name with the last one marked Final.
type Packet struct {
	Name      name.Name
	Final     bool
	Freshness time.Duration
	Payload   []byte
}

// Responder answers a single request. Send may be called once with every
// segment of the response; later calls are ignored by the requester.
type Responder interface {
	Send(packets ...Packet) error
}

// Handler receives requests and notifications under a registered prefix.
// It runs on the transport's delivery goroutine and must not block.
type Handler func(req Request, rsp Responder)

// RegistrationID identifies a registered prefix.
type RegistrationID uint64

// Face is the collaborator interface the channel layer consumes.
type Face interface {
	// Register starts delivering requests under prefix to h. It returns once
	// the network has confirmed the registration, or with
	// errors.ErrRegistrationFailed.
	Register(ctx context.Context, prefix name.Name, h Handler) (RegistrationID, error)

	// Unregister stops delivery for a registration.
	Unregister(id RegistrationID) error

	// Express sends a request and returns every segment of the first response.
	// It fails with errors.ErrFetchTimeout once req.Lifetime elapses.
	Express(ctx context.Context, req Request) ([]Packet, error)

	// Notify sends a request that expects no response.
	Notify(ctx context.Context, req Request) error

	// SetResponseFreshness sets the freshness stamped on packets sent without one.
	SetResponseFreshness(d time.Duration)

	// Close releases every registration.
	Close() error
}

// DefaultLifetime is used for requests that do not set one.
const DefaultLifetime = 4 * time.Second

// LifetimeOrDefault returns req.Lifetime, or DefaultLifetime when unset.
func (r Request) LifetimeOrDefault() time.Duration {
	if r.Lifetime <= 0 {
		return DefaultLifetime
	}
	return r.Lifetime
}
