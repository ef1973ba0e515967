package channel

import (
	"fmt"
	"sync"

	"github.com/c360/semchannels/errors"
)

// State is a channel lifecycle state.
type State int

// Lifecycle states. Opening covers the wait for prefix registration.
const (
	StateUnopened State = iota
	StateOpening
	StateOpen
	StateCloseScheduled
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateCloseScheduled:
		return "close-scheduled"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Lifecycle is the state machine shared by both channel strategies:
//
//	Unopened -> Opening -> Open -> CloseScheduled -> Closed
//	                  \-> Unopened (registration failed)
//	                        Open -> Closed (nothing retained)
//
// A closed lifecycle is terminal.
type Lifecycle struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// BeginOpen moves Unopened to Opening.
func (l *Lifecycle) BeginOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateUnopened {
		return l.errorFor(l.state, "Open")
	}
	l.state = StateOpening
	return nil
}

// CompleteOpen moves Opening to Open. It fails if the channel was closed
// while registering.
func (l *Lifecycle) CompleteOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOpening {
		return l.errorFor(l.state, "Open")
	}
	l.state = StateOpen
	return nil
}

// FailOpen returns Opening to Unopened so the caller may retry.
func (l *Lifecycle) FailOpen() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateOpening {
		l.state = StateUnopened
	}
}

// Close leaves Open. With retained state the channel becomes CloseScheduled
// and CompleteClose must follow; otherwise it is Closed at once. The returned
// state is the new one.
func (l *Lifecycle) Close(retained bool) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOpen {
		return l.state, l.errorFor(l.state, "Close")
	}
	if retained {
		l.state = StateCloseScheduled
	} else {
		l.state = StateClosed
	}
	return l.state, nil
}

// CompleteClose finishes a scheduled close. It reports whether the state changed.
func (l *Lifecycle) CompleteClose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateClosed {
		return false
	}
	l.state = StateClosed
	return true
}

// RequireOpen returns the lifecycle error for op unless the channel is open.
func (l *Lifecycle) RequireOpen(op string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateOpen {
		return nil
	}
	return l.errorFor(l.state, op)
}

func (l *Lifecycle) errorFor(s State, op string) error {
	var sentinel error
	switch s {
	case StateOpen:
		sentinel = errors.ErrAlreadyOpen
	case StateOpening:
		if op == "Open" {
			sentinel = errors.ErrAlreadyOpen
		} else {
			sentinel = errors.ErrNotOpen
		}
	case StateCloseScheduled:
		sentinel = errors.ErrCloseScheduled
	case StateClosed:
		sentinel = errors.ErrChannelClosed
	default:
		sentinel = errors.ErrNotOpen
	}
	return errors.WrapInvalid(sentinel, "Channel", op, "check lifecycle state "+s.String())
}
