// Package future provides a small generic future/promise pair for
// asynchronous channel operations. Producers complete a Promise exactly once;
// consumers wait on the Future with a context or select on Done.
package future

import (
	"context"
	"sync"
)

// Future is the read side of an asynchronous result.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// Promise is the write side of a Future. Only the first completion wins.
type Promise[T any] struct {
	f *Future[T]
}

// New returns a pending future and the promise that completes it.
func New[T any]() (*Future[T], Promise[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, Promise[T]{f: f}
}

// Resolve completes the future with v. It reports whether this call completed it.
func (p Promise[T]) Resolve(v T) bool {
	return p.complete(v, nil)
}

// Reject completes the future with err. It reports whether this call completed it.
func (p Promise[T]) Reject(err error) bool {
	var zero T
	return p.complete(zero, err)
}

// Complete resolves or rejects depending on err.
func (p Promise[T]) Complete(v T, err error) bool {
	return p.complete(v, err)
}

func (p Promise[T]) complete(v T, err error) bool {
	completed := false
	p.f.once.Do(func() {
		p.f.value = v
		p.f.err = err
		close(p.f.done)
		completed = true
	})
	return completed
}

// Done is closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ready reports whether the future has completed.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err returns the failure of a completed future, or nil while pending.
func (f *Future[T]) Err() error {
	if !f.Ready() {
		return nil
	}
	return f.err
}
