package buffer

import (
	"sync"

	"github.com/c360/semchannels/errors"
)

// ring is a mutex-guarded circular buffer.
type ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write
	tail     int // next read
	closed   bool

	stats   *Statistics
	metrics *bufferMetrics
	opts    *bufferOptions[T]
}

func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *bufferMetrics
	if opts.metricsReg != nil {
		var err error
		metrics, err = newBufferMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewCircularBuffer", "metrics registration")
		}
	}

	return &ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
	}, nil
}

func (r *ring[T]) Write(item T) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	var (
		dropped    T
		hasDropped bool
	)
	if r.size == r.capacity {
		r.stats.Overflow()
		r.stats.Drop()
		if r.metrics != nil {
			r.metrics.recordDrop()
		}
		if r.opts.overflowPolicy == DropNewest {
			r.mu.Unlock()
			r.dropped(item)
			return nil
		}
		dropped, hasDropped = r.pop()
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Write()
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.recordWrite(r.size, r.capacity)
	}
	r.mu.Unlock()

	if hasDropped {
		r.dropped(dropped)
	}
	return nil
}

func (r *ring[T]) dropped(item T) {
	if r.opts.dropCallback != nil {
		r.opts.dropCallback(item)
	}
}

// pop must be called with mu held.
func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	return item, true
}

func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.pop()
	if ok {
		r.stats.Read()
		r.stats.UpdateSize(int64(r.size))
		if r.metrics != nil {
			r.metrics.recordRead(r.size, r.capacity)
		}
	}
	return item, ok
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(max, r.size)
	if n == 0 {
		return nil
	}
	out := make([]T, 0, n)
	for range n {
		item, _ := r.pop()
		out = append(out, item)
		r.stats.Read()
	}
	r.stats.UpdateSize(int64(r.size))
	if r.metrics != nil {
		r.metrics.updateSize(r.size, r.capacity)
	}
	return out
}

func (r *ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	r.stats.Peek()
	return r.items[r.tail], true
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return r.capacity
}

func (r *ring[T]) IsFull() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == r.capacity
}

func (r *ring[T]) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size == 0
}

func (r *ring[T]) Clear() {
	r.mu.Lock()
	drained := make([]T, 0, r.size)
	for {
		item, ok := r.pop()
		if !ok {
			break
		}
		drained = append(drained, item)
	}
	r.head, r.tail = 0, 0
	r.stats.UpdateSize(0)
	if r.metrics != nil {
		r.metrics.updateSize(0, r.capacity)
	}
	r.mu.Unlock()

	for _, item := range drained {
		r.dropped(item)
	}
}

func (r *ring[T]) Stats() *Statistics {
	return r.stats
}

// Close rejects further writes. Items already buffered stay readable.
func (r *ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.metrics != nil {
		r.metrics.unregister()
	}
	return nil
}
