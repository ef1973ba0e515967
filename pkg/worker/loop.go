package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Task is a unit of work executed on an EventLoop.
type Task func()

// EventLoop runs tasks on a small fixed set of goroutines and schedules
// delayed tasks. Every channel on a node shares one loop, so tasks must not
// block for long. A panicking task is logged and does not stop the loop.
type EventLoop struct {
	pool   *Pool[Task]
	logger *slog.Logger

	mu      sync.Mutex
	timers  map[uint64]*time.Timer
	nextID  uint64
	stopped bool

	scheduled int64
	fired     int64
	cancelled int64
}

// LoopOption configures an EventLoop.
type LoopOption func(*loopConfig)

type loopConfig struct {
	workers   int
	queueSize int
	logger    *slog.Logger
	poolOpts  []Option[Task]
}

// WithLoopWorkers sets the number of goroutines executing tasks.
func WithLoopWorkers(n int) LoopOption {
	return func(c *loopConfig) { c.workers = n }
}

// WithLoopQueueSize sets how many tasks may be pending before Submit fails.
func WithLoopQueueSize(n int) LoopOption {
	return func(c *loopConfig) { c.queueSize = n }
}

// WithLoopLogger sets the logger used for recovered panics.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(c *loopConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoopPoolOptions forwards options to the underlying pool, e.g. metrics.
func WithLoopPoolOptions(opts ...Option[Task]) LoopOption {
	return func(c *loopConfig) { c.poolOpts = append(c.poolOpts, opts...) }
}

// NewEventLoop creates a loop. Defaults: 4 workers, 4096 queued tasks.
func NewEventLoop(opts ...LoopOption) *EventLoop {
	cfg := loopConfig{workers: 4, queueSize: 4096, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	poolOpts := append([]Option[Task]{WithLogger[Task](cfg.logger)}, cfg.poolOpts...)
	return &EventLoop{
		pool: NewPool(cfg.workers, cfg.queueSize, func(_ context.Context, t Task) error {
			t()
			return nil
		}, poolOpts...),
		logger: cfg.logger,
		timers: make(map[uint64]*time.Timer),
	}
}

// Start launches the loop goroutines. They exit when ctx is cancelled or Stop is called.
func (l *EventLoop) Start(ctx context.Context) error {
	return l.pool.Start(ctx)
}

// Submit queues task for execution as soon as a goroutine is free.
func (l *EventLoop) Submit(task Task) error {
	return l.pool.Submit(task)
}

// Schedule queues task after delay. The returned function cancels the task
// if it has not fired yet and reports whether it did so.
func (l *EventLoop) Schedule(delay time.Duration, task Task) (cancel func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return func() bool { return false }
	}

	id := l.nextID
	l.nextID++
	atomic.AddInt64(&l.scheduled, 1)

	l.timers[id] = time.AfterFunc(delay, func() {
		l.mu.Lock()
		_, live := l.timers[id]
		delete(l.timers, id)
		l.mu.Unlock()
		if !live {
			return
		}

		atomic.AddInt64(&l.fired, 1)
		if err := l.pool.Submit(task); err != nil {
			l.logger.Warn("scheduled task dropped", "error", err)
		}
	})

	return func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		t, ok := l.timers[id]
		if !ok {
			return false
		}
		delete(l.timers, id)
		t.Stop()
		atomic.AddInt64(&l.cancelled, 1)
		return true
	}
}

// Go runs task on the loop and blocks until it finishes or ctx is done.
// Used where a caller needs the loop's ordering but a synchronous result.
func (l *EventLoop) Go(ctx context.Context, task Task) error {
	done := make(chan struct{})
	err := l.Submit(func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("loop task panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		task()
	})
	if err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels pending scheduled tasks and drains the queue.
func (l *EventLoop) Stop(timeout time.Duration) error {
	l.mu.Lock()
	l.stopped = true
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
	}
	l.mu.Unlock()

	return l.pool.Stop(timeout)
}

// LoopStats reports EventLoop activity.
type LoopStats struct {
	Pool      PoolStats `json:"pool"`
	Pending   int       `json:"pending"`
	Scheduled int64     `json:"scheduled"`
	Fired     int64     `json:"fired"`
	Cancelled int64     `json:"cancelled"`
}

// Stats returns a snapshot of loop statistics.
func (l *EventLoop) Stats() LoopStats {
	l.mu.Lock()
	pending := len(l.timers)
	l.mu.Unlock()

	return LoopStats{
		Pool:      l.pool.Stats(),
		Pending:   pending,
		Scheduled: atomic.LoadInt64(&l.scheduled),
		Fired:     atomic.LoadInt64(&l.fired),
		Cancelled: atomic.LoadInt64(&l.cancelled),
	}
}
