// Package worker provides the execution substrate shared by every channel on
// a node: a generic bounded worker pool and an event loop built on top of it.
//
// # Worker Pool
//
// Pool[T] runs a fixed number of goroutines over a bounded queue. Submit never
// blocks; a full queue returns ErrQueueFull so callers can shed load.
// Statistics are always tracked with atomics, Prometheus metrics are opt-in:
//
//	registry := metric.NewMetricsRegistry()
//	pool := worker.NewPool[Job](
//	    10, 1000, processJob,
//	    worker.WithMetricsRegistry[Job](registry, "job_processor"),
//	)
//
// A processor that panics is recovered; the work item counts as failed and the
// worker keeps running.
//
// # Event Loop
//
// EventLoop is a Pool[Task] plus a timer table. Channels use it for three
// things: sending responses without blocking the transport delivery goroutine,
// invoking subscriber callbacks, and deferred work such as a scheduled close
// or a delayed sync reply.
//
//	loop := worker.NewEventLoop(worker.WithLoopWorkers(4))
//	_ = loop.Start(ctx)
//	defer loop.Stop(5 * time.Second)
//
//	cancel := loop.Schedule(500*time.Millisecond, func() { ch.doClose() })
//	if reopened {
//	    cancel()
//	}
//
// Stop cancels every pending scheduled task before draining the queue.
//
// # Errors
//
// Both types return plain sentinel errors (ErrQueueFull, ErrPoolStopped, ...)
// without wrapping, so callers compare them with errors.Is.
package worker
