// Package buffer provides a bounded, thread-safe circular buffer. Statistics
// are always collected; Prometheus metrics are opt-in via WithMetrics.
//
// Channels use it as the per-channel delivery backlog: fetch results are
// written in announcement order and drained from the head once it completes.
//
//	backlog, err := buffer.NewCircularBuffer[delivery](1024,
//		buffer.WithOverflowPolicy[delivery](buffer.DropNewest),
//		buffer.WithDropCallback(func(d delivery) { log.Warn("backlog full", "id", d.id) }),
//	)
//
//	for {
//		d, ok := backlog.Peek()
//		if !ok || !d.done() {
//			return
//		}
//		backlog.Read()
//		deliver(d)
//	}
//
// # Overflow
//
// DropOldest (the default) evicts the head so the newest item always fits.
// DropNewest keeps the buffered items and discards the one being written.
// Either way Write returns nil and the drop is counted in Stats. The drop
// callback runs outside the buffer lock.
//
// # Closing
//
// Close rejects further writes. Items already buffered stay readable.
package buffer
