// # Retention
//
// Retention is the per-channel message store. It is keyed by sequence id,
// bounded by entry count with insertion-order eviction, and expires entries
// a fixed retention after insertion:
//
//	r, err := cache.NewRetention[Message](65536, 5*time.Second,
//	    cache.WithMetrics[Message](registry, "retention_chat"))
//	r.Add(id, msg)
//	expired := r.Cleanup()
//	closeAt, bounded := r.EarliestCloseTime()
//
// Cleanup snapshots expired ids under the read lock and removes them under
// the write lock, so readers never observe a half-removed entry.
//
// # TTL and LRU
//
// The string-keyed caches back peer liveness tracking (TTL: a peer is alive
// while its key is refreshed within the ttl) and delivery dedup (LRU).
//
// # Observability
//
// Statistics are always collected. WithMetrics additionally exports
// semchannels_cache_* collectors labelled by component; Close unregisters
// them so a channel reopened under the same name can register again.
package cache
