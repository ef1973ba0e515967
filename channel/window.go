package channel

import "sync"

// Window tracks the earliest and latest sequence ids a publisher has
// produced. Latest grows by exactly one per Advance; Earliest never
// decreases.
type Window struct {
	mu       sync.Mutex
	earliest uint64
	latest   uint64
	started  bool
}

// Advance allocates the next sequence id. The first call returns 0.
func (w *Window) Advance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		w.started = true
		w.earliest, w.latest = 0, 0
		return 0
	}
	w.latest++
	return w.latest
}

// Raise moves Earliest up to id. Lower ids are ignored.
func (w *Window) Raise(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started && id > w.earliest && id <= w.latest {
		w.earliest = id
	}
}

// Snapshot returns the current bounds; ok is false before the first Advance.
func (w *Window) Snapshot() (earliest, latest uint64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.earliest, w.latest, w.started
}
