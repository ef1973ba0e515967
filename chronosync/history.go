package chronosync

import "sort"

// DefaultHistorySize is the number of past digests remembered.
const DefaultHistorySize = 20

type snapshot struct {
	digest Digest
	states map[uint64]uint64
}

// History holds the current state vector and the vectors behind recent
// digests, so a peer presenting an old digest can be sent only what changed.
// History is not safe for concurrent use.
type History struct {
	current map[uint64]uint64
	digest  Digest
	ring    []snapshot
	max     int
}

// NewHistory creates an empty history remembering up to max digests.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultHistorySize
	}
	h := &History{current: make(map[uint64]uint64), max: max}
	h.record()
	return h
}

// Digest returns the digest of the current vector.
func (h *History) Digest() Digest {
	return h.digest
}

// IsCurrent reports whether d is the current digest.
func (h *History) IsCurrent(d Digest) bool {
	return h.digest == d
}

// IsKnown reports whether d is the current or a remembered digest.
func (h *History) IsKnown(d Digest) bool {
	return d == EmptyDigest || h.find(d) >= 0
}

// Sequence returns the known sequence of publisher.
func (h *History) Sequence(publisher uint64) (uint64, bool) {
	seq, ok := h.current[publisher]
	return seq, ok
}

// Len returns the number of publishers in the current vector.
func (h *History) Len() int {
	return len(h.current)
}

// Add merges states and returns those that advanced the vector. A state
// replaces the stored one only if its sequence is newer.
func (h *History) Add(states ...State) []State {
	var changed []State
	for _, s := range states {
		if seq, ok := h.current[s.Publisher]; ok && seq >= s.Sequence {
			continue
		}
		h.current[s.Publisher] = s.Sequence
		changed = append(changed, s)
	}
	if len(changed) > 0 {
		h.record()
	}
	return changed
}

// Remove drops publisher from the vector.
func (h *History) Remove(publisher uint64) bool {
	if _, ok := h.current[publisher]; !ok {
		return false
	}
	delete(h.current, publisher)
	h.record()
	return true
}

// All returns the current vector ordered by publisher.
func (h *History) All() []State {
	return sortedStates(h.current, nil)
}

// Complement returns the states that differ from the vector behind d. An
// unknown digest yields the whole vector.
func (h *History) Complement(d Digest) []State {
	if d == EmptyDigest {
		return h.All()
	}
	i := h.find(d)
	if i < 0 {
		return h.All()
	}
	return sortedStates(h.current, h.ring[i].states)
}

func (h *History) record() {
	h.digest = DigestOf(h.current)
	if i := h.find(h.digest); i >= 0 {
		h.ring = append(h.ring[:i], h.ring[i+1:]...)
	}

	states := make(map[uint64]uint64, len(h.current))
	for p, s := range h.current {
		states[p] = s
	}
	h.ring = append(h.ring, snapshot{digest: h.digest, states: states})
	if len(h.ring) > h.max {
		h.ring = h.ring[len(h.ring)-h.max:]
	}
}

func (h *History) find(d Digest) int {
	for i := len(h.ring) - 1; i >= 0; i-- {
		if h.ring[i].digest == d {
			return i
		}
	}
	return -1
}

// sortedStates returns the entries of current that are absent from or differ
// in old, ordered by publisher.
func sortedStates(current, old map[uint64]uint64) []State {
	out := make([]State, 0, len(current))
	for p, s := range current {
		if prev, ok := old[p]; ok && prev == s {
			continue
		}
		out = append(out, State{Publisher: p, Sequence: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Publisher < out[j].Publisher })
	return out
}
