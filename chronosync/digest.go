package chronosync

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/c360/semchannels/errors"
)

// Digest summarizes a state vector.
type Digest [sha256.Size]byte

// EmptyDigest is the digest of a vector with no publishers.
var EmptyDigest = DigestOf(nil)

// DigestOf hashes states ordered by publisher, so every peer holding the same
// vector computes the same digest.
func DigestOf(states map[uint64]uint64) Digest {
	publishers := make([]uint64, 0, len(states))
	for p := range states {
		publishers = append(publishers, p)
	}
	sort.Slice(publishers, func(i, j int) bool { return publishers[i] < publishers[j] })

	h := sha256.New()
	for _, p := range publishers {
		h.Write(State{Publisher: p, Sequence: states[p]}.Bytes())
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Hex returns the lower-case hex form used in sync request names.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer with a shortened form for logs.
func (d Digest) String() string {
	return d.Hex()[:12]
}

// ParseDigest is the inverse of Hex.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(d) {
		return d, errors.WrapInvalid(
			fmt.Errorf("%w: digest %q", errors.ErrMalformedName, s),
			"chronosync", "ParseDigest", "decode digest")
	}
	copy(d[:], b)
	return d, nil
}
