package chronosync

import (
	"encoding/binary"
	"fmt"

	"github.com/c360/semchannels/errors"
)

// stateSize is the wire size of one State.
const stateSize = 16

// State is one publisher's latest sequence id.
type State struct {
	Publisher uint64
	Sequence  uint64
}

// String implements fmt.Stringer.
func (s State) String() string {
	return fmt.Sprintf("%016x:%d", s.Publisher, s.Sequence)
}

// Bytes returns the 16-byte big-endian wire form (publisher, sequence).
func (s State) Bytes() []byte {
	b := make([]byte, stateSize)
	binary.BigEndian.PutUint64(b[:8], s.Publisher)
	binary.BigEndian.PutUint64(b[8:], s.Sequence)
	return b
}

// EncodeStates concatenates the wire form of every state.
func EncodeStates(states []State) []byte {
	out := make([]byte, 0, len(states)*stateSize)
	for _, s := range states {
		out = append(out, s.Bytes()...)
	}
	return out
}

// DecodeStates parses concatenated states. Trailing bytes that do not form a
// whole state are an error.
func DecodeStates(b []byte) ([]State, error) {
	if len(b)%stateSize != 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %d bytes is not a multiple of %d", errors.ErrDecodeFailed, len(b), stateSize),
			"chronosync", "DecodeStates", "decode state vector")
	}
	states := make([]State, 0, len(b)/stateSize)
	for off := 0; off < len(b); off += stateSize {
		states = append(states, State{
			Publisher: binary.BigEndian.Uint64(b[off : off+8]),
			Sequence:  binary.BigEndian.Uint64(b[off+8 : off+16]),
		})
	}
	return states, nil
}
