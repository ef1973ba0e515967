package chronosync

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
)

func TestStateWireForm(t *testing.T) {
	s := State{Publisher: 0x0102030405060708, Sequence: 9}
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 0, 0, 0, 0, 0, 0, 0, 9}, s.Bytes())

	states := []State{s, {Publisher: 42, Sequence: 0}, {Publisher: ^uint64(0), Sequence: ^uint64(0)}}
	decoded, err := DecodeStates(EncodeStates(states))
	require.NoError(t, err)
	assert.Equal(t, states, decoded)

	empty, err := DecodeStates(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeStatesRejectsPartialState(t *testing.T) {
	_, err := DecodeStates(make([]byte, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDecodeFailed)
	assert.True(t, errors.IsInvalid(err))
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest(sha256.Sum256(nil)), EmptyDigest)

	a := DigestOf(map[uint64]uint64{1: 5, 2: 7})
	b := DigestOf(map[uint64]uint64{2: 7, 1: 5})
	c := DigestOf(map[uint64]uint64{1: 5, 2: 8})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	parsed, err := ParseDigest(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Len(t, a.String(), 12)

	for _, bad := range []string{"", "zz", a.Hex()[:10]} {
		_, err := ParseDigest(bad)
		assert.Error(t, err, bad)
	}
}
