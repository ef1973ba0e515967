package segment

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/transport"
)

func template() transport.Packet {
	return transport.Packet{
		Name:      name.MustParse("/ch/data").AppendNumber(5, name.MarkerSequence),
		Freshness: time.Second,
	}
}

func payloadOf(size int) []byte {
	b := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(b)
	return b
}

func TestRoundTrip(t *testing.T) {
	const chunk = 64
	tests := []struct {
		name     string
		size     int
		segments int
	}{
		{"empty", 0, 1},
		{"one byte", 1, 1},
		{"chunk minus one", chunk - 1, 1},
		{"exactly one chunk", chunk, 1},
		{"chunk plus one", chunk + 1, 2},
		{"multiple chunks", chunk*3 + 7, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := payloadOf(tt.size)
			packets := Encode(payload, template(), chunk)
			require.Len(t, packets, tt.segments)

			for i, p := range packets {
				assert.Equal(t, i == len(packets)-1, p.Final)
				assert.Equal(t, time.Second, p.Freshness)
				idx, err := p.Name.Get(-1).NumberWithMarker(name.MarkerSegment)
				require.NoError(t, err)
				assert.Equal(t, uint64(i), idx)
				assert.True(t, template().Name.Equal(BaseName(p)))
			}

			decoded, err := Decode(packets)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, decoded))
		})
	}
}

func TestDefaultChunkSize(t *testing.T) {
	packets := Encode(payloadOf(DefaultChunkSize+1), template(), 0)
	assert.Len(t, packets, 2)
	assert.Len(t, packets[0].Payload, DefaultChunkSize)
}

func TestDecode_OutOfOrder(t *testing.T) {
	payload := payloadOf(300)
	packets := Encode(payload, template(), 100)
	packets[0], packets[2] = packets[2], packets[0]

	decoded, err := Decode(packets)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecode_Failures(t *testing.T) {
	packets := Encode(payloadOf(300), template(), 100)

	tests := []struct {
		name    string
		packets []transport.Packet
	}{
		{"no packets", nil},
		{"missing middle segment", []transport.Packet{packets[0], packets[2]}},
		{"missing final segment", packets[:2]},
		{"duplicate segment", []transport.Packet{packets[0], packets[0], packets[1], packets[2]}},
		{"no segment index", []transport.Packet{{Name: name.MustParse("/ch/data"), Final: true}}},
		{"foreign segment", []transport.Packet{
			packets[0],
			{Name: name.MustParse("/other").AppendNumber(1, name.MarkerSegment), Payload: []byte("x")},
			packets[2],
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.packets)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrDecodeFailed)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestEncode_CopiesPayload(t *testing.T) {
	payload := []byte("hello")
	packets := Encode(payload, template(), 10)
	payload[0] = 'j'
	assert.Equal(t, "hello", string(packets[0].Payload))
}
