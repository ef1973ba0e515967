// Package segment splits serialized messages across response packets and
// reassembles them. Every packet carries the logical name plus a trailing
// segment-index component; the last packet is marked final.
package segment

import (
	"fmt"
	"sort"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/transport"
)

// DefaultChunkSize is the payload carried by each packet when none is configured.
const DefaultChunkSize = 8000

// Encode splits payload into packets cut from tmpl. tmpl.Name is the logical
// name; the returned packets append the segment index to it. A zero-length
// payload yields a single empty final packet.
func Encode(payload []byte, tmpl transport.Packet, chunkSize int) []transport.Packet {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	count := (len(payload) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}

	packets := make([]transport.Packet, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}

		chunk := make([]byte, end-start)
		copy(chunk, payload[start:end])

		packets[i] = transport.Packet{
			Name:      tmpl.Name.AppendNumber(uint64(i), name.MarkerSegment),
			Final:     i == count-1,
			Freshness: tmpl.Freshness,
			Payload:   chunk,
		}
	}
	return packets
}

// Decode reassembles the payload from every segment of one logical name.
// Packets may arrive in any order. A missing, duplicated or foreign segment
// fails with errors.ErrDecodeFailed; nothing is retried here.
func Decode(packets []transport.Packet) ([]byte, error) {
	if len(packets) == 0 {
		return nil, decodeErr("no segments")
	}

	type indexed struct {
		index  uint64
		packet transport.Packet
	}
	segs := make([]indexed, 0, len(packets))
	for _, p := range packets {
		idx, err := p.Name.Get(-1).NumberWithMarker(name.MarkerSegment)
		if err != nil {
			return nil, decodeErr(fmt.Sprintf("packet %s has no segment index", p.Name))
		}
		segs = append(segs, indexed{index: idx, packet: p})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].index < segs[j].index })

	base := segs[0].packet.Name.Prefix(-1)
	size := 0
	for i, s := range segs {
		if s.index != uint64(i) {
			return nil, decodeErr(fmt.Sprintf("expected segment %d of %s, got %d", i, base, s.index))
		}
		if !s.packet.Name.Prefix(-1).Equal(base) {
			return nil, decodeErr(fmt.Sprintf("segment %s does not belong to %s", s.packet.Name, base))
		}
		last := i == len(segs)-1
		if s.packet.Final != last {
			return nil, decodeErr(fmt.Sprintf("final marker misplaced at segment %d of %s", i, base))
		}
		size += len(s.packet.Payload)
	}

	payload := make([]byte, 0, size)
	for _, s := range segs {
		payload = append(payload, s.packet.Payload...)
	}
	return payload, nil
}

// BaseName strips the segment component from a packet name.
func BaseName(p transport.Packet) name.Name {
	if p.Name.Get(-1).HasMarker(name.MarkerSegment) {
		return p.Name.Prefix(-1)
	}
	return p.Name
}

func decodeErr(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrDecodeFailed, msg), "segment", "Decode", "reassemble payload")
}
