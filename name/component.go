package name

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/c360/semchannels/errors"
)

// Marker bytes for number-with-marker components.
const (
	// MarkerSegment tags the trailing segment index of a response packet.
	MarkerSegment byte = 0x00
	// MarkerSequence tags a notification-channel sequence id (the version marker).
	MarkerSequence byte = 0xFD
	// MarkerPublisher tags a synchronized-channel publisher id.
	MarkerPublisher byte = 0x80
	// MarkerMessage tags a synchronized-channel sequence id.
	MarkerMessage byte = 0x81
)

// Component is a single opaque name component.
type Component []byte

// FromString returns a generic component holding the bytes of s.
func FromString(s string) Component {
	return Component(s)
}

// FromNumberWithMarker encodes n as a marker byte followed by the shortest
// big-endian encoding of n in 1, 2, 4 or 8 bytes.
func FromNumberWithMarker(n uint64, marker byte) Component {
	var buf []byte
	switch {
	case n <= 0xFF:
		buf = []byte{marker, byte(n)}
	case n <= 0xFFFF:
		buf = make([]byte, 3)
		buf[0] = marker
		binary.BigEndian.PutUint16(buf[1:], uint16(n))
	case n <= 0xFFFFFFFF:
		buf = make([]byte, 5)
		buf[0] = marker
		binary.BigEndian.PutUint32(buf[1:], uint32(n))
	default:
		buf = make([]byte, 9)
		buf[0] = marker
		binary.BigEndian.PutUint64(buf[1:], n)
	}
	return Component(buf)
}

// HasMarker reports whether c is a well-formed number-with-marker component
// tagged with marker.
func (c Component) HasMarker(marker byte) bool {
	if len(c) == 0 || c[0] != marker {
		return false
	}
	switch len(c) - 1 {
	case 1, 2, 4, 8:
		return true
	default:
		return false
	}
}

// NumberWithMarker decodes a number-with-marker component.
func (c Component) NumberWithMarker(marker byte) (uint64, error) {
	if !c.HasMarker(marker) {
		return 0, errors.WrapInvalid(
			fmt.Errorf("%w: component %s is not tagged 0x%02X", errors.ErrMalformedName, c, marker),
			"Component", "NumberWithMarker", "decode marker number")
	}
	v := c[1:]
	switch len(v) {
	case 1:
		return uint64(v[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(v)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(v)), nil
	default:
		return binary.BigEndian.Uint64(v), nil
	}
}

// Compare orders components canonically: shorter first, then bytewise.
func (c Component) Compare(other Component) int {
	if len(c) != len(other) {
		if len(c) < len(other) {
			return -1
		}
		return 1
	}
	return bytes.Compare(c, other)
}

// Equal reports whether both components hold the same bytes.
func (c Component) Equal(other Component) bool {
	return bytes.Equal(c, other)
}

// String returns the URI form of the component.
func (c Component) String() string {
	if len(c) == 0 || onlyPeriods(c) {
		return "..." + string(c)
	}
	var sb strings.Builder
	for _, b := range c {
		if isURIUnreserved(b) {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}

func parseComponent(s string) (Component, error) {
	decoded, err := unescape(s)
	if err != nil {
		return nil, err
	}
	if onlyPeriods(decoded) {
		if len(decoded) < 3 {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: component %q", errors.ErrMalformedName, s),
				"Name", "Parse", "decode component")
		}
		decoded = decoded[3:]
	}
	return Component(decoded), nil
}

func unescape(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			out = append(out, s[i])
			continue
		}
		if i+2 >= len(s) {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: truncated escape in %q", errors.ErrMalformedName, s),
				"Name", "Parse", "unescape component")
		}
		hi, ok1 := fromHex(s[i+1])
		lo, ok2 := fromHex(s[i+2])
		if !ok1 || !ok2 {
			return nil, errors.WrapFatal(
				fmt.Errorf("%w: bad escape in %q", errors.ErrMalformedName, s),
				"Name", "Parse", "unescape component")
		}
		out = append(out, hi<<4|lo)
		i += 2
	}
	return out, nil
}

func onlyPeriods(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c != '.' {
			return false
		}
	}
	return true
}

func isURIUnreserved(b byte) bool {
	return isAlnum(b) || b == '-' || b == '.' || b == '_' || b == '~'
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func fromHex(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
