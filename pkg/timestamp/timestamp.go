// Package timestamp handles the int64 Unix-millisecond timestamps carried in
// message headers and KV values.
//
// Zero means "unset": FromUnixMs(0) is the zero time and helpers treat a zero
// input as absent rather than as 1970.
//
//	msg.Header.Set("Ndn-Sent", timestamp.Encode(timestamp.Now()))
//	sent, ok := timestamp.Decode(msg.Header.Get("Ndn-Sent"))
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts t to Unix milliseconds; the zero time maps to 0.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to a time; 0 maps to the zero time.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format renders ms as RFC3339 for display, or "" when unset.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return FromUnixMs(ms).UTC().Format(time.RFC3339Nano)
}

// Encode renders ms in its header form, a base-10 integer.
func Encode(ms int64) string {
	return strconv.FormatInt(ms, 10)
}

// Decode parses the header form. Empty, malformed and non-positive values
// report false.
func Decode(s string) (int64, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return ms, true
}

// EncodeDuration renders d as whole milliseconds.
func EncodeDuration(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// DecodeDuration parses whole milliseconds. Negative values report false;
// zero is valid.
func DecodeDuration(s string) (time.Duration, bool) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Since returns the time elapsed since ms, or 0 when ms is unset.
func Since(ms int64) time.Duration {
	if ms == 0 {
		return 0
	}
	return time.Since(FromUnixMs(ms))
}

// Add shifts ms by d; an unset timestamp stays unset.
func Add(ms int64, d time.Duration) int64 {
	if ms == 0 {
		return 0
	}
	return ms + d.Milliseconds()
}

// Expired reports whether something stamped at ms with lifetime ttl has
// lapsed by now. Unset stamps and non-positive lifetimes never expire.
func Expired(ms int64, ttl time.Duration, now int64) bool {
	if ms == 0 || ttl <= 0 {
		return false
	}
	return now > Add(ms, ttl)
}
