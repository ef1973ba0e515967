package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnixMsRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	assert.True(t, now.Equal(FromUnixMs(ToUnixMs(now))))

	assert.Zero(t, ToUnixMs(time.Time{}))
	assert.True(t, FromUnixMs(0).IsZero())
}

func TestFormat(t *testing.T) {
	assert.Empty(t, Format(0))
	assert.Equal(t, "2024-01-02T03:04:05.006Z", Format(time.Date(2024, 1, 2, 3, 4, 5, 6e6, time.UTC).UnixMilli()))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		wantOK bool
	}{
		{in: "1700000000000", want: 1700000000000, wantOK: true},
		{in: Encode(42), want: 42, wantOK: true},
		{in: ""},
		{in: "abc"},
		{in: "0"},
		{in: "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Decode(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDuration(t *testing.T) {
	d, ok := DecodeDuration(EncodeDuration(1500 * time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, ok = DecodeDuration("0")
	assert.True(t, ok)
	assert.Zero(t, d)

	_, ok = DecodeDuration("-1")
	assert.False(t, ok)
	_, ok = DecodeDuration("1s")
	assert.False(t, ok)
}

func TestSinceAndAdd(t *testing.T) {
	assert.Zero(t, Since(0))
	assert.GreaterOrEqual(t, Since(Now()-1000), time.Second)

	assert.Zero(t, Add(0, time.Hour))
	assert.Equal(t, int64(2500), Add(1000, 1500*time.Millisecond))
}

func TestExpired(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		ttl  time.Duration
		now  int64
		want bool
	}{
		{name: "fresh", ms: 1000, ttl: time.Second, now: 1500},
		{name: "at boundary", ms: 1000, ttl: time.Second, now: 2000},
		{name: "lapsed", ms: 1000, ttl: time.Second, now: 2001, want: true},
		{name: "unset stamp", ms: 0, ttl: time.Second, now: 5000},
		{name: "no lifetime", ms: 1000, ttl: 0, now: 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Expired(tt.ms, tt.ttl, tt.now))
		})
	}
}
