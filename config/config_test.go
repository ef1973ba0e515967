package config

import (
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/channel"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/pkg/cache"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ndn", cfg.Node.SubjectRoot)
	assert.Equal(t, channel.DefaultSettings().Retention, cfg.Defaults.Retention.Std())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no urls", func(c *Config) { c.NATS.URLs = nil }, "nats.urls is empty"},
		{"bad url scheme", func(c *Config) { c.NATS.URLs = []string{"http://x"} }, "must use nats://"},
		{"bad root", func(c *Config) { c.Node.SubjectRoot = "a>b" }, "subject_root"},
		{"bad strategy", func(c *Config) { c.Defaults.Strategy = "gossip" }, "unknown strategy"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "unknown log level"},
		{"no workers", func(c *Config) { c.Loop.Workers = 0 }, "loop.workers"},
		{"port", func(c *Config) { c.Metrics.Port = 70000 }, "metrics.port"},
		{"channel scheme", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "http:/a"}}
		}, "channels[0]"},
		{"duplicate channel", func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "ndn:/a"}, {Name: "ndn:/a"}}
		}, "duplicate channel"},
		{"huge chunks", func(c *Config) { c.Defaults.ChunkSize = 2 * datasize.MB }, "chunk_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.NATS.URLs = nil
	cfg.Loop.QueueSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.urls")
	assert.Contains(t, err.Error(), "loop.workers")
}

func TestSettings(t *testing.T) {
	cfg := Default()
	cfg.Defaults.Retention = Duration(3 * time.Second)
	cfg.Sync.PeerTimeout = Duration(time.Minute)
	cfg.Channels = []ChannelConfig{
		{Name: "ndn:/forever", Retention: Duration(-1), MaxEntries: 10},
		{Name: "ndn:/group", Strategy: "chronosync", ChunkSize: 4 * datasize.KB},
	}

	base := cfg.Settings("ndn:/other")
	assert.Equal(t, 3*time.Second, base.Retention)
	assert.Equal(t, channel.StrategyNotification, base.Strategy)
	assert.Equal(t, time.Minute, base.Sync.PeerTimeout)

	forever := cfg.Settings("ndn:/forever")
	assert.Equal(t, cache.Forever, forever.Retention)
	assert.Equal(t, 10, forever.MaxEntries)

	group := cfg.Settings("ndn:/group")
	assert.Equal(t, channel.StrategySync, group.Strategy)
	assert.Equal(t, 4096, group.ChunkSize)
	assert.Equal(t, 3*time.Second, group.Retention)
	require.NoError(t, group.Validate())
}

func TestNodeID(t *testing.T) {
	cfg := Default()
	id := cfg.NodeID()
	assert.NotEmpty(t, id)
	assert.Equal(t, id, cfg.NodeID())
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    Duration
		forever bool
		wantErr bool
	}{
		{"2s", Duration(2 * time.Second), false, false},
		{"14d", Duration(14 * 24 * time.Hour), false, false},
		{"forever", Duration(-1), true, false},
		{"FOREVER", Duration(-1), true, false},
		{"soon", 0, false, true},
		{"xd", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.Equal(t, tt.forever, d.IsForever())
		})
	}
	assert.Equal(t, "forever", Duration(-1).String())
	assert.Equal(t, "1m0s", Duration(time.Minute).String())
}
