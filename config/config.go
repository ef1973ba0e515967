package config

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"

	"github.com/c360/semchannels/channel"
	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/cache"
	"github.com/c360/semchannels/pkg/tlsutil"
)

// maxChunkSize keeps a response packet under the default NATS max payload.
const maxChunkSize = datasize.MB - 4*datasize.KB

// Config is the complete node configuration.
type Config struct {
	Node     NodeConfig      `json:"node" yaml:"node"`
	NATS     NATSConfig      `json:"nats" yaml:"nats"`
	Loop     LoopConfig      `json:"loop" yaml:"loop"`
	Defaults ChannelConfig   `json:"defaults" yaml:"defaults"`
	Channels []ChannelConfig `json:"channels,omitempty" yaml:"channels,omitempty"`
	Sync     SyncConfig      `json:"sync" yaml:"sync"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	Log      LogConfig       `json:"log" yaml:"log"`
}

// NodeConfig identifies the node.
type NodeConfig struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	SubjectRoot string `json:"subject_root" yaml:"subject_root"`
}

// NATSConfig defines the connection.
type NATSConfig struct {
	URLs          []string `json:"urls" yaml:"urls"`
	Name          string   `json:"name,omitempty" yaml:"name,omitempty"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
	MaxReconnects int      `json:"max_reconnects" yaml:"max_reconnects"`
	Username      string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string   `json:"token,omitempty" yaml:"token,omitempty"`
	// PeerBucket names the KV bucket holding sync peer liveness; empty
	// keeps liveness in memory.
	PeerBucket string `json:"peer_bucket,omitempty" yaml:"peer_bucket,omitempty"`

	TLS tlsutil.ClientConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// LoopConfig sizes the shared event loop.
type LoopConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// ChannelConfig configures one channel, or the defaults for all of them.
// Zero fields inherit from the defaults.
type ChannelConfig struct {
	Name             string            `json:"name,omitempty" yaml:"name,omitempty"`
	Strategy         string            `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Retention        Duration          `json:"retention,omitempty" yaml:"retention,omitempty"`
	MaxEntries       int               `json:"max_entries,omitempty" yaml:"max_entries,omitempty"`
	RetrievalTimeout Duration          `json:"retrieval_timeout,omitempty" yaml:"retrieval_timeout,omitempty"`
	ChunkSize        datasize.ByteSize `json:"chunk_size,omitempty" yaml:"chunk_size,omitempty"`
	// PublishInterval makes the daemon publish a heartbeat on the channel.
	PublishInterval Duration `json:"publish_interval,omitempty" yaml:"publish_interval,omitempty"`
}

// SyncConfig tunes the synchronized strategy.
type SyncConfig struct {
	Lifetime      Duration `json:"lifetime" yaml:"lifetime"`
	ResponseDelay Duration `json:"response_delay" yaml:"response_delay"`
	PeerTimeout   Duration `json:"peer_timeout" yaml:"peer_timeout"`
}

// MetricsConfig controls the metrics and health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// LogConfig controls the daemon's slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	settings := channel.DefaultSettings()
	return &Config{
		Node: NodeConfig{SubjectRoot: name.DefaultSubjectRoot},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			Timeout:       Duration(5 * time.Second),
			MaxReconnects: -1,
		},
		Loop: LoopConfig{Workers: 4, QueueSize: 4096},
		Defaults: ChannelConfig{
			Strategy:         string(settings.Strategy),
			Retention:        Duration(settings.Retention),
			MaxEntries:       settings.MaxEntries,
			RetrievalTimeout: Duration(settings.RetrievalTimeout),
			ChunkSize:        datasize.ByteSize(settings.ChunkSize),
		},
		Sync: SyncConfig{
			Lifetime:      Duration(chronosync.DefaultSyncLifetime),
			ResponseDelay: Duration(chronosync.DefaultResponseDelay),
			PeerTimeout:   Duration(chronosync.DefaultPeerTimeout),
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// NodeID returns the configured node id, generating one on first use.
func (c *Config) NodeID() string {
	if c.Node.ID == "" {
		c.Node.ID = "node-" + uuid.NewString()[:8]
	}
	return c.Node.ID
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Node.SubjectRoot == "" || strings.ContainsAny(c.Node.SubjectRoot, " *>") {
		add("node.subject_root %q is not a valid subject token", c.Node.SubjectRoot)
	}
	if len(c.NATS.URLs) == 0 {
		add("nats.urls is empty")
	}
	for _, u := range c.NATS.URLs {
		if !strings.HasPrefix(u, "nats://") && !strings.HasPrefix(u, "tls://") {
			add("nats url %q must use nats:// or tls://", u)
		}
	}
	if err := c.NATS.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("nats.tls: %w", err))
	}
	if c.NATS.Timeout <= 0 {
		add("nats.timeout must be positive")
	}
	if c.Loop.Workers <= 0 || c.Loop.QueueSize <= 0 {
		add("loop.workers and loop.queue_size must be positive")
	}
	if c.Sync.Lifetime <= 0 || c.Sync.PeerTimeout <= 0 || c.Sync.ResponseDelay < 0 {
		add("sync durations must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		add("metrics.port %d out of range", c.Metrics.Port)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	if err := c.Defaults.validate("defaults", false); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Channels))
	for i, ch := range c.Channels {
		field := fmt.Sprintf("channels[%d]", i)
		if err := ch.validate(field, true); err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[ch.Name] {
			add("%s: duplicate channel %s", field, ch.Name)
		}
		seen[ch.Name] = true
	}

	if len(errs) > 0 {
		return errors.WrapFatal(
			fmt.Errorf("%w: %w", errors.ErrInvalidConfig, stderrors.Join(errs...)),
			"Config", "Validate", "validate configuration")
	}
	return nil
}

func (ch ChannelConfig) validate(field string, named bool) error {
	if named {
		if _, err := name.ParseURI(ch.Name); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	switch ch.Strategy {
	case "", string(channel.StrategyNotification), string(channel.StrategySync):
	default:
		return fmt.Errorf("%s: unknown strategy %q", field, ch.Strategy)
	}
	if ch.MaxEntries < 0 {
		return fmt.Errorf("%s: max_entries must not be negative", field)
	}
	if ch.RetrievalTimeout < 0 || ch.PublishInterval < 0 {
		return fmt.Errorf("%s: durations must not be negative", field)
	}
	if ch.ChunkSize > maxChunkSize {
		return fmt.Errorf("%s: chunk_size %s exceeds %s", field, ch.ChunkSize.HR(), maxChunkSize.HR())
	}
	return nil
}

// Settings returns the channel settings for uri: the defaults with the
// matching channel entry, if any, laid over them.
func (c *Config) Settings(uri string) channel.Settings {
	s := c.Defaults.apply(channel.DefaultSettings())
	s.Sync.Lifetime = c.Sync.Lifetime.Std()
	s.Sync.ResponseDelay = c.Sync.ResponseDelay.Std()
	s.Sync.PeerTimeout = c.Sync.PeerTimeout.Std()
	for _, ch := range c.Channels {
		if ch.Name == uri {
			s = ch.apply(s)
		}
	}
	return s
}

func (ch ChannelConfig) apply(s channel.Settings) channel.Settings {
	if ch.Strategy != "" {
		s.Strategy = channel.Strategy(ch.Strategy)
	}
	switch {
	case ch.Retention.IsForever():
		s.Retention = cache.Forever
	case ch.Retention > 0:
		s.Retention = ch.Retention.Std()
	}
	if ch.MaxEntries > 0 {
		s.MaxEntries = ch.MaxEntries
	}
	if ch.RetrievalTimeout > 0 {
		s.RetrievalTimeout = ch.RetrievalTimeout.Std()
	}
	if ch.ChunkSize > 0 {
		s.ChunkSize = int(ch.ChunkSize.Bytes())
	}
	return s
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
