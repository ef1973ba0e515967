package channel

import (
	"fmt"
	"time"

	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/pkg/cache"
	"github.com/c360/semchannels/segment"
)

// Strategy selects how a channel finds new messages.
type Strategy string

const (
	// StrategyNotification is the single-publisher strategy: the publisher
	// announces each sequence id with an update notification.
	StrategyNotification Strategy = "notification"
	// StrategySync is the multi-publisher strategy built on chronosync.
	StrategySync Strategy = "chronosync"
)

// Defaults applied by DefaultSettings.
const (
	DefaultRetention        = 2 * time.Second
	DefaultRetrievalTimeout = 2 * time.Second
	minCleanupInterval      = 100 * time.Millisecond
	updateLifetime          = time.Second
)

// Settings are the per-channel knobs supplied at construction.
type Settings struct {
	Strategy Strategy
	// Retention is how long published messages stay retrievable;
	// cache.Forever keeps them until evicted by MaxEntries.
	Retention time.Duration
	// MaxEntries bounds the retention cache.
	MaxEntries int
	// RetrievalTimeout is the lifetime of every fetch request.
	RetrievalTimeout time.Duration
	// ChunkSize is the payload bytes per response packet.
	ChunkSize int
	// CleanupInterval spaces periodic cache cleanup while publishing;
	// zero derives it from Retention.
	CleanupInterval time.Duration
	// Sync tunes the chronosync strategy.
	Sync SyncSettings
}

// SyncSettings tunes the synchronized strategy.
type SyncSettings struct {
	Lifetime      time.Duration
	ResponseDelay time.Duration
	PeerTimeout   time.Duration
	// DeliveryMemory bounds how many publishers the subscriber remembers
	// delivery progress for.
	DeliveryMemory int
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Strategy:         StrategyNotification,
		Retention:        DefaultRetention,
		MaxEntries:       cache.DefaultMaxEntries,
		RetrievalTimeout: DefaultRetrievalTimeout,
		ChunkSize:        segment.DefaultChunkSize,
		Sync: SyncSettings{
			Lifetime:       chronosync.DefaultSyncLifetime,
			ResponseDelay:  chronosync.DefaultResponseDelay,
			PeerTimeout:    chronosync.DefaultPeerTimeout,
			DeliveryMemory: defaultDeliveryMemory,
		},
	}
}

// Validate checks settings before a channel is built.
func (s Settings) Validate() error {
	switch s.Strategy {
	case StrategyNotification, StrategySync:
	default:
		return errors.WrapFatal(fmt.Errorf("%w: unknown strategy %q", errors.ErrInvalidConfig, s.Strategy),
			"Settings", "Validate", "check strategy")
	}
	if s.MaxEntries < 0 || s.ChunkSize < 0 || s.RetrievalTimeout < 0 {
		return errors.WrapFatal(fmt.Errorf("%w: negative bound", errors.ErrInvalidConfig),
			"Settings", "Validate", "check bounds")
	}
	return nil
}

func (s Settings) cleanupInterval() time.Duration {
	interval := s.CleanupInterval
	if interval <= 0 {
		interval = s.Retention
	}
	if interval < minCleanupInterval {
		interval = minCleanupInterval
	}
	return interval
}

// freshness is stamped on responses; unbounded retention sends none.
func (s Settings) freshness() time.Duration {
	if s.Retention == cache.Forever || s.Retention <= 0 {
		return 0
	}
	return s.Retention
}

// Option adjusts Settings for a single channel.
type Option func(*Settings)

// WithStrategy selects the channel strategy.
func WithStrategy(strategy Strategy) Option {
	return func(s *Settings) { s.Strategy = strategy }
}

// WithRetention sets how long published messages are retained.
func WithRetention(d time.Duration) Option {
	return func(s *Settings) { s.Retention = d }
}

// WithMaxEntries bounds the retention cache.
func WithMaxEntries(n int) Option {
	return func(s *Settings) { s.MaxEntries = n }
}

// WithRetrievalTimeout sets the fetch request lifetime.
func WithRetrievalTimeout(d time.Duration) Option {
	return func(s *Settings) { s.RetrievalTimeout = d }
}

// WithChunkSize sets the segment payload size.
func WithChunkSize(n int) Option {
	return func(s *Settings) { s.ChunkSize = n }
}

// WithCleanupInterval sets the periodic cleanup interval.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Settings) { s.CleanupInterval = d }
}

// WithSyncSettings replaces the chronosync tuning.
func WithSyncSettings(sync SyncSettings) Option {
	return func(s *Settings) { s.Sync = sync }
}
