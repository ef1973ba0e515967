package channel

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/health"
	"github.com/c360/semchannels/metric"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/transport"
)

// PeerTrackerFactory builds the stale-peer tracker for a sync group.
type PeerTrackerFactory func(group name.Name) (chronosync.PeerTracker, error)

// Provider builds channels over one face and event loop and keeps track of
// every handle it created until the handle closes.
type Provider struct {
	face      transport.Face
	loop      *worker.EventLoop
	logger    *slog.Logger
	registry  *metric.MetricsRegistry
	metrics   *metric.Metrics
	observers observers
	peers     PeerTrackerFactory
	defaults  Settings
	overrides map[string][]Option

	mu       sync.Mutex
	channels map[handle]struct{}
	closed   bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the logger channels derive theirs from.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetricsRegistry reports channel and retention metrics to registry.
func WithMetricsRegistry(registry *metric.MetricsRegistry) ProviderOption {
	return func(p *Provider) { p.registry = registry }
}

// WithObserver adds a request observer to every channel.
func WithObserver(o RequestObserver) ProviderOption {
	return func(p *Provider) {
		if o != nil {
			p.observers = append(p.observers, o)
		}
	}
}

// WithPeerTrackers sets how sync channels track peer liveness. By default
// each sync channel keeps an in-memory tracker.
func WithPeerTrackers(factory PeerTrackerFactory) ProviderOption {
	return func(p *Provider) { p.peers = factory }
}

// WithDefaults replaces the settings every channel starts from.
func WithDefaults(s Settings) ProviderOption {
	return func(p *Provider) { p.defaults = s }
}

// WithChannel applies opts to the channel with the given URI, after the
// defaults and before the options passed to New.
func WithChannel(uri string, opts ...Option) ProviderOption {
	return func(p *Provider) { p.overrides[uri] = append(p.overrides[uri], opts...) }
}

// NewProvider creates a provider. The loop must be started by the caller.
func NewProvider(face transport.Face, loop *worker.EventLoop, opts ...ProviderOption) (*Provider, error) {
	if face == nil || loop == nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: face and loop are required", errors.ErrMissingConfig),
			"Provider", "NewProvider", "check dependencies")
	}
	p := &Provider{
		face:      face,
		loop:      loop,
		logger:    slog.Default(),
		defaults:  DefaultSettings(),
		overrides: make(map[string][]Option),
		channels:  make(map[handle]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.defaults.Validate(); err != nil {
		return nil, err
	}
	// sync replies and anything else sent without its own freshness
	face.SetResponseFreshness(p.defaults.freshness())
	if p.registry != nil {
		p.metrics = p.registry.CoreMetrics()
		p.observers = append(observers{NewMetricsObserver(p.metrics)}, p.observers...)
	}
	p.logger = p.logger.With("component", "channel-provider")
	return p, nil
}

// Settings returns the effective settings for uri with opts applied.
func (p *Provider) Settings(uri string, opts ...Option) Settings {
	s := p.defaults
	for _, opt := range p.overrides[uri] {
		opt(&s)
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// New creates a channel for uri using the strategy its settings select.
// The URI must use the ndn: scheme.
func New[T any](p *Provider, uri string, codec Codec[T], opts ...Option) (Channel[T], error) {
	settings, n, err := p.prepare(uri, codec == nil, opts)
	if err != nil {
		return nil, err
	}
	switch settings.Strategy {
	case StrategySync:
		ch, err := newSyncChannel(p.env(), uri, n, settings, codec)
		if err != nil {
			return nil, err
		}
		return ch, p.track(ch.core)
	default:
		ch, err := newNotificationChannel(p.env(), uri, n, settings, codec)
		if err != nil {
			return nil, err
		}
		return ch, p.track(ch.core)
	}
}

// NewNotification creates a notification channel whatever the configured strategy.
func NewNotification[T any](p *Provider, uri string, codec Codec[T], opts ...Option) (*NotificationChannel[T], error) {
	opts = append(opts, WithStrategy(StrategyNotification))
	ch, err := New(p, uri, codec, opts...)
	if err != nil {
		return nil, err
	}
	return ch.(*NotificationChannel[T]), nil
}

// NewSync creates a sync channel whatever the configured strategy.
func NewSync[T any](p *Provider, uri string, codec Codec[T], opts ...Option) (*SyncChannel[T], error) {
	opts = append(opts, WithStrategy(StrategySync))
	ch, err := New(p, uri, codec, opts...)
	if err != nil {
		return nil, err
	}
	return ch.(*SyncChannel[T]), nil
}

func (p *Provider) prepare(uri string, nilCodec bool, opts []Option) (Settings, name.Name, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return Settings{}, nil, errors.WrapInvalid(errors.ErrShuttingDown, "Provider", "New", "create "+uri)
	}

	n, err := name.ParseURI(uri)
	if err != nil {
		return Settings{}, nil, err
	}
	if nilCodec {
		return Settings{}, nil, errors.WrapFatal(fmt.Errorf("%w: codec is required", errors.ErrMissingConfig),
			"Provider", "New", "check codec")
	}
	settings := p.Settings(uri, opts...)
	if err := settings.Validate(); err != nil {
		return Settings{}, nil, err
	}
	return settings, n, nil
}

func (p *Provider) env() env {
	e := env{
		face:     p.face,
		loop:     p.loop,
		logger:   p.logger.With("component", "channel"),
		metrics:  p.metrics,
		registry: p.registry,
		onClosed: p.untrack,
	}
	if len(p.observers) > 0 {
		e.observer = p.observers
	}
	if p.peers != nil {
		e.peers = p.peers
	}
	return e
}

func (p *Provider) track(h handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Provider", "New", "track channel "+h.URI())
	}
	p.channels[h] = struct{}{}
	return nil
}

func (p *Provider) untrack(h handle) {
	p.mu.Lock()
	delete(p.channels, h)
	p.mu.Unlock()
}

// Channels returns stats for every live handle ordered by URI.
func (p *Provider) Channels() []Stats {
	p.mu.Lock()
	handles := make([]handle, 0, len(p.channels))
	for h := range p.channels {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	stats := make([]Stats, 0, len(handles))
	for _, h := range handles {
		stats = append(stats, h.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].URI < stats[j].URI })
	return stats
}

// Health reports every live channel. A channel stuck opening or still
// draining after close counts as degraded.
func (p *Provider) Health() health.Status {
	stats := p.Channels()
	subs := make([]health.Status, 0, len(stats))
	for _, st := range stats {
		var s health.Status
		switch st.State {
		case StateOpen.String():
			s = health.NewHealthy(st.URI, st.State)
		case StateClosed.String():
			s = health.NewUnhealthy(st.URI, st.State)
		default:
			s = health.NewDegraded(st.URI, st.State)
		}
		s = s.WithMetrics(&health.Metrics{
			Published: st.Published,
			Received:  st.Received,
			Earliest:  st.Earliest,
			Latest:    st.Latest,
		})
		subs = append(subs, s)
	}
	return health.Aggregate("channels", subs)
}

// Close force-closes every live handle, including ones still draining.
// Channels cannot be created afterwards.
func (p *Provider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	handles := make([]handle, 0, len(p.channels))
	for h := range p.channels {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.forceClose()
	}
	p.logger.Debug("provider closed", "channels", len(handles))
	return nil
}
