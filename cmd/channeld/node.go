package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semchannels/channel"
	"github.com/c360/semchannels/chronosync"
	"github.com/c360/semchannels/config"
	"github.com/c360/semchannels/health"
	"github.com/c360/semchannels/metric"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/natsclient"
	"github.com/c360/semchannels/pkg/retry"
	"github.com/c360/semchannels/pkg/tlsutil"
	"github.com/c360/semchannels/pkg/worker"
	"github.com/c360/semchannels/transport/natsface"
)

// Heartbeat is the message the daemon publishes on channels configured with
// a publish interval.
type Heartbeat struct {
	Node     string    `json:"node" yaml:"node"`
	Sequence uint64    `json:"sequence" yaml:"sequence"`
	SentAt   time.Time `json:"sent_at" yaml:"sent_at"`
}

// node owns every long-lived piece of a running daemon.
type node struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	server   *metric.Server
	client   *natsclient.Client
	loop     *worker.EventLoop
	face     *natsface.Face
	provider *channel.Provider

	channels []channel.Channel[Heartbeat]
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newNode(cfg *config.Config, logger *slog.Logger) *node {
	return &node{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
}

// start connects to NATS, builds the provider and opens the configured channels.
func (n *node) start(ctx context.Context) error {
	if err := n.connect(ctx); err != nil {
		return err
	}

	n.loop = worker.NewEventLoop(
		worker.WithLoopWorkers(n.cfg.Loop.Workers),
		worker.WithLoopQueueSize(n.cfg.Loop.QueueSize),
		worker.WithLoopLogger(n.logger),
		worker.WithLoopPoolOptions(worker.WithMetricsRegistry[worker.Task](n.registry, "channel_loop")),
	)
	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	if err := n.loop.Start(runCtx); err != nil {
		return fmt.Errorf("start event loop: %w", err)
	}

	n.face = natsface.New(n.client,
		natsface.WithSubjectRoot(n.cfg.Node.SubjectRoot),
		natsface.WithResponderID(n.cfg.NodeID()),
		natsface.WithLogger(n.logger),
	)

	opts, err := n.providerOptions(ctx)
	if err != nil {
		return err
	}
	provider, err := channel.NewProvider(n.face, n.loop, opts...)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	n.provider = provider

	n.monitor.AddProbe("channels", provider.Health)
	n.monitor.AddProbe("nats", func() health.Status {
		if n.client.IsHealthy() {
			return health.NewHealthy("nats", n.client.Status().String())
		}
		return health.NewUnhealthy("nats", n.client.Status().String())
	})
	n.startMetrics()

	for _, chCfg := range n.cfg.Channels {
		if err := n.openChannel(ctx, runCtx, chCfg); err != nil {
			return err
		}
	}
	n.logger.Info("node started",
		"node_id", n.cfg.NodeID(),
		"subject_root", n.cfg.Node.SubjectRoot,
		"channels", len(n.channels))
	return nil
}

func (n *node) connect(ctx context.Context) error {
	natsCfg := n.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(n.logger),
		natsclient.WithMetrics(n.registry),
		natsclient.WithMaxReconnects(natsCfg.MaxReconnects),
		natsclient.WithTimeout(natsCfg.Timeout.Std()),
		natsclient.WithName(natsName(natsCfg.Name, n.cfg.NodeID())),
	}
	switch {
	case natsCfg.Token != "":
		opts = append(opts, natsclient.WithToken(natsCfg.Token))
	case natsCfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(natsCfg.Username, natsCfg.Password))
	}
	tlsConfig, err := tlsutil.LoadClientConfig(natsCfg.TLS)
	if err != nil {
		return fmt.Errorf("load NATS TLS config: %w", err)
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLS(tlsConfig))
	}

	client, err := natsclient.NewClient(strings.Join(natsCfg.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	n.client = client

	n.logger.Info("connecting to NATS", "urls", natsCfg.URLs)
	if err := client.ConnectWithRetry(ctx, retry.Connect()); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	return nil
}

func natsName(configured, nodeID string) string {
	if configured != "" {
		return configured
	}
	return appName + "-" + nodeID
}

func (n *node) providerOptions(ctx context.Context) ([]channel.ProviderOption, error) {
	opts := []channel.ProviderOption{
		channel.WithLogger(n.logger),
		channel.WithMetricsRegistry(n.registry),
		channel.WithDefaults(n.cfg.Settings("")),
	}
	for _, chCfg := range n.cfg.Channels {
		opts = append(opts, channel.WithChannel(chCfg.Name, settingsOptions(n.cfg.Settings(chCfg.Name))...))
	}

	if bucket := n.cfg.NATS.PeerBucket; bucket != "" {
		kv, err := n.client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "sync peer liveness",
			TTL:         n.cfg.Sync.PeerTimeout.Std(),
		})
		if err != nil {
			return nil, fmt.Errorf("create peer bucket %s: %w", bucket, err)
		}
		store := n.client.NewKVStore(kv)
		opts = append(opts, channel.WithPeerTrackers(func(group name.Name) (chronosync.PeerTracker, error) {
			return chronosync.NewKVPeerTracker(store, group), nil
		}))
		n.logger.Info("peer liveness shared through KV", "bucket", bucket)
	}
	return opts, nil
}

// settingsOptions turns resolved settings into options that reproduce them.
func settingsOptions(s channel.Settings) []channel.Option {
	return []channel.Option{
		channel.WithStrategy(s.Strategy),
		channel.WithRetention(s.Retention),
		channel.WithMaxEntries(s.MaxEntries),
		channel.WithRetrievalTimeout(s.RetrievalTimeout),
		channel.WithChunkSize(s.ChunkSize),
		channel.WithSyncSettings(s.Sync),
	}
}

func (n *node) startMetrics() {
	if !n.cfg.Metrics.Enabled {
		return
	}
	n.server = metric.NewServer(n.cfg.Metrics.Port, n.cfg.Metrics.Path, n.registry, n.monitor)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Start(); err != nil {
			n.logger.Error("metrics server stopped", "error", err)
		}
	}()
	n.logger.Info("metrics server listening", "address", n.server.Address())
}

func (n *node) openChannel(ctx, runCtx context.Context, chCfg config.ChannelConfig) error {
	logger := n.logger.With("channel", chCfg.Name)

	ch, err := channel.New[Heartbeat](n.provider, chCfg.Name, channel.JSONCodec[Heartbeat]{})
	if err != nil {
		return fmt.Errorf("create channel %s: %w", chCfg.Name, err)
	}
	opened, err := ch.Open(ctx)
	if err != nil {
		return fmt.Errorf("open channel %s: %w", chCfg.Name, err)
	}
	if _, err := opened.Wait(ctx); err != nil {
		_ = ch.Close()
		return fmt.Errorf("open channel %s: %w", chCfg.Name, err)
	}
	n.channels = append(n.channels, ch)

	if interval := chCfg.PublishInterval.Std(); interval > 0 {
		n.wg.Add(1)
		go n.publishHeartbeats(runCtx, ch, interval, logger)
		logger.Info("publishing heartbeats", "interval", interval)
		return nil
	}

	if err := ch.Subscribe(func(hb Heartbeat) {
		logger.Info("message received", "from", hb.Node, "sequence", hb.Sequence, "sent_at", hb.SentAt)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", chCfg.Name, err)
	}
	logger.Info("subscribed")
	return nil
}

func (n *node) publishHeartbeats(ctx context.Context, ch channel.Channel[Heartbeat], interval time.Duration, logger *slog.Logger) {
	defer n.wg.Done()

	var seq atomic.Uint64
	next := func() Heartbeat {
		return Heartbeat{Node: n.cfg.NodeID(), Sequence: seq.Add(1), SentAt: time.Now().UTC()}
	}
	if err := ch.OnLatest(func() (Heartbeat, error) { return next(), nil }); err != nil {
		logger.Warn("latest producer not installed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ch.Publish(next()); err != nil {
				logger.Warn("heartbeat publish failed", "error", err)
			}
		}
	}
}

// shutdown stops in reverse start order: tickers, channels, provider, face,
// loop, NATS, metrics.
func (n *node) shutdown(ctx context.Context) error {
	var errs []error

	if n.cancel != nil {
		n.cancel()
	}
	for _, ch := range n.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch.URI(), err))
		}
	}
	if n.provider != nil {
		errs = append(errs, n.provider.Close())
	}
	if n.face != nil {
		errs = append(errs, n.face.Close())
	}
	if n.loop != nil {
		timeout := 5 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		errs = append(errs, n.loop.Stop(timeout))
	}
	if n.client != nil {
		errs = append(errs, n.client.Close(ctx))
	}
	if n.server != nil {
		errs = append(errs, n.server.Stop())
	}
	n.wg.Wait()

	return stderrors.Join(errs...)
}
