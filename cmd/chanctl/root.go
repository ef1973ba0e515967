package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/semchannels/channel"
	"github.com/c360/semchannels/config"
	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/natsclient"
	"github.com/c360/semchannels/pkg/retry"
	"github.com/c360/semchannels/pkg/tlsutil"
	"github.com/c360/semchannels/transport"
	"github.com/c360/semchannels/transport/natsface"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	natsURL     string
	subjectRoot string
	strategy    string
	timeout     time.Duration
	logLevel    string
	tls         tlsutil.ClientConfig
}

// dialFunc connects a face to the network. The returned function releases
// everything dial acquired.
type dialFunc func(ctx context.Context, opts *rootOptions, logger *slog.Logger) (transport.Face, func(context.Context) error, error)

func newRootCommand(dial dialFunc) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "chanctl",
		Short:         "Named-data channel client",
		Long:          "chanctl publishes to and fetches from ndn: channels carried over NATS.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.natsURL, "nats-url", envOr(config.EnvPrefix+"_NATS_URLS", "nats://localhost:4222"),
		"NATS server URL(s), comma separated")
	flags.StringVar(&opts.subjectRoot, "subject-root", name.DefaultSubjectRoot, "Subject root names are mapped under")
	flags.StringVar(&opts.strategy, "strategy", string(channel.StrategyNotification),
		"Channel strategy: notification or chronosync")
	flags.DurationVar(&opts.timeout, "timeout", 4*time.Second, "Retrieval timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	flags.StringSliceVar(&opts.tls.CAFiles, "tls-ca", nil, "Additional CA file(s) trusted for the NATS connection")
	flags.StringVar(&opts.tls.CertFile, "tls-cert", "", "Client certificate for mutual TLS")
	flags.StringVar(&opts.tls.KeyFile, "tls-key", "", "Client key for mutual TLS")

	root.AddCommand(
		newPublishCommand(opts, dial),
		newGetCommand(opts, dial),
		newFetchCommand(opts, dial, "latest", "Fetch the newest message on a channel"),
		newFetchCommand(opts, dial, "earliest", "Fetch the oldest retained message on a channel"),
		newSubscribeCommand(opts, dial),
	)
	return root
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level, err := config.ParseLevel(o.logLevel)
	if err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("service", "chanctl")
}

func dialNATS(ctx context.Context, opts *rootOptions, logger *slog.Logger) (transport.Face, func(context.Context) error, error) {
	tlsCfg := opts.tls
	tlsCfg.Enabled = len(tlsCfg.CAFiles) > 0 || tlsCfg.CertFile != ""
	tlsConfig, err := tlsutil.LoadClientConfig(tlsCfg)
	if err != nil {
		return nil, nil, err
	}

	client, err := natsclient.NewClient(opts.natsURL,
		natsclient.WithLogger(logger),
		natsclient.WithName("chanctl"),
		natsclient.WithMaxReconnects(0),
		natsclient.WithTLS(tlsConfig),
	)
	if err != nil {
		return nil, nil, err
	}

	if err := client.ConnectWithRetry(ctx, retry.DefaultConfig()); err != nil {
		return nil, nil, err
	}

	face := natsface.New(client, natsface.WithSubjectRoot(opts.subjectRoot), natsface.WithLogger(logger))
	return face, func(ctx context.Context) error {
		_ = face.Close()
		return client.Close(ctx)
	}, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
