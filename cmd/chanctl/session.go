package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/semchannels/channel"
	"github.com/c360/semchannels/pkg/worker"
)

// session is one short-lived node holding a single open channel.
type session struct {
	loop     *worker.EventLoop
	provider *channel.Provider
	release  func(context.Context) error
	ch       channel.Channel[[]byte]
	cancel   context.CancelFunc
	logger   *slog.Logger
}

func openSession(cmd *cobra.Command, opts *rootOptions, dial dialFunc, uri string) (*session, error) {
	ctx := cmd.Context()
	logger := opts.logger(cmd.ErrOrStderr()).With("channel", uri)

	face, release, err := dial(ctx, opts, logger)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := &session{release: release, logger: logger}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.loop = worker.NewEventLoop(worker.WithLoopWorkers(2), worker.WithLoopLogger(logger))
	if err := s.loop.Start(loopCtx); err != nil {
		s.Close()
		return nil, err
	}

	s.provider, err = channel.NewProvider(face, s.loop, channel.WithLogger(logger))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.ch, err = channel.New[[]byte](s.provider, uri, channel.BytesCodec{},
		channel.WithStrategy(channel.Strategy(opts.strategy)),
		channel.WithRetrievalTimeout(opts.timeout),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	opened, err := s.ch.Open(ctx)
	if err == nil {
		_, err = opened.Wait(ctx)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	return s, nil
}

// Close tears the session down; it is safe on a partially built session.
func (s *session) Close() {
	var errs []error
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	if s.provider != nil {
		errs = append(errs, s.provider.Close())
	}
	if s.loop != nil {
		errs = append(errs, s.loop.Stop(time.Second))
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.release != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, s.release(ctx))
	}
	if err := stderrors.Join(errs...); err != nil {
		s.logger.Debug("session close", "error", err)
	}
}
