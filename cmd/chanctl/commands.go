package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/semchannels/channel"
	"github.com/c360/semchannels/pkg/future"
)

func newPublishCommand(opts *rootOptions, dial dialFunc) *cobra.Command {
	var linger time.Duration

	cmd := &cobra.Command{
		Use:   "publish <uri> <message>...",
		Short: "Publish messages, then keep serving them for --linger",
		Long: "Publish each argument as one message. A single \"-\" publishes stdin.\n" +
			"Messages are served from this process, so it stays up for --linger\n" +
			"to let subscribers fetch them.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := readMessages(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}

			s, err := openSession(cmd, opts, dial, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			for _, msg := range messages {
				if err := s.ch.Publish(msg); err != nil {
					return fmt.Errorf("publish: %w", err)
				}
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "published %d message(s)", len(messages))
			if latest := s.ch.Stats().Latest; latest != nil {
				_, _ = fmt.Fprintf(out, ", latest id %d", *latest)
			}
			if sc, ok := s.ch.(*channel.SyncChannel[[]byte]); ok {
				_, _ = fmt.Fprintf(out, ", publisher %x", sc.Publisher())
			}
			_, _ = fmt.Fprintln(out)

			select {
			case <-cmd.Context().Done():
			case <-time.After(linger):
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&linger, "linger", 10*time.Second, "How long to keep answering requests after publishing")
	return cmd
}

func readMessages(stdin io.Reader, args []string) ([][]byte, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return [][]byte{data}, nil
	}
	messages := make([][]byte, len(args))
	for i, a := range args {
		messages[i] = []byte(a)
	}
	return messages, nil
}

func newGetCommand(opts *rootOptions, dial dialFunc) *cobra.Command {
	var publisher string

	cmd := &cobra.Command{
		Use:   "get <uri> <id>",
		Short: "Fetch one message by sequence id",
		Long: "Fetch the message published under <id>. On chronosync channels\n" +
			"--publisher selects whose sequence <id> belongs to.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[1], err)
			}

			s, err := openSession(cmd, opts, dial, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			var result *future.Future[[]byte]
			switch ch := s.ch.(type) {
			case *channel.NotificationChannel[[]byte]:
				result, err = ch.Get(cmd.Context(), id)
			case *channel.SyncChannel[[]byte]:
				if publisher == "" {
					return fmt.Errorf("--publisher is required on %s channels", channel.StrategySync)
				}
				pub, perr := strconv.ParseUint(publisher, 16, 64)
				if perr != nil {
					return fmt.Errorf("invalid publisher %q: %w", publisher, perr)
				}
				result, err = ch.Get(cmd.Context(), pub, id)
			default:
				return fmt.Errorf("unsupported channel type %T", s.ch)
			}
			if err != nil {
				return err
			}
			return printResult(cmd.Context(), cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&publisher, "publisher", "", "Publisher id in hex (chronosync channels)")
	return cmd
}

func newFetchCommand(opts *rootOptions, dial dialFunc, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <uri>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, dial, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			fetch := s.ch.Latest
			if use == "earliest" {
				fetch = s.ch.Earliest
			}
			result, err := fetch(cmd.Context())
			if err != nil {
				return err
			}
			return printResult(cmd.Context(), cmd.OutOrStdout(), result)
		},
	}
}

func printResult(ctx context.Context, w io.Writer, result *future.Future[[]byte]) error {
	msg, err := result.Wait(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", msg)
	return err
}

func newSubscribeCommand(opts *rootOptions, dial dialFunc) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "subscribe <uri>",
		Short: "Print messages as they are published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, opts, dial, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			received := make(chan []byte, 64)
			if err := s.ch.Subscribe(func(msg []byte) {
				select {
				case received <- msg:
				case <-cmd.Context().Done():
				}
			}); err != nil {
				return err
			}
			s.logger.Info("subscribed")

			for n := 0; count <= 0 || n < count; n++ {
				select {
				case <-cmd.Context().Done():
					return nil
				case msg := <-received:
					if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n", msg); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many messages (0 = until interrupted)")
	return cmd
}
