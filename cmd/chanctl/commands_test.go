package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/transport"
	"github.com/c360/semchannels/transport/memory"
)

const testURI = "ndn:/test/chanctl"

func memDial(hub *memory.Hub) dialFunc {
	return func(context.Context, *rootOptions, *slog.Logger) (transport.Face, func(context.Context) error, error) {
		face := hub.NewFace()
		return face, func(context.Context) error { return face.Close() }, nil
	}
}

// syncBuffer lets a command write output while the test reads it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runCommand(ctx context.Context, hub *memory.Hub, out io.Writer, args ...string) error {
	root := newRootCommand(memDial(hub))
	root.SetArgs(append([]string{"--timeout=1s", "--log-level=error"}, args...))
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader("from stdin"))
	return root.ExecuteContext(ctx)
}

func openPublisher(t *testing.T, hub *memory.Hub, strategy string) *session {
	t.Helper()
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetErr(io.Discard)

	opts := &rootOptions{subjectRoot: "ndn", strategy: strategy, timeout: time.Second, logLevel: "error"}
	s, err := openSession(cmd, opts, memDial(hub), testURI)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestLatestAndEarliest(t *testing.T) {
	hub := memory.NewHub()
	pub := openPublisher(t, hub, "notification")
	for _, msg := range []string{"first", "second", "third"} {
		require.NoError(t, pub.ch.Publish([]byte(msg)))
	}

	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), hub, &out, "latest", testURI))
	assert.Equal(t, "third\n", out.String())

	out.Reset()
	require.NoError(t, runCommand(context.Background(), hub, &out, "earliest", testURI))
	assert.Equal(t, "first\n", out.String())
}

func TestGet(t *testing.T) {
	hub := memory.NewHub()
	pub := openPublisher(t, hub, "notification")
	require.NoError(t, pub.ch.Publish([]byte("wanted")))
	latest := pub.ch.Stats().Latest
	require.NotNil(t, latest)

	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), hub, &out, "get", testURI, strconv.FormatUint(*latest, 10)))
	assert.Equal(t, "wanted\n", out.String())
}

func TestGetErrors(t *testing.T) {
	hub := memory.NewHub()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "bad id", args: []string{"get", testURI, "abc"}, wantErr: "invalid id"},
		{name: "missing args", args: []string{"get", testURI}, wantErr: "accepts 2 arg(s)"},
		{name: "sync needs publisher", args: []string{"--strategy=chronosync", "get", testURI, "1"}, wantErr: "--publisher is required"},
		{name: "bad uri", args: []string{"get", "/no/scheme", "1"}, wantErr: "ndn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runCommand(context.Background(), hub, io.Discard, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFetchTimesOutWithoutPublisher(t *testing.T) {
	hub := memory.NewHub()

	start := time.Now()
	err := runCommand(context.Background(), hub, io.Discard, "latest", testURI)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPublish(t *testing.T) {
	hub := memory.NewHub()

	var out bytes.Buffer
	require.NoError(t, runCommand(context.Background(), hub, &out, "publish", "--linger=0s", testURI, "a", "b"))
	assert.Contains(t, out.String(), "published 2 message(s)")
	assert.Contains(t, out.String(), "latest id")
}

func TestPublishServesUntilLingerEnds(t *testing.T) {
	hub := memory.NewHub()
	out := &syncBuffer{}

	done := make(chan error, 1)
	go func() {
		done <- runCommand(context.Background(), hub, out, "publish", "--linger=3s", testURI, "-")
	}()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "published 1") },
		2*time.Second, 10*time.Millisecond)

	var got bytes.Buffer
	require.NoError(t, runCommand(context.Background(), hub, &got, "latest", testURI))
	assert.Equal(t, "from stdin\n", got.String())

	require.NoError(t, <-done)
}

func TestSubscribe(t *testing.T) {
	hub := memory.NewHub()
	pub := openPublisher(t, hub, "notification")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runCommand(ctx, hub, out, "subscribe", "-n", "2", testURI)
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			lines := strings.Split(strings.TrimSpace(out.String()), "\n")
			assert.Equal(t, []string{"tick", "tick"}, lines)
			return
		case <-ticker.C:
			_ = pub.ch.Publish([]byte("tick"))
		case <-ctx.Done():
			t.Fatal("subscriber did not receive two messages")
		}
	}
}

func TestReadMessages(t *testing.T) {
	msgs, err := readMessages(strings.NewReader("piped"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("piped")}, msgs)

	msgs, err = readMessages(nil, []string{"x", "y"})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("x"), []byte("y")}, msgs)
}
