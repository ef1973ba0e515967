//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_ConnectToRealNATS(t *testing.T) {
	tc := NewTestClient(t)

	assert.True(t, tc.Client.IsHealthy())
	assert.Equal(t, StatusConnected, tc.Client.Status())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestIntegration_HeadersAndReplies(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	_, err := tc.Client.Subscribe("ndn.a.b", func(msg *nats.Msg) {
		reply := nats.NewMsg(msg.Reply)
		reply.Header.Set("Ndn-Name", msg.Header.Get("Ndn-Name"))
		reply.Data = []byte("pong")
		_ = tc.Client.PublishMsg(reply)
	})
	require.NoError(t, err)
	require.NoError(t, tc.Client.Flush(ctx))

	inbox := tc.Client.NewInbox()
	replies := make(chan *nats.Msg, 1)
	sub, err := tc.Client.Subscribe(inbox, func(msg *nats.Msg) { replies <- msg })
	require.NoError(t, err)
	defer func() { _ = tc.Client.Unsubscribe(sub) }()

	req := nats.NewMsg("ndn.a.b")
	req.Reply = inbox
	req.Header.Set("Ndn-Name", "/a/b")
	require.NoError(t, tc.Client.PublishMsg(req))

	select {
	case msg := <-replies:
		assert.Equal(t, "pong", string(msg.Data))
		assert.Equal(t, "/a/b", msg.Header.Get("Ndn-Name"))
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
}

func TestIntegration_Close(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()

	_, err := tc.Client.Subscribe("ndn.x", func(*nats.Msg) {})
	require.NoError(t, err)

	require.NoError(t, tc.Client.Close(ctx))
	assert.Equal(t, StatusDisconnected, tc.Client.Status())
	assert.Error(t, tc.Client.Publish("ndn.x", nil))
}
