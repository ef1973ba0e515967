package natsclient

import (
	"context"
	"crypto/tls"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semchannels/errors"
	"github.com/c360/semchannels/metric"
	"github.com/c360/semchannels/pkg/retry"
)

func TestNewClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", client.URL())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Nil(t, client.Conn())
}

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	client, err := NewClient("nats://invalid:4222")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		client.recordFailure()
	}
	assert.NotEqual(t, StatusCircuitOpen, client.Status())

	client.recordFailure()
	assert.Equal(t, StatusCircuitOpen, client.Status())
	assert.Equal(t, int32(5), client.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.resetCircuit()
	assert.Equal(t, int32(0), client.Failures())
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, time.Second, client.Backoff())
}

func TestCircuitBreaker_ExponentialBackoff(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	assert.Equal(t, time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 2*time.Second, client.Backoff())

	for i := 0; i < 5; i++ {
		client.recordFailure()
	}
	assert.Equal(t, 4*time.Second, client.Backoff())

	for i := 0; i < 100; i++ {
		client.recordFailure()
	}
	assert.Equal(t, time.Minute, client.Backoff())
}

func TestCircuitBreaker_HalfOpens(t *testing.T) {
	client, err := NewClient("nats://localhost:4222", WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	client.testCircuit()
	assert.Equal(t, StatusDisconnected, client.Status())
}

func TestConnect_FailsFastWhileCircuitOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.setStatus(StatusCircuitOpen)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.True(t, errors.IsTransient(err))
}

func TestConnect_ClosedClient(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, client.Close(context.Background()))

	err = client.Connect(context.Background())
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
	assert.True(t, errors.IsFatal(err))
}

func TestConnectWithRetry_GivesUp(t *testing.T) {
	// nothing listens on port 1
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(100*time.Millisecond),
		WithCircuitBreakerThreshold(10),
	)
	require.NoError(t, err)

	var retries int
	cfg := retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		OnRetry:      func(int, error, time.Duration) { retries++ },
	}
	err = client.ConnectWithRetry(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 2, retries)
	assert.Equal(t, int32(3), client.Failures())
}

func TestNotConnected(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = client.RTT()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, errors.ErrNoConnection)

	err = client.Publish("ndn.a", []byte("x"))
	assert.True(t, errors.IsTransient(err))

	_, err = client.Subscribe("ndn.a", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Error(t, client.Flush(context.Background()))
	assert.NotEmpty(t, client.NewInbox())

	_, err = client.CreateKeyValueBucket(context.Background(), jetstream.KeyValueConfig{Bucket: "peers"})
	assert.Error(t, err)
}

func TestStatusString(t *testing.T) {
	tests := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range tests {
		assert.Equal(t, want, status.String())
	}
}

func TestConcurrentSafety(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			client.recordFailure()
		}()
		go func() {
			defer wg.Done()
			_ = client.Status()
			_ = client.GetStatus()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), client.Failures())
}

func TestWaitForConnection_Timeout(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err = client.WaitForConnection(ctx)
	assert.ErrorIs(t, err, errors.ErrConnectionTimeout)
}

func TestConnectionOptions(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithCredentials("user", "pass"),
		WithName("channeld"),
		WithCompression(true),
		WithTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
	)
	require.NoError(t, err)

	// base options plus credentials, TLS, name and compression
	assert.Len(t, client.ConnectionOptions(), 9+4)
}

func TestMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	client, err := NewClient("nats://localhost:4222", WithMetrics(registry), WithCircuitBreakerThreshold(1))
	require.NoError(t, err)

	client.recordFailure()

	var m dto.Metric
	require.NoError(t, registry.CoreMetrics().NATSCircuitBreaker.Write(&m))
	assert.Equal(t, float64(circuitOpen), m.GetGauge().GetValue())

	client.resetCircuit()
	require.NoError(t, registry.CoreMetrics().NATSCircuitBreaker.Write(&m))
	assert.Equal(t, float64(circuitClosed), m.GetGauge().GetValue())

	client.setStatus(StatusConnected)
	require.NoError(t, registry.CoreMetrics().NATSConnected.Write(&m))
	assert.Equal(t, 1.0, m.GetGauge().GetValue())
}

func TestIsAlreadyExistsError(t *testing.T) {
	assert.False(t, isAlreadyExistsError(nil))
	assert.False(t, isAlreadyExistsError(assert.AnError))
	assert.True(t, isAlreadyExistsError(errorString("stream name already in use")))
	assert.True(t, isAlreadyExistsError(errorString("bucket already exists")))
}

func TestKVErrorHelpers(t *testing.T) {
	assert.True(t, IsKVNotFoundError(ErrKVKeyNotFound))
	assert.True(t, IsKVNotFoundError(errorString("nats: key not found")))
	assert.False(t, IsKVNotFoundError(nil))
	assert.True(t, IsKVConflictError(ErrKVKeyExists))
	assert.True(t, IsKVConflictError(errorString("wrong last sequence: 4")))
	assert.False(t, IsKVConflictError(ErrKVKeyNotFound))
}

type errorString string

func (e errorString) Error() string { return string(e) }
