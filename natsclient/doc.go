// Package natsclient owns a node's NATS connection.
//
// The Client wraps nats.go with a circuit breaker around connection attempts,
// slog logging and Prometheus connection metrics. Once connected, reconnects
// are handled by nats.go and reported through callbacks.
//
// # Circuit Breaker
//
// After a threshold of failed Connect calls (default 5) the circuit opens and
// Connect fails fast with ErrCircuitOpen. The circuit half-opens after a
// backoff that doubles each time it opens, up to a maximum (default 1m).
// ConnectWithRetry waits out an open circuit with retry.Connect style backoff:
//
//	client, err := natsclient.NewClient(url,
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.ConnectWithRetry(ctx, retry.Connect()); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// # Messaging
//
// Subscribe, PublishMsg, NewInbox and Flush are the primitives the NATS face
// builds request/response exchange on. Headers and reply subjects pass
// through unchanged. Flush confirms that preceding subscriptions are active
// on the server.
//
// # Key-Value
//
// CreateKeyValueBucket is idempotent across nodes. KVStore adds per-operation
// timeouts, bounded retries on Put and typed not-found and conflict errors.
// Sync channels keep publisher liveness in a bucket whose TTL expires silent
// peers.
//
// # Testing
//
// NewTestClient starts a NATS server with testcontainers:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithKVBucket("peers", time.Minute))
//	kv, err := tc.KVStore(ctx, "peers")
package natsclient
