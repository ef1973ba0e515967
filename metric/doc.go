// Package metric owns the node's Prometheus registry.
//
// NewMetricsRegistry registers the core channel metrics (open channels,
// publishes, answered requests by resolution kind, response bytes, fetch
// failures, callback failures, fetch latency, state vector size) and the NATS
// connection metrics. Components add their own collectors through the
// MetricsRegistrar interface; duplicate registrations are rejected with an
// invalid-class error rather than a panic.
//
// Server exposes the registry on /metrics and the health.Monitor aggregate on
// /health, answering 503 while any component is unhealthy.
package metric
