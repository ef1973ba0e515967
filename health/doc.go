// Health statuses come in three levels: healthy, degraded and unhealthy.
// Channels register a Probe with the node's Monitor when they open and remove
// it when they close; the transport pushes its connection state with Update.
// AggregateHealth folds everything into the node status served on /health.
//
// Error messages are sanitized before they reach a Status so connection URLs
// and credentials never leak through the endpoint.
package health
