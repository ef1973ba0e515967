// Package chronosync replicates a small state vector, one sequence id per
// publisher, among the members of a broadcast group.
//
// Members exchange digests of their vectors over the face: each keeps one
// sync request named
//
//	/bcast/<group>/<digest-hex>/<publisher>
//
// outstanding. Members with the same digest hold the request until their own
// vector changes; members with another digest answer with the complement
// recorded in their History, or with the whole vector for a digest they never
// saw. Local publishes are additionally announced as
//
//	/bcast/<group>/update/<publisher>/<sequence>
//
// Publishers that go quiet are pruned through a PeerTracker, backed either by
// a TTL cache or by a JetStream KV bucket shared between nodes.
package chronosync
