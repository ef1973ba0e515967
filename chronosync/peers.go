package chronosync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/c360/semchannels/name"
	"github.com/c360/semchannels/natsclient"
	"github.com/c360/semchannels/pkg/cache"
	"github.com/c360/semchannels/pkg/timestamp"
)

// DefaultPeerTimeout is how long a publisher stays alive without being heard.
const DefaultPeerTimeout = 30 * time.Second

// PeerTracker records when remote publishers were last heard from. A
// publisher that is not alive is pruned from the state vector; it rejoins
// with its next newer state.
type PeerTracker interface {
	Touch(ctx context.Context, publisher uint64) error
	Alive(ctx context.Context, publisher uint64) bool
	Forget(ctx context.Context, publisher uint64) error
	Close() error
}

// MemoryPeerTracker keeps liveness in a process-local TTL cache.
type MemoryPeerTracker struct {
	peers cache.Cache[time.Time]
}

// NewMemoryPeerTracker creates a tracker forgetting peers after timeout.
func NewMemoryPeerTracker(ctx context.Context, timeout time.Duration, opts ...cache.Option[time.Time]) (*MemoryPeerTracker, error) {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	peers, err := cache.NewTTL[time.Time](ctx, timeout, timeout/2, opts...)
	if err != nil {
		return nil, err
	}
	return &MemoryPeerTracker{peers: peers}, nil
}

// Touch implements PeerTracker.
func (m *MemoryPeerTracker) Touch(_ context.Context, publisher uint64) error {
	_, err := m.peers.Set(peerKey(publisher), time.Now())
	return err
}

// Alive implements PeerTracker.
func (m *MemoryPeerTracker) Alive(_ context.Context, publisher uint64) bool {
	_, ok := m.peers.Get(peerKey(publisher))
	return ok
}

// Forget implements PeerTracker.
func (m *MemoryPeerTracker) Forget(_ context.Context, publisher uint64) error {
	_, err := m.peers.Delete(peerKey(publisher))
	return err
}

// Close implements PeerTracker.
func (m *MemoryPeerTracker) Close() error {
	return m.peers.Close()
}

// KVPeerTracker keeps liveness in a JetStream KV bucket whose TTL expires
// silent publishers, so every node sharing the bucket sees the same peers.
type KVPeerTracker struct {
	kv    *natsclient.KVStore
	group string
}

// NewKVPeerTracker tracks the peers of one sync group in kv. Keys are
// "<group hash>.<publisher>" since group names may hold bytes KV keys reject.
func NewKVPeerTracker(kv *natsclient.KVStore, group name.Name) *KVPeerTracker {
	sum := sha256.Sum256([]byte(group.String()))
	return &KVPeerTracker{kv: kv, group: hex.EncodeToString(sum[:16])}
}

func (k *KVPeerTracker) key(publisher uint64) string {
	return k.group + "." + peerKey(publisher)
}

// Touch implements PeerTracker.
func (k *KVPeerTracker) Touch(ctx context.Context, publisher uint64) error {
	stamp := timestamp.Encode(timestamp.Now())
	if _, err := k.kv.Put(ctx, k.key(publisher), []byte(stamp)); err != nil {
		return fmt.Errorf("touch peer %s: %w", peerKey(publisher), err)
	}
	return nil
}

// Alive implements PeerTracker. Lookup failures other than a missing key
// count as alive, so a KV outage never prunes the vector.
func (k *KVPeerTracker) Alive(ctx context.Context, publisher uint64) bool {
	_, err := k.kv.Get(ctx, k.key(publisher))
	if err == nil {
		return true
	}
	return !natsclient.IsKVNotFoundError(err)
}

// Forget implements PeerTracker.
func (k *KVPeerTracker) Forget(ctx context.Context, publisher uint64) error {
	err := k.kv.Delete(ctx, k.key(publisher))
	if err != nil && !natsclient.IsKVNotFoundError(err) {
		return err
	}
	return nil
}

// Close implements PeerTracker. The bucket is owned by the caller.
func (k *KVPeerTracker) Close() error {
	return nil
}

func peerKey(publisher uint64) string {
	return strconv.FormatUint(publisher, 16)
}
