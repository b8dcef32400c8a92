package state

import (
	"context"
	"time"
)

// NonceStore records request nonces in a Store so replays are rejected across instances.
type NonceStore struct {
	store Store
	now   func() time.Time
}

// NewNonceStore adapts store for nonce tracking.
func NewNonceStore(store Store, now func() time.Time) *NonceStore {
	if now == nil {
		now = time.Now
	}
	return &NonceStore{store: store, now: now}
}

// UseNonce reports true when the nonce was recorded and false when it was seen before expiry.
func (n *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	ttl := expiry.Sub(n.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	return n.store.PutIfAbsent(ctx, "nonce:"+hashKey(scope+"\x00"+nonce), []byte{1}, ttl)
}
