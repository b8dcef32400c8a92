// Package state keeps short-lived key/value entries such as consumed third-party events and
// request nonces. Entries expire after their TTL; expired entries read as missing.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// DefaultTTL is used when callers pass a non-positive TTL.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("state: not found")
	// ErrInvalidKey is returned for blank keys.
	ErrInvalidKey = errors.New("state: key is required")
)

// Store persists values with expiry.
type Store interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// PutIfAbsent stores value only when key is absent or expired and reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
}

func normalizeKey(key string) (string, error) {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return "", ErrInvalidKey
	}
	return trimmed, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
