package state

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/commerce-checkout/internal/platform/firestore"
)

const defaultFirestoreCollection = "checkout_state"

type firestoreEntry struct {
	Key       string    `firestore:"key"`
	Value     []byte    `firestore:"value"`
	ExpiresAt time.Time `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreStore keeps entries as documents keyed by the SHA-256 of the state key. Expired
// documents read as missing until CleanupExpired or a Firestore TTL policy removes them.
type FirestoreStore struct {
	entries *pfirestore.Collection[firestoreEntry]
	now     func() time.Time
}

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*firestoreOptions)

type firestoreOptions struct {
	collection string
	now        func() time.Time
}

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(o *firestoreOptions) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithFirestoreClock injects a clock for tests.
func WithFirestoreClock(now func() time.Time) FirestoreOption {
	return func(o *firestoreOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	o := firestoreOptions{collection: defaultFirestoreCollection, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &FirestoreStore{
		entries: pfirestore.NewCollection[firestoreEntry](provider, o.collection, nil, nil),
		now:     func() time.Time { return o.now().UTC() },
	}
}

var _ Store = (*FirestoreStore)(nil)

// Put implements Store.
func (s *FirestoreStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	now := s.now()
	return s.entries.Set(ctx, hashKey(key), firestoreEntry{
		Key:       key,
		Value:     cloneBytes(value),
		ExpiresAt: now.Add(normalizeTTL(ttl)),
		UpdatedAt: now,
	})
}

// Get implements Store.
func (s *FirestoreStore) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	doc, err := s.entries.Get(ctx, hashKey(key))
	if pfirestore.IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: firestore get: %w", err)
	}
	if !s.now().Before(doc.Data.ExpiresAt) {
		return nil, ErrNotFound
	}
	return doc.Data.Value, nil
}

// Delete implements Store.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	return s.entries.Delete(ctx, hashKey(key))
}

// PutIfAbsent implements Store inside a transaction so concurrent callers cannot both win.
func (s *FirestoreStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	var stored bool
	err = s.entries.Upsert(ctx, hashKey(key), func(current *pfirestore.Document[firestoreEntry]) (firestoreEntry, bool, error) {
		now := s.now()
		stored = current == nil || !now.Before(current.Data.ExpiresAt)
		if !stored {
			return firestoreEntry{}, false, nil
		}
		return firestoreEntry{
			Key:       key,
			Value:     cloneBytes(value),
			ExpiresAt: now.Add(normalizeTTL(ttl)),
			UpdatedAt: now,
		}, true, nil
	})
	if err != nil {
		return false, fmt.Errorf("state: firestore put-if-absent: %w", err)
	}
	return stored, nil
}

// Ping implements Store by reading a sentinel document.
func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.entries.Get(ctx, "_ping")
	if err == nil || pfirestore.IsNotFound(err) {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit expired documents.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, limit int) (int, error) {
	now := s.now()
	return s.entries.DeleteWhere(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expires_at", "<=", now)
	}, limit)
}
