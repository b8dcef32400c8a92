// Package idempotency replays the stored response of a request retried with the same
// Idempotency-Key, so a retried third-party publish does not emit a second CloudEvent.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/commerce-checkout/internal/platform/state"
)

// DefaultTTL is how long completed responses are replayable.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "idempotency:"

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should run the handler.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means Record holds a response to replay.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Reservation wraps the reserve outcome and any stored record.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is the JSON document kept in the state store.
type Record struct {
	Fingerprint     string              `json:"fingerprint"`
	Status          Status              `json:"status"`
	ResponseStatus  int                 `json:"response_status,omitempty"`
	ResponseHeaders map[string][]string `json:"response_headers,omitempty"`
	ResponseBody    []byte              `json:"response_body,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Response is the handler output captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store keeps reservations in a state.Store, which handles expiry.
type Store struct {
	kv state.Store
}

// NewStore wraps kv. A nil kv yields a nil store, which disables the middleware.
func NewStore(kv state.Store) *Store {
	if kv == nil {
		return nil
	}
	return &Store{kv: kv}
}

// Reserve claims key for fingerprint or reports the existing record.
func (s *Store) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	pending, err := json.Marshal(Record{Fingerprint: fingerprint, Status: StatusPending, UpdatedAt: now})
	if err != nil {
		return Reservation{}, err
	}
	stored, err := s.kv.PutIfAbsent(ctx, storageKey(key), pending, ttl)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if stored {
		return Reservation{State: ReservationStateNew}, nil
	}

	raw, err := s.kv.Get(ctx, storageKey(key))
	if errors.Is(err, state.ErrNotFound) {
		// Expired between the two calls; the client retries.
		return Reservation{State: ReservationStatePending}, nil
	}
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	if record.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if record.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: record}, nil
	}
	return Reservation{State: ReservationStatePending, Record: record}, nil
}

// SaveResponse completes the reservation with resp.
func (s *Store) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	data, err := json.Marshal(Record{
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: sanitizeHeaders(resp.Headers),
		ResponseBody:    resp.Body,
		UpdatedAt:       now,
	})
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, storageKey(key), data, ttl)
}

// Release drops a pending reservation so the request can be retried.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, storageKey(key))
}

func storageKey(key string) string {
	return keyPrefix + sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sanitizeHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	filtered := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if shouldOmitHeader(canonical) {
			continue
		}
		filtered[canonical] = append([]string(nil), values...)
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

func shouldOmitHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade":
		return true
	default:
		return false
	}
}
