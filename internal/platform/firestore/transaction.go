package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// Reservations touch a single small document, so contention clears quickly or not at all.
const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 5 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a transaction run.
type TxOption func(*txPolicy)

type txPolicy struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how often Firestore retries a contended transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(p *txPolicy) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction, retries included.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(p *txPolicy) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func newTxPolicy(opts []TxOption) txPolicy {
	p := txPolicy{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	return p
}

// RunTransaction executes fn within a transaction on client. A caller deadline shorter than the
// policy timeout is left untouched.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	switch {
	case client == nil:
		return WrapError("transaction", errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	policy := newTxPolicy(opts)
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > policy.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.timeout)
		defer cancel()
	}

	err := client.RunTransaction(ctx, fn, firestore.MaxAttempts(policy.attempts))
	return WrapError("transaction", err)
}
