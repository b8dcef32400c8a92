// Package payments validates out-of-process payments against the payment service provider
// that authorised them.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised payment states shared across gateways.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusAuthorized indicates funds are held and can be captured.
	StatusAuthorized Status = "authorized"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

var (
	// ErrUnsupportedGateway is returned when the manager has no gateway for a payment method.
	ErrUnsupportedGateway = errors.New("payments: unsupported gateway")
	// ErrPaymentReferenceMissing is returned when additional information lacks the PSP reference.
	ErrPaymentReferenceMissing = errors.New("payments: payment reference missing")
	// ErrPaymentNotAuthorized is returned when the PSP does not report the payment as authorised.
	ErrPaymentNotAuthorized = errors.New("payments: payment not authorized")
)

// ValidationRequest is the payment selected on an order at placement time.
type ValidationRequest struct {
	Method  string
	OrderID string
	Info    map[string]string
}

// PaymentDetails normalises PSP specific fields.
type PaymentDetails struct {
	Gateway   string
	Reference string
	Status    Status
	Amount    int64
	Currency  string
}

// Authorized reports whether the payment may proceed to order placement.
func (d PaymentDetails) Authorized() bool {
	return d.Status == StatusAuthorized || d.Status == StatusSucceeded
}

// Gateway validates a payment with its PSP.
type Gateway interface {
	ValidatePayment(ctx context.Context, req ValidationRequest) (PaymentDetails, error)
}

// Manager routes validation to the gateway registered for the Commerce payment method code.
type Manager struct {
	gateways       map[string]Gateway
	defaultGateway string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultGateway selects the gateway used for methods without an explicit registration.
func WithDefaultGateway(key string) ManagerOption {
	return func(m *Manager) {
		m.defaultGateway = strings.TrimSpace(strings.ToLower(key))
	}
}

// NewManager constructs a Manager over gateways keyed by payment method code.
func NewManager(gateways map[string]Gateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{gateways: copyMap}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(method string) (Gateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return nil, ErrUnsupportedGateway
	}
	if g, ok := m.gateways[strings.TrimSpace(strings.ToLower(method))]; ok {
		return g, nil
	}
	if m.defaultGateway != "" {
		if g, ok := m.gateways[m.defaultGateway]; ok {
			return g, nil
		}
	}
	return nil, ErrUnsupportedGateway
}

// ValidatePayment delegates to the resolved gateway and rejects payments that are not authorised.
func (m *Manager) ValidatePayment(ctx context.Context, req ValidationRequest) (PaymentDetails, error) {
	gateway, err := m.resolve(req.Method)
	if err != nil {
		return PaymentDetails{}, err
	}
	details, err := gateway.ValidatePayment(ctx, req)
	if err != nil {
		return details, err
	}
	if !details.Authorized() {
		return details, fmt.Errorf("%w: status %s", ErrPaymentNotAuthorized, details.Status)
	}
	return details, nil
}
