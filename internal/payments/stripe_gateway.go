package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// Additional information keys read by the Stripe gateway.
const (
	StripePaymentIntentKey = "payment_intent_id"
	StripePaymentMethodKey = "payment_method_id"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clients   *stripeClients
}

// StripeGateway validates payments authorised through Stripe PaymentIntents. A payment is valid
// when its intent is awaiting capture or already succeeded. Carts that only attached a
// PaymentMethod are accepted once the method exists.
type StripeGateway struct {
	api     stripeClients
	account string
	logger  StripeLogger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.intents == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// ValidatePayment looks up the PaymentIntent (or PaymentMethod) referenced by the order.
func (g *StripeGateway) ValidatePayment(ctx context.Context, req ValidationRequest) (PaymentDetails, error) {
	if g == nil {
		return PaymentDetails{}, errors.New("stripe: gateway is nil")
	}
	if intentID := strings.TrimSpace(req.Info[StripePaymentIntentKey]); intentID != "" {
		details, err := g.lookupIntent(ctx, intentID)
		if err != nil {
			return PaymentDetails{}, err
		}
		g.logger(ctx, "payments.stripe.intent.validated", map[string]any{
			"paymentIntent": intentID,
			"orderId":       req.OrderID,
			"status":        string(details.Status),
		})
		return details, nil
	}
	if methodID := strings.TrimSpace(req.Info[StripePaymentMethodKey]); methodID != "" {
		return g.lookupMethod(ctx, methodID)
	}
	return PaymentDetails{}, fmt.Errorf("%w: %s or %s required", ErrPaymentReferenceMissing, StripePaymentIntentKey, StripePaymentMethodKey)
}

func (g *StripeGateway) lookupIntent(ctx context.Context, id string) (PaymentDetails, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	intent, err := g.api.intents.Get(id, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	return stripePaymentDetails(intent), nil
}

func (g *StripeGateway) lookupMethod(ctx context.Context, id string) (PaymentDetails, error) {
	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	pm, err := g.api.paymentMethods.Get(id, params)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment method: %w", err)
	}
	details := PaymentDetails{Gateway: "stripe", Reference: id, Status: StatusPending}
	if pm != nil && strings.TrimSpace(pm.ID) != "" {
		details.Reference = pm.ID
		details.Status = StatusAuthorized
	}
	return details, nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{Gateway: "stripe", Status: StatusFailed}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusRequiresCapture:
		status = StatusAuthorized
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	return PaymentDetails{
		Gateway:   "stripe",
		Reference: intent.ID,
		Status:    status,
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
	}
}
