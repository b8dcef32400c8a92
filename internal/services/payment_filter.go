package services

import (
	"context"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/textutil"
)

// PaymentFilterRule removes a payment method as many times as Matches reports for a payload.
type PaymentFilterRule struct {
	Name    string
	Method  string
	Matches func(payload domain.PaymentFilterPayload) int
}

// DefaultPaymentFilterRules hides check/money order for everyone, cash on delivery for customer
// group 1 and bank transfer for every item whose country of origin is China.
func DefaultPaymentFilterRules() []PaymentFilterRule {
	return []PaymentFilterRule{
		{Name: "always", Method: "checkmo", Matches: func(domain.PaymentFilterPayload) int { return 1 }},
		{Name: "customer_group", Method: "cashondelivery", Matches: CustomerGroupRule("1")},
		{Name: "country_origin", Method: "banktransfer", Matches: ProductAttributeRule("country_origin", "china")},
	}
}

// CustomerGroupRule matches logged-in customers in the given group.
func CustomerGroupRule(groupID string) func(domain.PaymentFilterPayload) int {
	return func(payload domain.PaymentFilterPayload) int {
		if payload.Customer != nil && payload.Customer.GroupID == groupID {
			return 1
		}
		return 0
	}
}

// ProductAttributeRule counts cart items whose attribute equals value under case folding.
func ProductAttributeRule(attribute, value string) func(domain.PaymentFilterPayload) int {
	return func(payload domain.PaymentFilterPayload) int {
		var n int
		for _, item := range payload.Cart.Items {
			if textutil.EqualFold(item.Product.Attribute(attribute), value) {
				n++
			}
		}
		return n
	}
}

// PaymentFilterService answers the filter-payment webhook.
type PaymentFilterService interface {
	Filter(ctx context.Context, payload domain.PaymentFilterPayload) ([]domain.Operation, error)
}

// PaymentFilterServiceDeps bundles the collaborators of the payment filter.
type PaymentFilterServiceDeps struct {
	Rules  []PaymentFilterRule
	Logger func(context.Context, string, map[string]any)
}

type paymentFilterService struct {
	rules  []PaymentFilterRule
	logger func(context.Context, string, map[string]any)
}

// NewPaymentFilterService builds the filter. Without rules the defaults apply.
func NewPaymentFilterService(deps PaymentFilterServiceDeps) (PaymentFilterService, error) {
	rules := deps.Rules
	if len(rules) == 0 {
		rules = DefaultPaymentFilterRules()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentFilterService{rules: rules, logger: logger}, nil
}

// Filter returns one removal operation per rule match, in rule order.
func (s *paymentFilterService) Filter(ctx context.Context, payload domain.PaymentFilterPayload) ([]domain.Operation, error) {
	ops := make([]domain.Operation, 0, len(s.rules))
	removed := make([]string, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Matches == nil || rule.Method == "" {
			continue
		}
		for i := rule.Matches(payload); i > 0; i-- {
			ops = append(ops, PaymentRemovalOperation(rule.Method))
			removed = append(removed, rule.Method)
		}
	}

	s.logger(ctx, "payment.filtered", map[string]any{
		"cartItems": len(payload.Cart.Items),
		"removed":   removed,
	})
	return ops, nil
}

// PaymentRemovalOperation hides a payment method from checkout.
func PaymentRemovalOperation(code string) domain.Operation {
	return domain.Operation{
		Op:    domain.OpAdd,
		Path:  "result",
		Value: domain.PaymentMethodCode{Code: code},
	}
}
