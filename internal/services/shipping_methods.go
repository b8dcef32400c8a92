package services

import (
	"context"
	"errors"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/textutil"
)

// ErrRateRequestMissing is returned when the webhook body has no rateRequest.
var ErrRateRequestMissing = errors.New("shipping: rateRequest is required")

// ShippingCarrierCode is the out-of-process carrier offered by this service.
const ShippingCarrierCode = "CPS"

// ShippingMethodRule offers Method when Applies reports true for the rate request.
type ShippingMethodRule struct {
	Method  domain.ShippingMethod
	Applies func(req domain.RateRequest) bool
}

// DefaultShippingMethodRules always offers the first custom method and adds the second one for
// numeric destination postcodes above 30000.
func DefaultShippingMethodRules() []ShippingMethodRule {
	return []ShippingMethodRule{
		{
			Method: domain.ShippingMethod{
				CarrierCode: ShippingCarrierCode,
				Method:      "cps_shipping_one",
				MethodTitle: "CPS Custom Shipping One",
				Price:       17,
				Cost:        17,
				AdditionalData: []domain.KeyValue{
					{Key: "additional_data_key", Value: "additional_data_value"},
					{Key: "additional_data_key2", Value: "additional_data_value2"},
					{Key: "additional_data_key3", Value: "additional_data_value3"},
				},
			},
			Applies: func(domain.RateRequest) bool { return true },
		},
		{
			Method: domain.ShippingMethod{
				CarrierCode: ShippingCarrierCode,
				Method:      "cps_shipping_two",
				MethodTitle: "CPS Custom Shipping Two",
				Price:       18,
				Cost:        18,
				AdditionalData: []domain.KeyValue{
					{Key: "additional_data_key", Value: "additional_data_value"},
				},
			},
			Applies: PostcodeAbove(30000),
		},
	}
}

// PostcodeAbove matches numeric destination postcodes greater than limit.
func PostcodeAbove(limit float64) func(domain.RateRequest) bool {
	return func(req domain.RateRequest) bool {
		v, ok := req.DestPostcode.Numeric()
		return ok && v > limit
	}
}

// ShippingMethodService answers the shipping-methods webhook.
type ShippingMethodService interface {
	Quote(ctx context.Context, req *domain.RateRequest) ([]domain.Operation, error)
}

// ShippingMethodServiceDeps bundles the collaborators of the shipping quote service.
type ShippingMethodServiceDeps struct {
	Rules  []ShippingMethodRule
	Logger func(context.Context, string, map[string]any)
}

type shippingMethodService struct {
	rules  []ShippingMethodRule
	logger func(context.Context, string, map[string]any)
}

// NewShippingMethodService builds the service. Without rules the defaults apply.
func NewShippingMethodService(deps ShippingMethodServiceDeps) (ShippingMethodService, error) {
	rules := deps.Rules
	if len(rules) == 0 {
		rules = DefaultShippingMethodRules()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &shippingMethodService{rules: rules, logger: logger}, nil
}

// Quote returns one add operation per applicable method.
func (s *shippingMethodService) Quote(ctx context.Context, req *domain.RateRequest) ([]domain.Operation, error) {
	if req == nil {
		return nil, ErrRateRequestMissing
	}

	ops := make([]domain.Operation, 0, len(s.rules))
	methods := make([]string, 0, len(s.rules))
	for _, rule := range s.rules {
		if rule.Applies != nil && !rule.Applies(*req) {
			continue
		}
		method := rule.Method
		method.MethodTitle = textutil.PlainText(method.MethodTitle)
		if method.AdditionalData == nil {
			method.AdditionalData = []domain.KeyValue{}
		}
		ops = append(ops, domain.Operation{Op: domain.OpAdd, Path: "result", Value: method})
		methods = append(methods, method.Method)
	}

	s.logger(ctx, "shipping.quoted", map[string]any{
		"postcode": string(req.DestPostcode),
		"methods":  methods,
	})
	return ops, nil
}
