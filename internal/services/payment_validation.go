package services

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/payments"
)

var (
	// ErrPaymentInfoMissing is returned when a supported method arrives without additional information.
	ErrPaymentInfoMissing = errors.New("payment_additional_information not found in the request")
	// ErrPaymentRejected is returned when the gateway does not confirm the payment.
	ErrPaymentRejected = errors.New("payment could not be validated with the gateway")
)

// PaymentGateway validates a payment with its PSP.
type PaymentGateway interface {
	ValidatePayment(ctx context.Context, req payments.ValidationRequest) (payments.PaymentDetails, error)
}

// PaymentValidationService answers the validate-payment webhook. A nil error means the order may
// be placed.
type PaymentValidationService interface {
	Validate(ctx context.Context, orderID string, payment domain.OrderPayment) error
}

// PaymentValidationServiceDeps bundles the collaborators of the payment validator.
type PaymentValidationServiceDeps struct {
	SupportedMethods []string
	Gateway          PaymentGateway
	Logger           func(context.Context, string, map[string]any)
}

type paymentValidationService struct {
	supported map[string]struct{}
	gateway   PaymentGateway
	logger    func(context.Context, string, map[string]any)
}

// NewPaymentValidationService builds the validator.
func NewPaymentValidationService(deps PaymentValidationServiceDeps) (PaymentValidationService, error) {
	supported := make(map[string]struct{}, len(deps.SupportedMethods))
	for _, code := range deps.SupportedMethods {
		if code = strings.TrimSpace(code); code != "" {
			supported[code] = struct{}{}
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentValidationService{supported: supported, gateway: deps.Gateway, logger: logger}, nil
}

func (s *paymentValidationService) Validate(ctx context.Context, orderID string, payment domain.OrderPayment) error {
	if _, ok := s.supported[payment.Method]; !ok {
		s.logger(ctx, "payment.validation.skipped", map[string]any{"method": payment.Method, "reason": "unsupported_method"})
		return nil
	}
	if !payment.AdditionalInformation.Present {
		s.logger(ctx, "payment.validation.rejected", map[string]any{"method": payment.Method, "reason": "additional_information_missing"})
		return ErrPaymentInfoMissing
	}
	if s.gateway == nil {
		s.logger(ctx, "payment.validation.accepted", map[string]any{"method": payment.Method, "gateway": "none"})
		return nil
	}

	details, err := s.gateway.ValidatePayment(ctx, payments.ValidationRequest{
		Method:  payment.Method,
		OrderID: orderID,
		Info:    payment.AdditionalInformation.Values,
	})
	switch {
	case errors.Is(err, payments.ErrUnsupportedGateway):
		s.logger(ctx, "payment.validation.accepted", map[string]any{"method": payment.Method, "gateway": "none"})
		return nil
	case err != nil:
		s.logger(ctx, "payment.validation.rejected", map[string]any{"method": payment.Method, "reason": err.Error()})
		return ErrPaymentRejected
	case !details.Authorized():
		s.logger(ctx, "payment.validation.rejected", map[string]any{"method": payment.Method, "status": string(details.Status)})
		return ErrPaymentRejected
	}

	s.logger(ctx, "payment.validation.accepted", map[string]any{
		"method":    payment.Method,
		"gateway":   details.Gateway,
		"reference": details.Reference,
	})
	return nil
}
