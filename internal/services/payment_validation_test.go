package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/payments"
)

type stubGateway struct {
	details payments.PaymentDetails
	err     error
	last    payments.ValidationRequest
}

func (s *stubGateway) ValidatePayment(_ context.Context, req payments.ValidationRequest) (payments.PaymentDetails, error) {
	s.last = req
	return s.details, s.err
}

func decodePayment(t *testing.T, body string) domain.OrderPayment {
	t.Helper()
	var req domain.PaymentValidationRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return req.Data.Order.Payment
}

func TestPaymentValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		gateway PaymentGateway
		want    error
	}{
		{
			name: "unsupported method passes",
			body: `{"data":{"order":{"payment":{"method":"checkmo"}}}}`,
			want: nil,
		},
		{
			name: "missing additional information",
			body: `{"data":{"order":{"payment":{"method":"checkout_starter_payment"}}}}`,
			want: ErrPaymentInfoMissing,
		},
		{
			name: "null additional information",
			body: `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":null}}}}`,
			want: ErrPaymentInfoMissing,
		},
		{
			name: "no gateway configured",
			body: `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":{"payment_intent_id":"pi_1"}}}}}`,
			want: nil,
		},
		{
			name:    "gateway authorises",
			body:    `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":[{"key":"payment_intent_id","value":"pi_1"}]}}}}`,
			gateway: &stubGateway{details: payments.PaymentDetails{Status: payments.StatusAuthorized}},
			want:    nil,
		},
		{
			name:    "gateway reports pending",
			body:    `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":{"payment_intent_id":"pi_1"}}}}}`,
			gateway: &stubGateway{details: payments.PaymentDetails{Status: payments.StatusPending}},
			want:    ErrPaymentRejected,
		},
		{
			name:    "gateway error",
			body:    `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":{"payment_intent_id":"pi_1"}}}}}`,
			gateway: &stubGateway{err: errors.New("stripe down")},
			want:    ErrPaymentRejected,
		},
		{
			name:    "no gateway for method",
			body:    `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":{"payment_intent_id":"pi_1"}}}}}`,
			gateway: &stubGateway{err: payments.ErrUnsupportedGateway},
			want:    nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewPaymentValidationService(PaymentValidationServiceDeps{
				SupportedMethods: []string{"checkout_starter_payment"},
				Gateway:          tc.gateway,
			})
			if err != nil {
				t.Fatalf("NewPaymentValidationService: %v", err)
			}
			err = svc.Validate(context.Background(), "000000001", decodePayment(t, tc.body))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestPaymentValidationPassesInfoToGateway(t *testing.T) {
	gateway := &stubGateway{details: payments.PaymentDetails{Status: payments.StatusSucceeded}}
	svc, _ := NewPaymentValidationService(PaymentValidationServiceDeps{
		SupportedMethods: []string{"checkout_starter_payment"},
		Gateway:          gateway,
	})

	payment := decodePayment(t, `{"data":{"order":{"payment":{"method":"checkout_starter_payment","additional_information":[{"key":"payment_intent_id","value":"pi_9"}]}}}}`)
	if err := svc.Validate(context.Background(), "000000042", payment); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if gateway.last.OrderID != "000000042" || gateway.last.Info["payment_intent_id"] != "pi_9" {
		t.Fatalf("unexpected gateway request %+v", gateway.last)
	}
}
