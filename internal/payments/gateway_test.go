package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeGateway struct {
	calls   int
	details PaymentDetails
	err     error
}

func (f *fakeGateway) ValidatePayment(context.Context, ValidationRequest) (PaymentDetails, error) {
	f.calls++
	return f.details, f.err
}

func TestManagerRoutesByMethod(t *testing.T) {
	stripeGW := &fakeGateway{details: PaymentDetails{Status: StatusAuthorized}}
	other := &fakeGateway{details: PaymentDetails{Status: StatusSucceeded}}

	mgr, err := NewManager(map[string]Gateway{
		"checkout_starter_payment": stripeGW,
		"other_payment":            other,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if _, err := mgr.ValidatePayment(context.Background(), ValidationRequest{Method: " Other_Payment "}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if other.calls != 1 || stripeGW.calls != 0 {
		t.Fatalf("expected other gateway to handle call, got stripe=%d other=%d", stripeGW.calls, other.calls)
	}
}

func TestManagerDefaultGateway(t *testing.T) {
	gw := &fakeGateway{details: PaymentDetails{Status: StatusSucceeded}}
	mgr, err := NewManager(map[string]Gateway{"stripe": gw}, WithDefaultGateway("Stripe"))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.ValidatePayment(context.Background(), ValidationRequest{Method: "unknown"}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if gw.calls != 1 {
		t.Fatalf("expected default gateway to be used")
	}
}

func TestManagerUnsupportedMethod(t *testing.T) {
	mgr, _ := NewManager(map[string]Gateway{"stripe": &fakeGateway{}})
	if _, err := mgr.ValidatePayment(context.Background(), ValidationRequest{Method: "paypal"}); !errors.Is(err, ErrUnsupportedGateway) {
		t.Fatalf("expected ErrUnsupportedGateway, got %v", err)
	}
}

func TestManagerRejectsUnauthorized(t *testing.T) {
	mgr, _ := NewManager(map[string]Gateway{"stripe": &fakeGateway{details: PaymentDetails{Status: StatusPending}}})
	if _, err := mgr.ValidatePayment(context.Background(), ValidationRequest{Method: "stripe"}); !errors.Is(err, ErrPaymentNotAuthorized) {
		t.Fatalf("expected ErrPaymentNotAuthorized, got %v", err)
	}
}

func TestNewManagerValidatesRegistrations(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error for empty gateways")
	}
	if _, err := NewManager(map[string]Gateway{" ": &fakeGateway{}}); err == nil {
		t.Fatalf("expected error for blank key")
	}
}
