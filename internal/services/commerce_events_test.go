package services

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

type stubInvoicer struct {
	calls []string
	err   error
}

func (s *stubInvoicer) InvoiceOrder(_ context.Context, orderID string, capture bool) (string, error) {
	if !capture {
		return "", errors.New("expected capture")
	}
	s.calls = append(s.calls, orderID)
	if s.err != nil {
		return "", s.err
	}
	return "inv-" + orderID, nil
}

func orderPlacedEvent(method string, entityID string) domain.CommerceEvent {
	return domain.CommerceEvent{
		ID:   "evt-1",
		Type: domain.EventOrderPlaced,
		Data: json.RawMessage(`{"value":{"entity_id":` + entityID + `,"increment_id":"000000017","payment":{"method":"` + method + `"}}}`),
	}
}

func TestCommerceEventRouterIgnoresUnknownTypes(t *testing.T) {
	var logged []string
	router, err := NewCommerceEventRouter(CommerceEventRouterDeps{
		Handlers: map[string]CommerceEventHandler{
			"known": func(context.Context, domain.CommerceEvent) error { return nil },
		},
		Logger: func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) },
	})
	if err != nil {
		t.Fatalf("NewCommerceEventRouter: %v", err)
	}

	handled, err := router.Route(context.Background(), domain.CommerceEvent{ID: "1", Type: "com.adobe.commerce.observer.catalog_product_save_after"})
	if handled || err != nil {
		t.Fatalf("expected unknown type to be ignored, handled=%v err=%v", handled, err)
	}
	handled, err = router.Route(context.Background(), domain.CommerceEvent{ID: "2", Type: "known"})
	if !handled || err != nil {
		t.Fatalf("expected known type to be handled, handled=%v err=%v", handled, err)
	}
	if want := []string{"commerce_event.unsupported", "commerce_event.consumed"}; !reflect.DeepEqual(logged, want) {
		t.Fatalf("unexpected log events %v", logged)
	}
	if types := router.Types(); !reflect.DeepEqual(types, []string{"known"}) {
		t.Fatalf("unexpected types %v", types)
	}
}

func TestCommerceEventRouterWrapsHandlerErrors(t *testing.T) {
	boom := errors.New("commerce down")
	router, err := NewCommerceEventRouter(CommerceEventRouterDeps{Handlers: map[string]CommerceEventHandler{
		"failing": func(context.Context, domain.CommerceEvent) error { return boom },
	}})
	if err != nil {
		t.Fatalf("NewCommerceEventRouter: %v", err)
	}
	handled, err := router.Route(context.Background(), domain.CommerceEvent{Type: "failing"})
	if !handled || !errors.Is(err, ErrEventHandlerFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped handler error, handled=%v err=%v", handled, err)
	}
}

func TestNewCommerceEventRouterRejectsNilHandlers(t *testing.T) {
	if _, err := NewCommerceEventRouter(CommerceEventRouterDeps{Handlers: map[string]CommerceEventHandler{"x": nil}}); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}

func TestOrderPlacedHandler(t *testing.T) {
	cases := []struct {
		name        string
		event       domain.CommerceEvent
		autoInvoice bool
		wantCalls   []string
	}{
		{name: "supported method invoiced", event: orderPlacedEvent("checkout-starter-kit-payment", "42"), autoInvoice: true, wantCalls: []string{"42"}},
		{name: "string entity id", event: orderPlacedEvent("checkout-starter-kit-payment", `"43"`), autoInvoice: true, wantCalls: []string{"43"}},
		{name: "unsupported method", event: orderPlacedEvent("checkmo", "42"), autoInvoice: true},
		{name: "auto invoice disabled", event: orderPlacedEvent("checkout-starter-kit-payment", "42"), autoInvoice: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			invoicer := &stubInvoicer{}
			handler := NewOrderPlacedHandler(OrderPlacedHandlerDeps{
				Invoicer:         invoicer,
				SupportedMethods: []string{"checkout-starter-kit-payment"},
				AutoInvoice:      tc.autoInvoice,
			})
			if err := handler(context.Background(), tc.event); err != nil {
				t.Fatalf("handler: %v", err)
			}
			if !reflect.DeepEqual(invoicer.calls, tc.wantCalls) {
				t.Fatalf("expected invoice calls %v, got %v", tc.wantCalls, invoicer.calls)
			}
		})
	}
}

func TestOrderPlacedHandlerErrors(t *testing.T) {
	boom := errors.New("invoice rejected")
	handler := NewOrderPlacedHandler(OrderPlacedHandlerDeps{
		Invoicer:         &stubInvoicer{err: boom},
		SupportedMethods: []string{"oope"},
		AutoInvoice:      true,
	})
	if err := handler(context.Background(), orderPlacedEvent("oope", "7")); !errors.Is(err, boom) {
		t.Fatalf("expected invoice error, got %v", err)
	}
	if err := handler(context.Background(), domain.CommerceEvent{Type: domain.EventOrderPlaced, Data: json.RawMessage(`[`)}); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := handler(context.Background(), orderPlacedEvent("oope", `""`)); err == nil {
		t.Fatalf("expected error for missing entity id")
	}
}
