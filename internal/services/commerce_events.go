package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
)

// ErrEventHandlerFailed wraps errors returned by Commerce event handlers. Deliveries that fail
// with it should be retried by the caller.
var ErrEventHandlerFailed = errors.New("commerce event handler failed")

// CommerceEventHandler processes one Commerce event.
type CommerceEventHandler func(ctx context.Context, event domain.CommerceEvent) error

// CommerceEventRouter dispatches Commerce events by type.
type CommerceEventRouter interface {
	// Route reports handled=false for unknown types, which callers acknowledge without retrying.
	Route(ctx context.Context, event domain.CommerceEvent) (handled bool, err error)
	Types() []string
}

// CommerceEventRouterDeps bundles the handler registry and logging hook.
type CommerceEventRouterDeps struct {
	Handlers map[string]CommerceEventHandler
	Logger   func(context.Context, string, map[string]any)
}

type commerceEventRouter struct {
	handlers map[string]CommerceEventHandler
	logger   func(context.Context, string, map[string]any)
}

// NewCommerceEventRouter builds a router over deps.Handlers.
func NewCommerceEventRouter(deps CommerceEventRouterDeps) (CommerceEventRouter, error) {
	handlers := make(map[string]CommerceEventHandler, len(deps.Handlers))
	for eventType, handler := range deps.Handlers {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" || handler == nil {
			return nil, fmt.Errorf("commerce events: invalid handler registration for %q", eventType)
		}
		handlers[eventType] = handler
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &commerceEventRouter{handlers: handlers, logger: logger}, nil
}

func (r *commerceEventRouter) Route(ctx context.Context, event domain.CommerceEvent) (bool, error) {
	handler, ok := r.handlers[event.Type]
	if !ok {
		r.logger(ctx, "commerce_event.unsupported", map[string]any{"eventId": event.ID, "type": event.Type})
		return false, nil
	}
	if err := handler(ctx, event); err != nil {
		r.logger(ctx, "commerce_event.failed", map[string]any{"eventId": event.ID, "type": event.Type, "error": err.Error()})
		return true, fmt.Errorf("%w: %s: %w", ErrEventHandlerFailed, event.Type, err)
	}
	r.logger(ctx, "commerce_event.consumed", map[string]any{"eventId": event.ID, "type": event.Type})
	return true, nil
}

func (r *commerceEventRouter) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

// OrderInvoicer creates invoices in Commerce.
type OrderInvoicer interface {
	InvoiceOrder(ctx context.Context, orderID string, capture bool) (string, error)
}

// OrderPlacedHandlerDeps configures the sales_order_place_after handler.
type OrderPlacedHandlerDeps struct {
	Invoicer         OrderInvoicer
	SupportedMethods []string
	AutoInvoice      bool
	Logger           func(context.Context, string, map[string]any)
}

// NewOrderPlacedHandler invoices, with capture, orders placed with one of the supported
// out-of-process payment methods. It does nothing unless AutoInvoice is set.
func NewOrderPlacedHandler(deps OrderPlacedHandlerDeps) CommerceEventHandler {
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

	return func(ctx context.Context, event domain.CommerceEvent) error {
		var data domain.OrderPlacedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return fmt.Errorf("decode order event: %w", err)
		}
		order := data.Value
		method := strings.TrimSpace(order.Payment.Method)
		fields := map[string]any{"orderId": string(order.EntityID), "incrementId": order.IncrementID, "method": method}

		if _, ok := supported[method]; !ok {
			logger(ctx, "order_placed.skipped", fields)
			return nil
		}
		if !deps.AutoInvoice || deps.Invoicer == nil {
			logger(ctx, "order_placed.invoice_disabled", fields)
			return nil
		}
		if order.EntityID == "" {
			return errors.New("order event without entity_id")
		}

		invoiceID, err := deps.Invoicer.InvoiceOrder(ctx, string(order.EntityID), true)
		if err != nil {
			return fmt.Errorf("invoice order %s: %w", order.EntityID, err)
		}
		fields["invoiceId"] = invoiceID
		logger(ctx, "order_placed.invoiced", fields)
		return nil
	}
}
