package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/httpx"
	"github.com/hanko-field/commerce-checkout/internal/platform/observability"
	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
	"github.com/hanko-field/commerce-checkout/internal/services"
)

// WebhookHandlers answers the synchronous Commerce webhooks.
type WebhookHandlers struct {
	taxes      services.TaxService
	adjustment services.AdjustmentTaxService
	filter     services.PaymentFilterService
	validation services.PaymentValidationService
	shipping   services.ShippingMethodService
	metrics    *observability.CheckoutMetrics
	verify     func(http.Handler) http.Handler
	bodyLimit  int64
}

// WebhookHandlersDeps bundles the services behind each webhook. Nil services leave their
// route unregistered. Verify authenticates each call, typically with the Commerce signature
// middleware.
type WebhookHandlersDeps struct {
	Taxes             services.TaxService
	AdjustmentTaxes   services.AdjustmentTaxService
	PaymentFilter     services.PaymentFilterService
	PaymentValidation services.PaymentValidationService
	ShippingMethods   services.ShippingMethodService
	Metrics           *observability.CheckoutMetrics
	Verify            func(http.Handler) http.Handler
	BodyLimit         int64
}

// NewWebhookHandlers constructs webhook handlers.
func NewWebhookHandlers(deps WebhookHandlersDeps) *WebhookHandlers {
	limit := deps.BodyLimit
	if limit <= 0 {
		limit = httpx.DefaultBodyLimit
	}
	return &WebhookHandlers{
		taxes:      deps.Taxes,
		adjustment: deps.AdjustmentTaxes,
		filter:     deps.PaymentFilter,
		validation: deps.PaymentValidation,
		shipping:   deps.ShippingMethods,
		metrics:    deps.Metrics,
		verify:     deps.Verify,
		bodyLimit:  limit,
	}
}

// Routes registers webhook endpoints. Metrics wrap verification so rejected signatures are
// counted as failures.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	register := func(path, metric string, handler http.HandlerFunc) {
		var chain []func(http.Handler) http.Handler
		if h.metrics != nil {
			chain = append(chain, h.metrics.InstrumentWebhook(metric))
		}
		if h.verify != nil {
			chain = append(chain, h.verify)
		}
		r.With(chain...).Post(path, handler)
	}
	if h.taxes != nil {
		register("/collect-taxes", observability.WebhookCollectTaxes, h.collectTaxes)
	}
	if h.adjustment != nil {
		register("/collect-adjustment-taxes", observability.WebhookCollectAdjustmentTaxes, h.collectAdjustmentTaxes)
	}
	if h.filter != nil {
		register("/filter-payment", observability.WebhookFilterPayment, h.filterPayment)
	}
	if h.validation != nil {
		register("/validate-payment", observability.WebhookValidatePayment, h.validatePayment)
	}
	if h.shipping != nil {
		register("/shipping-methods", observability.WebhookShippingMethods, h.shippingMethods)
	}
}

func (h *WebhookHandlers) collectTaxes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req domain.CollectTaxesRequest
	if !h.decode(w, r, &req) {
		return
	}
	ops, err := h.taxes.CollectTaxes(ctx, req.OopQuote)
	if err != nil {
		if errors.Is(err, services.ErrTaxInvalidInput) {
			requestctx.Annotate(ctx, observability.NoteWebhookError, observability.ErrorCodeInvalidPayload)
		}
		webhookServerError(ctx, w, err)
		return
	}
	httpx.WriteOperations(ctx, w, ops)
}

func (h *WebhookHandlers) collectAdjustmentTaxes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req domain.CollectAdjustmentTaxesRequest
	if !h.decode(w, r, &req) {
		return
	}
	ops, err := h.adjustment.CollectAdjustmentTaxes(ctx, req.OopCreditMemo)
	switch {
	case errors.Is(err, services.ErrInvalidCreditMemo):
		requestctx.Annotate(ctx, observability.NoteWebhookError, observability.ErrorCodeInvalidPayload)
		requestctx.Logger(ctx).Error(err.Error())
		httpx.WriteWebhookException(ctx, w, err.Error())
	case err != nil:
		webhookServerError(ctx, w, err)
	default:
		httpx.WriteOperations(ctx, w, ops)
	}
}

func (h *WebhookHandlers) filterPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req domain.PaymentFilterRequest
	if !h.decode(w, r, &req) {
		return
	}
	ops, err := h.filter.Filter(ctx, req.Payload)
	if err != nil {
		webhookServerError(ctx, w, err)
		return
	}
	httpx.WriteOperations(ctx, w, ops)
}

func (h *WebhookHandlers) validatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req domain.PaymentValidationRequest
	if !h.decode(w, r, &req) {
		return
	}
	order := req.Data.Order
	err := h.validation.Validate(ctx, order.IncrementID, order.Payment)
	switch {
	case err == nil:
		httpx.WriteWebhookSuccess(ctx, w)
	case errors.Is(err, services.ErrPaymentInfoMissing), errors.Is(err, services.ErrPaymentRejected):
		requestctx.Logger(ctx).Warn(err.Error(), zap.String("method", order.Payment.Method))
		httpx.WriteWebhookException(ctx, w, err.Error())
	default:
		webhookServerError(ctx, w, err)
	}
}

func (h *WebhookHandlers) shippingMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req domain.ShippingRateRequest
	if !h.decode(w, r, &req) {
		return
	}
	ops, err := h.shipping.Quote(ctx, req.RateRequest)
	if err != nil {
		if errors.Is(err, services.ErrRateRequestMissing) {
			requestctx.Annotate(ctx, observability.NoteWebhookError, observability.ErrorCodeInvalidPayload)
		}
		webhookServerError(ctx, w, err)
		return
	}
	httpx.WriteOperations(ctx, w, ops)
}

// decode reads the webhook body into out, answering with an exception operation on failure.
func (h *WebhookHandlers) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	ctx := r.Context()
	body, err := httpx.ReadBody(r, h.bodyLimit)
	if err == nil {
		err = httpx.DecodeJSON(body, out)
	}
	if err != nil {
		requestctx.Annotate(ctx, observability.NoteWebhookError, observability.ErrorCodeInvalidPayload)
		webhookServerError(ctx, w, err)
		return false
	}
	return true
}

func webhookServerError(ctx context.Context, w http.ResponseWriter, err error) {
	requestctx.Logger(ctx).Error("webhook failed", zap.Error(err))
	httpx.WriteWebhookException(ctx, w, fmt.Sprintf("Server error: %v", err))
}
