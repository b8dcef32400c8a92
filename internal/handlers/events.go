package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/platform/httpx"
	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
	"github.com/hanko-field/commerce-checkout/internal/services"
)

const maxEventBodySize = 256 * 1024

// EventHandlers receives Commerce events and third-party events.
type EventHandlers struct {
	commerce   services.CommerceEventRouter
	thirdParty services.ThirdPartyEventService
	publishMW  []func(http.Handler) http.Handler
	deliveryMW []func(http.Handler) http.Handler
	lookupMW   []func(http.Handler) http.Handler
}

// EventHandlersDeps bundles event collaborators. PublishMiddlewares guard the publish route in
// addition to the Authorization header check. DeliveryMiddlewares authenticate I/O Events
// deliveries to /commerce and /3rd-party/consume, LookupMiddlewares the stored event reads.
type EventHandlersDeps struct {
	Commerce            services.CommerceEventRouter
	ThirdParty          services.ThirdPartyEventService
	PublishMiddlewares  []func(http.Handler) http.Handler
	DeliveryMiddlewares []func(http.Handler) http.Handler
	LookupMiddlewares   []func(http.Handler) http.Handler
}

// NewEventHandlers constructs event handlers.
func NewEventHandlers(deps EventHandlersDeps) *EventHandlers {
	return &EventHandlers{
		commerce:   deps.Commerce,
		thirdParty: deps.ThirdParty,
		publishMW:  deps.PublishMiddlewares,
		deliveryMW: deps.DeliveryMiddlewares,
		lookupMW:   deps.LookupMiddlewares,
	}
}

// Routes registers event endpoints.
func (h *EventHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.commerce != nil {
		r.With(h.deliveryMW...).Post("/commerce", h.consumeCommerceEvent)
	}
	if h.thirdParty != nil {
		publish := append([]func(http.Handler) http.Handler{requireAuthorizationHeader}, h.publishMW...)
		r.With(publish...).Post("/3rd-party/publish", h.publishThirdPartyEvent)
		r.With(h.deliveryMW...).Post("/3rd-party/consume", h.consumeThirdPartyEvent)
		r.With(h.lookupMW...).Get("/3rd-party/{eventID}", h.getThirdPartyEvent)
	}
}

// requireAuthorizationHeader only checks presence. Publishers are authenticated further by the
// configured HMAC middleware.
func requireAuthorizationHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", "Missing Authorization header", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *EventHandlers) consumeCommerceEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var event domain.CommerceEvent
	if !decodeEventBody(w, r, &event) {
		return
	}
	handled, err := h.commerce.Route(ctx, event)
	if err != nil {
		requestctx.Logger(ctx).Error("commerce event handler failed", zap.String("type", event.Type), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("event_handler_failed", err.Error(), http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"type": event.Type, "handled": handled})
}

func (h *EventHandlers) publishThirdPartyEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req domain.PublishRequest
	if !decodeEventBody(w, r, &req) {
		return
	}
	cloudEvent, err := h.thirdParty.Publish(ctx, req)
	switch {
	case errors.Is(err, services.ErrEventInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_event", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProviderNotConfigured):
		httpx.WriteError(ctx, w, httpx.NewError("provider_not_configured", err.Error(), http.StatusInternalServerError))
	case err != nil:
		requestctx.Logger(ctx).Error("publish third-party event failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("server_error", "server error", http.StatusInternalServerError))
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"cloudEvent": cloudEvent})
	}
}

func (h *EventHandlers) consumeThirdPartyEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var event domain.ConsumedEvent
	if !decodeEventBody(w, r, &event) {
		return
	}
	id, err := h.thirdParty.Consume(ctx, event)
	if err != nil {
		requestctx.Logger(ctx).Error("consume third-party event failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("server_error", "server error", http.StatusInternalServerError))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (h *EventHandlers) getThirdPartyEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := strings.TrimSpace(chi.URLParam(r, "eventID"))
	data, err := h.thirdParty.Lookup(ctx, id)
	switch {
	case errors.Is(err, services.ErrEventNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("event_not_found", "event not found or expired", http.StatusNotFound))
	case err != nil:
		requestctx.Logger(ctx).Error("lookup third-party event failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("server_error", "server error", http.StatusInternalServerError))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(json.RawMessage(data))
	}
}

// decodeEventBody decodes the JSON body into out. An empty body leaves out untouched so that
// validation reports the missing property.
func decodeEventBody(w http.ResponseWriter, r *http.Request, out any) bool {
	ctx := r.Context()
	body, err := httpx.ReadBody(r, maxEventBodySize)
	if errors.Is(err, httpx.ErrEmptyBody) {
		return true
	}
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, httpx.ErrBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := httpx.DecodeJSON(body, out); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", httpx.ErrInvalidJSON.Error(), http.StatusBadRequest))
		return false
	}
	return true
}
