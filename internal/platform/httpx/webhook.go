package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

// Webhook operation names understood by Commerce.
const (
	OpSuccess   = "success"
	OpException = "exception"
)

// WebhookResult is the envelope Commerce expects from synchronous webhooks that do not
// return patch operations.
type WebhookResult struct {
	Op      string `json:"op"`
	Message string `json:"message,omitempty"`
	Class   string `json:"class,omitempty"`
}

// WriteWebhookSuccess acknowledges a webhook with {"op":"success"}.
func WriteWebhookSuccess(ctx context.Context, w http.ResponseWriter) {
	writeWebhookJSON(ctx, w, WebhookResult{Op: OpSuccess})
}

// WriteWebhookException reports a failure to Commerce. Commerce only inspects the body, so
// the HTTP status stays 200.
func WriteWebhookException(ctx context.Context, w http.ResponseWriter, message string) {
	writeWebhookJSON(ctx, w, WebhookResult{Op: OpException, Message: oneLine(message, 512)})
}

// WriteOperations writes a JSON array of patch operations.
func WriteOperations[T any](ctx context.Context, w http.ResponseWriter, ops []T) {
	if ops == nil {
		ops = []T{}
	}
	writeWebhookJSON(ctx, w, ops)
}

func writeWebhookJSON(ctx context.Context, w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		requestctx.Logger(ctx).Warn("webhook response encode failed", zap.Error(err))
	}
}
