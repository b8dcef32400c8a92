// Package auth verifies inbound callers: Commerce webhook signatures, IMS bearer tokens on
// admin routes, and HMAC-signed requests from third-party event publishers.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

// Principal kinds recorded on the request context.
const (
	PrincipalIMS        = "ims"
	PrincipalHMAC       = "hmac"
	PrincipalCommerce   = "commerce"
	PrincipalIOEvents   = "io_events"
	verificationSuccess = "ok"
)

// Logger captures the minimal logging contract used by the auth package.
type Logger interface {
	Printf(format string, args ...any)
}

// MetricsRecorder records verification outcomes for observability.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

// Principal is the verified caller of a request.
type Principal struct {
	Kind     string
	Subject  string
	ClientID string
	Claims   map[string]any
}

type principalContextKey struct{}

// WithPrincipal stores the principal on the context for downstream handlers and notes it
// for the request log.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	requestctx.Annotate(ctx, "principal", principal.Kind+":"+principal.Subject)
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal stored by one of the verification middlewares.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

func record(ctx context.Context, metrics MetricsRecorder, kind string, success bool, reason string, elapsed time.Duration) {
	if metrics == nil {
		return
	}
	metrics.RecordVerification(ctx, kind, success, reason, elapsed)
}
