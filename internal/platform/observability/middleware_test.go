package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

func TestRecoveryMiddlewareWebhookEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/collect-taxes", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for webhook panic, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["op"] != "exception" || body["message"] != "Server error: internal server error" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRecoveryMiddlewareJSONError(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/registration", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestRequestLoggerIncludesNotes(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	handler := InjectLoggerMiddleware(logger)(RequestLoggerMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestctx.Annotate(r.Context(), "principal", "commerce:commerce")
		w.WriteHeader(http.StatusOK)
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/shipping-methods", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	if got := completed[0].ContextMap()["principal"]; got != "commerce:commerce" {
		t.Fatalf("expected principal note, got %v", got)
	}
}

func TestRequestLoggerServerErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	handler := InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/tax-classes", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	if completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected error level, got %s", completed[0].Level)
	}
	fields := completed[0].ContextMap()
	if fields["status"] != int64(http.StatusBadGateway) || fields["route"] != "/admin/tax-classes" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestEventLoggerWarnsOnError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	EventLogger(zap.New(core))(context.Background(), "event.publish_failed", map[string]any{"error": "timeout"})

	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %+v", entries)
	}
}

func TestEventLoggerFallback(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	EventLogger(zap.New(core))(context.Background(), "tax.collected", map[string]any{"items": 2})

	entries := logs.FilterMessage("tax.collected").All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["items"]; got != int64(2) {
		t.Fatalf("unexpected items field %v (%T)", got, got)
	}
}
