package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/hanko-field/commerce-checkout/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		ok      bool
		span    string
		sampled bool
	}{
		{name: "sampled", header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, span: "0000000000000001", sampled: true},
		{name: "not sampled", header: "105445aa7843bc8bf206b12000100000/255;o=0", ok: true, span: "00000000000000ff"},
		{name: "no options", header: "105445aa7843bc8bf206b12000100000/16", ok: true, span: "0000000000000010"},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000", ok: false},
		{name: "zero span", header: "105445aa7843bc8bf206b12000100000/0;o=1", ok: false},
		{name: "bad trace id", header: "xyz/1;o=1", ok: false},
		{name: "empty", header: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc, ok := parseCloudTraceContext(tc.header)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if !ok {
				return
			}
			if got := sc.SpanID().String(); got != tc.span {
				t.Fatalf("span = %s, want %s", got, tc.span)
			}
			if sc.IsSampled() != tc.sampled {
				t.Fatalf("sampled = %v, want %v", sc.IsSampled(), tc.sampled)
			}
			if !sc.IsRemote() {
				t.Fatal("expected remote span context")
			}
		})
	}
}

func TestFormatCloudTraceHeaderRoundTrip(t *testing.T) {
	info := requestctx.TraceInfo{TraceID: "105445aa7843bc8bf206b12000100000", SpanID: "00000000000000ff", Sampled: true}
	header := formatCloudTraceHeader(info)
	if header != "105445aa7843bc8bf206b12000100000/255;o=1" {
		t.Fatalf("unexpected header %q", header)
	}
	sc, ok := parseCloudTraceContext(header)
	if !ok || sc.SpanID().String() != info.SpanID {
		t.Fatalf("round trip failed: %v %s", ok, sc.SpanID())
	}
}

func TestRemoteTraceContextPrefersTraceparent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/collect-taxes", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")

	sc := trace.SpanContextFromContext(remoteTraceContext(req))
	if got := sc.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %s", got)
	}
}

func TestRemoteTraceContextFallsBackToCloudTrace(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/events/commerce", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")

	sc := trace.SpanContextFromContext(remoteTraceContext(req))
	if got := sc.TraceID().String(); got != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected cloud trace id, got %s", got)
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/collect-taxes", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.ProjectID != "demo-project" {
		t.Fatalf("expected project id, got %+v", got)
	}
	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected propagated trace id, got %q", got.TraceID)
	}
	if rec.Header().Get(cloudTraceHeader) == "" {
		t.Fatal("expected cloud trace response header")
	}
}
