package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type mapSecretProvider map[string]string

func (m mapSecretProvider) GetSecret(_ context.Context, name string) (string, error) {
	if secret, ok := m[name]; ok {
		return secret, nil
	}
	return "", fmt.Errorf("secret %s not found", name)
}

type memoryNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryNonces() *memoryNonces {
	return &memoryNonces{seen: make(map[string]time.Time)}
}

func (m *memoryNonces) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope + "/" + nonce
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = expiry
	return true, nil
}

func signedPublishRequest(t *testing.T, path, secret string, body []byte, timestamp, nonce string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	signature := signPayload([]byte(secret), canonicalRequest(req, body, timestamp, nonce))
	req.Header.Set(defaultSignatureHeader, base64.StdEncoding.EncodeToString(signature))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultNonceHeader, nonce)
	return req
}

func TestRequireHMAC_Success(t *testing.T) {
	const secretName = "erp"
	metrics := &recordingMetrics{}
	now := time.Now().UTC().Truncate(time.Second)

	validator := NewHMACValidator(mapSecretProvider{secretName: "erp-secret"}, newMemoryNonces(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)

	body := []byte(`{"type":"order.shipped","data":{"orderId":"000000012"}}`)
	req := signedPublishRequest(t, "/events/3rd-party/publish", "erp-secret", body, now.Format(time.RFC3339), "nonce-123")

	rr := httptest.NewRecorder()
	validator.RequireHMAC(secretName)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatalf("expected principal in context")
		}
		if principal.Kind != PrincipalHMAC || principal.Subject != secretName {
			t.Fatalf("unexpected principal %+v", principal)
		}
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if record := metrics.last(); !record.success || record.kind != PrincipalHMAC {
		t.Fatalf("expected success metric, got %+v", record)
	}
}

func TestRequireHMAC_ReplayRejected(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	metrics := &recordingMetrics{}
	validator := NewHMACValidator(mapSecretProvider{"erp": "another-secret"}, newMemoryNonces(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
		WithHMACMetrics(metrics),
	)

	body := []byte(`{"status":"completed"}`)
	timestamp := now.Format(time.RFC3339)
	handler := validator.RequireHMAC("erp")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, signedPublishRequest(t, "/events/3rd-party/publish", "another-secret", body, timestamp, "nonce-replay"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, signedPublishRequest(t, "/events/3rd-party/publish", "another-secret", body, timestamp, "nonce-replay"))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected replay to be rejected with 401, got %d", rr.Code)
	}
	if record := metrics.last(); record.reason != "nonce_replay" {
		t.Fatalf("expected nonce_replay reason, got %+v", record)
	}
}

func TestRequireHMAC_SignatureMismatch(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(mapSecretProvider{"wms": "wms-secret"}, newMemoryNonces(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	timestamp := now.Format(time.RFC3339)
	req := signedPublishRequest(t, "/events/3rd-party/publish", "wms-secret", []byte(`{"shipment":"in_transit"}`), timestamp, "nonce-ship")
	req.Body = io.NopCloser(strings.NewReader(`{"shipment":"delivered"}`))

	rr := httptest.NewRecorder()
	validator.RequireHMAC("wms")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be invoked on signature mismatch")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on signature mismatch, got %d", rr.Code)
	}
}

func TestRequireHMAC_TimestampSkewRejected(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	validator := NewHMACValidator(mapSecretProvider{"erp": "erp-secret"}, newMemoryNonces(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)

	timestamp := now.Add(-10 * time.Minute).Format(time.RFC3339)
	req := signedPublishRequest(t, "/events/3rd-party/publish", "erp-secret", []byte(`{"job":"complete"}`), timestamp, "nonce-old")

	rr := httptest.NewRecorder()
	validator.RequireHMAC("erp")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not be called when timestamp is skewed")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on timestamp skew, got %d", rr.Code)
	}
}

func TestRequireHMAC_SecretUnavailable(t *testing.T) {
	provider := SecretProviderFunc(func(context.Context, string) (string, error) {
		return "", fmt.Errorf("secret unavailable")
	})
	validator := NewHMACValidator(provider, newMemoryNonces(), WithHMACLogger(noopLogger{}))

	rr := httptest.NewRecorder()
	validator.RequireHMAC("missing")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run when secret unavailable")
	})).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/events/3rd-party/publish", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when secret unavailable, got %d", rr.Code)
	}
}

func TestRequireHMACByKeyID(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	known := map[string]string{"erp": "erp-secret"}
	validator := NewHMACValidator(mapSecretProvider(known), newMemoryNonces(),
		WithHMACLogger(noopLogger{}),
		WithHMACClock(func() time.Time { return now }),
	)
	handler := validator.RequireHMACByKeyID(known)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := signedPublishRequest(t, "/events/3rd-party/publish", "erp-secret", []byte(`{"type":"x"}`), now.Format(time.RFC3339), "key-nonce")
	req.Header.Set(defaultKeyIDHeader, "ERP")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for known key, got %d", rr.Code)
	}

	unknown := httptest.NewRequest(http.MethodPost, "/events/3rd-party/publish", nil)
	unknown.Header.Set(defaultKeyIDHeader, "crm")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, unknown)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", rr.Code)
	}
}
