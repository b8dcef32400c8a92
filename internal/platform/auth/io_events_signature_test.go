package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func signedDelivery(t *testing.T, sign func([]byte) string, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events/commerce", strings.NewReader(body))
	if sign != nil {
		req.Header.Set(IOEventsSignatureHeader1, sign([]byte(body)))
		req.Header.Set(IOEventsKeyPathHeader1, "/prod/keys/pub-key-1.pem")
	}
	return req
}

func TestIOEventsMiddleware(t *testing.T) {
	key, _ := newCommerceKey(t)
	other, _ := newCommerceKey(t)
	body := `{"type":"com.adobe.commerce.observer.sales_order_place_after","data":{"value":{"entity_id":42}}}`

	tests := []struct {
		name   string
		keys   PublicKeySource
		sign   func([]byte) string
		status int
		reason string
	}{
		{name: "valid", keys: StaticPublicKey{Key: &key.PublicKey}, sign: func(b []byte) string { return signBody(t, key, b) }, status: http.StatusOK, reason: verificationSuccess},
		{name: "unsigned", keys: StaticPublicKey{Key: &key.PublicKey}, status: http.StatusUnauthorized, reason: "signature_missing"},
		{name: "signed by another key", keys: StaticPublicKey{Key: &key.PublicKey}, sign: func(b []byte) string { return signBody(t, other, b) }, status: http.StatusUnauthorized, reason: "signature_mismatch"},
		{name: "garbage signature", keys: StaticPublicKey{Key: &key.PublicKey}, sign: func([]byte) string { return "not base64!" }, status: http.StatusUnauthorized, reason: "signature_mismatch"},
		{name: "no key configured", keys: StaticPublicKey{}, sign: func(b []byte) string { return signBody(t, key, b) }, status: http.StatusServiceUnavailable, reason: "key_unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var reasons []string
			metrics := MetricsRecorderFunc(func(_ context.Context, kind string, _ bool, reason string, _ time.Duration) {
				if kind == verificationIOEvents {
					reasons = append(reasons, reason)
				}
			})
			verifier := NewIOEventsVerifier(tc.keys, WithIOEventsMetrics(metrics))

			var reached bool
			handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				got, _ := io.ReadAll(r.Body)
				if string(got) != body {
					t.Errorf("body not restored: %q", got)
				}
				if principal, ok := PrincipalFromContext(r.Context()); !ok || principal.Kind != PrincipalIOEvents {
					t.Errorf("expected io events principal, got %+v", principal)
				}
				w.WriteHeader(http.StatusOK)
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, signedDelivery(t, tc.sign, body))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if reached != (tc.status == http.StatusOK) {
				t.Fatalf("handler reached = %v", reached)
			}
			if len(reasons) != 1 || reasons[0] != tc.reason {
				t.Fatalf("expected reason %q, got %v", tc.reason, reasons)
			}
		})
	}
}

func TestIOEventsVerifyAcceptsSecondSignature(t *testing.T) {
	key, _ := newCommerceKey(t)
	other, _ := newCommerceKey(t)
	body := []byte(`{"id":"evt-1"}`)

	header := http.Header{}
	header.Set(IOEventsSignatureHeader1, signBody(t, other, body))
	header.Set(IOEventsKeyPathHeader1, "/prod/keys/pub-key-1.pem")
	header.Set(IOEventsSignatureHeader2, signBody(t, key, body))
	header.Set(IOEventsKeyPathHeader2, "/prod/keys/pub-key-2.pem")

	verifier := NewIOEventsVerifier(StaticPublicKey{Key: &key.PublicKey})
	if err := verifier.Verify(context.Background(), body, header); err != nil {
		t.Fatalf("expected second signature to verify, got %v", err)
	}
	if err := verifier.Verify(context.Background(), []byte(`{"id":"evt-2"}`), header); !errors.Is(err, ErrDeliverySignatureInvalid) {
		t.Fatalf("expected invalid signature for altered body, got %v", err)
	}
}

func TestIOEventsSkip(t *testing.T) {
	verifier := NewIOEventsVerifier(nil, WithIOEventsSkip())
	rr := httptest.NewRecorder()
	verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rr, signedDelivery(t, nil, `{}`))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected pass-through, got %d", rr.Code)
	}
}

func TestRemotePublicKeys(t *testing.T) {
	key, publicPEM := newCommerceKey(t)
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		switch r.URL.Path {
		case "/prod/keys/pub-key-1.pem":
			_, _ = io.WriteString(w, publicPEM)
		case "/prod/keys/broken.pem":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	keys := NewRemotePublicKeys(srv.URL+"/", srv.Client())
	ctx := context.Background()

	for range 2 {
		got, err := keys.PublicKey(ctx, "/prod/keys/pub-key-1.pem")
		if err != nil {
			t.Fatalf("PublicKey: %v", err)
		}
		if got.N.Cmp(key.PublicKey.N) != 0 {
			t.Fatal("fetched key does not match")
		}
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected one fetch thanks to the cache, got %d", fetches.Load())
	}

	if _, err := keys.PublicKey(ctx, "/prod/keys/broken.pem"); !errors.Is(err, ErrDeliveryKeyUnavailable) {
		t.Fatalf("expected key unavailable for 5xx, got %v", err)
	}
	if _, err := keys.PublicKey(ctx, "/prod/keys/missing.pem"); err == nil || errors.Is(err, ErrDeliveryKeyUnavailable) {
		t.Fatalf("expected a plain lookup failure for 404, got %v", err)
	}

	before := fetches.Load()
	for _, path := range []string{"//evil.example.com/key.pem", "/../key.pem", "/key.txt", "/key.pem?x=1", "relative.pem"} {
		if _, err := keys.PublicKey(ctx, path); err == nil {
			t.Fatalf("expected %q to be rejected", path)
		}
	}
	if fetches.Load() != before {
		t.Fatal("rejected paths must not reach the key host")
	}
}
