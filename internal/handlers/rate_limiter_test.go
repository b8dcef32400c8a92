package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFixedWindowLimiterResetsAfterWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	limiter := newFixedWindowLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("org:a") || !limiter.Allow("org:a") {
		t.Fatalf("expected first two calls to pass")
	}
	if limiter.Allow("org:a") {
		t.Fatalf("expected third call to be throttled")
	}
	if !limiter.Allow("org:b") {
		t.Fatalf("expected other key to pass")
	}

	now = now.Add(time.Minute + time.Second)
	if !limiter.Allow("org:a") {
		t.Fatalf("expected call after window to pass")
	}
}

func TestNewFixedWindowLimiterDisabled(t *testing.T) {
	if newFixedWindowLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
}

func TestPublishRateLimitMiddleware(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	handler := PublishRateLimit(1, 30*time.Second, func() time.Time { return now })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(org string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/3rd-party/publish", nil)
		req.Header.Set("x-gw-ims-org-id", org)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("ORG1@AdobeOrg"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected first publish to pass, got %d", rr.Code)
	}
	rr := send("ORG1@AdobeOrg")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Fatalf("expected Retry-After 30, got %q", rr.Header().Get("Retry-After"))
	}
	if rr := send("ORG2@AdobeOrg"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected other org to pass, got %d", rr.Code)
	}
}
