package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
)

var (
	// ErrJWKSKeyNotFound is returned when the requested key ID is absent from the JWKS document.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed wraps transport or decoding errors while refreshing JWKS.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
	// ErrTokenExpired reports an IMS access token past its created_at + expires_in window.
	ErrTokenExpired = errors.New("auth: ims token expired")
)

const (
	defaultJWKSRefreshInterval = 15 * time.Minute
	defaultJWKSRefreshTimeout  = 5 * time.Second
	imsAccessTokenType         = "access_token"
)

// JWKSCache lazily fetches and caches JSON Web Keys, refreshing in the background once half of
// the advertised validity has elapsed.
type JWKSCache struct {
	url    string
	client *http.Client
	logger Logger
	now    func() time.Time

	refreshInterval time.Duration
	refreshTimeout  time.Duration
	background      bool

	mu       sync.RWMutex
	keys     map[string]jose.JSONWebKey
	expiry   time.Time
	prefetch time.Time

	refreshMu  sync.Mutex
	refreshing atomic.Bool
}

// JWKSOption customises JWKSCache behaviour.
type JWKSOption func(*JWKSCache)

// NewJWKSCache constructs a JWKS cache for the provided URL.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	cache := &JWKSCache{
		url:             url,
		client:          &http.Client{Timeout: 10 * time.Second},
		logger:          log.Default(),
		now:             time.Now,
		refreshInterval: defaultJWKSRefreshInterval,
		refreshTimeout:  defaultJWKSRefreshTimeout,
		background:      true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cache)
		}
	}
	return cache
}

// WithJWKSHTTPClient overrides the HTTP client used to fetch JWKS documents.
func WithJWKSHTTPClient(client *http.Client) JWKSOption {
	return func(c *JWKSCache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithJWKSLogger sets a custom logger for JWKS operations.
func WithJWKSLogger(logger Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSRefreshInterval overrides the refresh interval used when cache headers are absent.
func WithJWKSRefreshInterval(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.refreshInterval = d
		}
	}
}

// WithJWKSClock injects a custom time source.
func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithoutJWKSBackgroundRefresh disables background refresh scheduling.
func WithoutJWKSBackgroundRefresh() JWKSOption {
	return func(c *JWKSCache) {
		c.background = false
	}
}

// Keyfunc returns a jwt.Keyfunc backed by the cache.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		return c.Key(ctx, kid)
	}
}

// Key resolves the public key for kid, refreshing the key set when it is stale or the kid is unknown.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	now := c.now()
	if c.stale(now) {
		if err := c.refresh(ctx); err != nil {
			return nil, err
		}
	}
	if key, ok := c.cachedKey(kid); ok {
		if c.shouldPrefetch(now) {
			c.scheduleRefresh()
		}
		return key, nil
	}
	// Unknown kid usually means the issuer rotated keys.
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.cachedKey(kid); ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
}

func (c *JWKSCache) cachedKey(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	jwk, ok := c.keys[kid]
	if !ok {
		return nil, false
	}
	return jwk.Key, true
}

func (c *JWKSCache) stale(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.keys) == 0 {
		return true
	}
	return !c.expiry.IsZero() && !now.Before(c.expiry)
}

func (c *JWKSCache) shouldPrefetch(now time.Time) bool {
	if !c.background {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.prefetch.IsZero() || now.After(c.expiry) {
		return false
	}
	return !now.Before(c.prefetch)
}

func (c *JWKSCache) scheduleRefresh() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		if err := c.refresh(context.Background()); err != nil {
			c.logger.Printf("auth: background jwks refresh failed: %v", err)
		}
	}()
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: unexpected status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode jwks: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: empty key set", ErrJWKSFetchFailed)
	}

	validity := c.refreshInterval
	if maxAge := parseMaxAge(resp.Header.Get("Cache-Control")); maxAge > 0 {
		validity = maxAge
	}

	now := c.now()
	c.mu.Lock()
	c.keys = keys
	c.expiry = now.Add(validity)
	c.prefetch = now.Add(validity / 2)
	c.mu.Unlock()

	c.logger.Printf("auth: refreshed jwks (%d keys, valid for %s)", len(keys), validity)
	return nil
}

func parseMaxAge(header string) time.Duration {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(strings.ToLower(part), "max-age=") {
			continue
		}
		if seconds, err := strconv.ParseInt(strings.TrimSpace(part[len("max-age="):]), 10, 64); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}

// IMSValidator verifies Adobe IMS access tokens presented by the Commerce admin UI.
type IMSValidator struct {
	cache   *JWKSCache
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// IMSOption customises the validator.
type IMSOption func(*IMSValidator)

// NewIMSValidator constructs an IMSValidator.
func NewIMSValidator(cache *JWKSCache, opts ...IMSOption) *IMSValidator {
	validator := &IMSValidator{
		cache:  cache,
		logger: log.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithIMSLogger overrides the validator logger.
func WithIMSLogger(logger Logger) IMSOption {
	return func(v *IMSValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithIMSMetrics sets the metrics recorder.
func WithIMSMetrics(recorder MetricsRecorder) IMSOption {
	return func(v *IMSValidator) {
		v.metrics = recorder
	}
}

// WithIMSClock injects a custom clock.
func WithIMSClock(now func() time.Time) IMSOption {
	return func(v *IMSValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// RequireIMS enforces a valid IMS access token issued to clientID by one of issuers.
// IMS tokens carry the issuing region in "as" (e.g. ims-na1); an issuer URL
// https://ims-na1.adobelogin.com matches that region.
func (v *IMSValidator) RequireIMS(clientID string, issuers []string) func(http.Handler) http.Handler {
	expectedClient := strings.TrimSpace(clientID)
	allowedIssuers := make(map[string]struct{}, len(issuers))
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			allowedIssuers[issuer] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			done := func(success bool, reason string) {
				record(ctx, v.metrics, PrincipalIMS, success, reason, v.now().Sub(start))
			}

			if expectedClient == "" {
				done(false, "client_not_configured")
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "ims client id not configured")
				return
			}
			tokenStr, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				done(false, "token_missing")
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "ims token missing")
				return
			}
			if v.cache == nil {
				done(false, "cache_unavailable")
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "ims verification unavailable")
				return
			}

			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			claims := jwt.MapClaims{}
			if _, err := parser.ParseWithClaims(tokenStr, claims, v.cache.Keyfunc(ctx)); err != nil {
				status, reason := http.StatusUnauthorized, "token_invalid"
				if errors.Is(err, ErrJWKSFetchFailed) {
					status, reason = http.StatusServiceUnavailable, "jwks_unavailable"
				}
				v.logger.Printf("auth: ims verification failed (%s): %v", reason, err)
				done(false, reason)
				respondAuthError(w, status, "invalid_token", "ims token verification failed")
				return
			}

			if tokenType, _ := claims["type"].(string); tokenType != "" && tokenType != imsAccessTokenType {
				done(false, "token_type")
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "ims token is not an access token")
				return
			}
			if err := checkIMSExpiry(claims, v.now()); err != nil {
				done(false, "token_expired")
				respondAuthError(w, http.StatusUnauthorized, "token_expired", "ims token expired")
				return
			}
			if len(allowedIssuers) > 0 && !issuerAllowed(claims, allowedIssuers) {
				done(false, "issuer_mismatch")
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "ims issuer mismatch")
				return
			}
			tokenClient, _ := claims["client_id"].(string)
			if tokenClient != expectedClient {
				v.logger.Printf("auth: ims client mismatch, expected %q", expectedClient)
				done(false, "client_mismatch")
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "ims client mismatch")
				return
			}

			subject, _ := claims["user_id"].(string)
			if subject == "" {
				subject, _ = claims["sub"].(string)
			}
			principal := &Principal{
				Kind:     PrincipalIMS,
				Subject:  subject,
				ClientID: tokenClient,
				Claims:   cloneClaims(claims),
			}
			done(true, verificationSuccess)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// checkIMSExpiry applies the IMS lifetime claims, both expressed in milliseconds as strings.
func checkIMSExpiry(claims jwt.MapClaims, now time.Time) error {
	createdAt, okCreated := millisClaim(claims, "created_at")
	expiresIn, okExpires := millisClaim(claims, "expires_in")
	if !okCreated || !okExpires {
		return nil
	}
	if now.After(time.UnixMilli(createdAt + expiresIn)) {
		return ErrTokenExpired
	}
	return nil
}

func millisClaim(claims jwt.MapClaims, name string) (int64, bool) {
	switch v := claims[name].(type) {
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}

func issuerAllowed(claims jwt.MapClaims, allowed map[string]struct{}) bool {
	if iss, _ := claims["iss"].(string); iss != "" {
		if _, ok := allowed[iss]; ok {
			return true
		}
	}
	if region, _ := claims["as"].(string); region != "" {
		if _, ok := allowed["https://"+region+".adobelogin.com"]; ok {
			return true
		}
	}
	return false
}

func cloneClaims(claims jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(claims))
	for key, value := range claims {
		out[key] = value
	}
	return out
}
