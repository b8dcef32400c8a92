package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"
	defaultKeyIDHeader     = "X-Signature-Key-Id"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore tracks unique nonces for replay prevention. UseNonce reports true when the nonce
// was recorded and false when it was already present within scope.
type NonceStore interface {
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// HMACValidator verifies requests signed by third-party publishers with a shared secret.
// The signed string is METHOD\nPATH\nTIMESTAMP\nNONCE\nhex(sha256(body)).
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) {
		v.metrics = metrics
	}
}

// WithHMACClock injects a custom clock.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names used by the middleware.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL customises the nonce retention duration.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

type hmacRejection struct {
	status  int
	code    string
	reason  string
	message string
}

func reject(status int, code, reason, message string) *hmacRejection {
	return &hmacRejection{status: status, code: code, reason: reason, message: message}
}

// RequireHMAC enforces a valid signature made with the named secret.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	secretName = strings.TrimSpace(secretName)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()
			if rejected := v.verify(ctx, r, secretName); rejected != nil {
				record(ctx, v.metrics, PrincipalHMAC, false, rejected.reason, v.now().Sub(start))
				respondAuthError(w, rejected.status, rejected.code, rejected.message)
				return
			}
			record(ctx, v.metrics, PrincipalHMAC, true, verificationSuccess, v.now().Sub(start))
			principal := &Principal{Kind: PrincipalHMAC, Subject: secretName}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}

// verify checks the headers, the signature and finally burns the nonce, so a request with a bad
// signature never consumes one.
func (v *HMACValidator) verify(ctx context.Context, r *http.Request, secretName string) *hmacRejection {
	if secretName == "" {
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "secret_not_configured", "hmac secret not configured")
	}
	secret, err := v.loadSecret(ctx, secretName)
	if err != nil {
		v.logger.Printf("auth: hmac secret lookup failed: %v", err)
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "secret_unavailable", "hmac secret unavailable")
	}

	header := func(name string) string { return strings.TrimSpace(r.Header.Get(name)) }
	rawSignature, rawTimestamp, nonce := header(v.signatureHeader), header(v.timestampHeader), header(v.nonceHeader)
	if rawSignature == "" {
		return reject(http.StatusUnauthorized, "signature_missing", "signature_missing", "signature header missing")
	}
	signedAt, err := parseSignatureTimestamp(rawTimestamp)
	if err != nil {
		return reject(http.StatusUnauthorized, "timestamp_invalid", "timestamp_invalid", "signature timestamp missing or invalid")
	}
	if skew := v.now().Sub(signedAt).Abs(); skew > v.clockSkew {
		return reject(http.StatusUnauthorized, "timestamp_skew", "timestamp_skew", "signature timestamp outside allowed window")
	}
	if nonce == "" {
		return reject(http.StatusUnauthorized, "nonce_missing", "nonce_missing", "signature nonce missing")
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return reject(http.StatusBadRequest, "invalid_body", "body_unreadable", "unable to read body for signature verification")
	}
	got, err := decodeSignature(rawSignature)
	if err != nil {
		return reject(http.StatusUnauthorized, "signature_invalid", "signature_invalid", "signature encoding invalid")
	}
	if !hmac.Equal(got, signPayload(secret, canonicalRequest(r, body, rawTimestamp, nonce))) {
		return reject(http.StatusUnauthorized, "signature_mismatch", "signature_mismatch", "signature verification failed")
	}

	if v.nonces == nil {
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_unavailable", "nonce store unavailable")
	}
	expiry := signedAt.Add(v.nonceTTL)
	if now := v.now(); expiry.Before(now) {
		expiry = now.Add(v.nonceTTL)
	}
	fresh, err := v.nonces.UseNonce(ctx, secretName, nonce, expiry)
	switch {
	case err != nil:
		v.logger.Printf("auth: nonce store error: %v", err)
		return reject(http.StatusServiceUnavailable, "verification_unavailable", "nonce_store_error", "nonce storage error")
	case !fresh:
		return reject(http.StatusUnauthorized, "nonce_replay", "nonce_replay", "duplicate signature nonce")
	}
	return nil
}

// RequireHMACByKeyID selects the secret from the X-Signature-Key-Id header. Only names
// present in known are accepted.
func (v *HMACValidator) RequireHMACByKeyID(known map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := strings.ToLower(strings.TrimSpace(r.Header.Get(defaultKeyIDHeader)))
			if _, ok := known[keyID]; !ok || keyID == "" {
				record(r.Context(), v.metrics, PrincipalHMAC, false, "key_unknown", 0)
				respondAuthError(w, http.StatusUnauthorized, "unknown_key", "signature key not recognised")
				return
			}
			v.RequireHMAC(keyID)(next).ServeHTTP(w, r)
		})
	}
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	if cached, ok := v.secretCache.Load(name); ok {
		return cached.([]byte), nil
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}
	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// canonicalRequest renders METHOD, escaped path, timestamp, nonce and hex(sha256(body)) one per line.
func canonicalRequest(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	digest := sha256.Sum256(body)
	var b strings.Builder
	for _, part := range []string{strings.ToUpper(r.Method), path, timestamp, nonce} {
		b.WriteString(part)
		b.WriteByte('\n')
	}
	b.WriteString(hex.EncodeToString(digest[:]))
	return []byte(b.String())
}

func signPayload(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return mac.Sum(nil)
}
