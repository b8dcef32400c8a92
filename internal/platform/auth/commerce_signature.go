package auth

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/commerce-checkout/internal/platform/httpx"
)

// CommerceSignatureHeader carries the base64 RSA-SHA256 signature of the webhook body.
const CommerceSignatureHeader = "x-adobe-commerce-webhook-signature"

const (
	verificationCommerceSignature = "commerce_signature"
	defaultWebhookBodyLimit       = 1 << 20
)

// Signature verification failures. The messages are surfaced to Commerce verbatim.
var (
	ErrSignatureHeaderMissing = errors.New("Header `x-adobe-commerce-webhook-signature` not found. Make sure Webhooks signature is enabled in the Commerce instance.")
	ErrSignatureBodyMissing   = errors.New("Request body not found.")
	ErrPublicKeyMissing       = errors.New("Public key not found. Make sure COMMERCE_WEBHOOKS_PUBLIC_KEY is configured and Webhooks signature is enabled in the Commerce instance.")
	ErrSignatureMismatch      = errors.New("Signature verification failed.")
)

// CommerceSignatureVerifier checks that webhook calls were signed by the Commerce instance.
type CommerceSignatureVerifier struct {
	key       *rsa.PublicKey
	keyErr    error
	skip      bool
	bodyLimit int64

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// CommerceSignatureOption customises the verifier.
type CommerceSignatureOption func(*CommerceSignatureVerifier)

// WithCommerceSignatureSkip disables verification entirely. Intended for local development.
func WithCommerceSignatureSkip() CommerceSignatureOption {
	return func(v *CommerceSignatureVerifier) {
		v.skip = true
	}
}

// WithCommerceSignatureBodyLimit caps the number of body bytes read for verification.
func WithCommerceSignatureBodyLimit(limit int64) CommerceSignatureOption {
	return func(v *CommerceSignatureVerifier) {
		if limit > 0 {
			v.bodyLimit = limit
		}
	}
}

// WithCommerceSignatureLogger overrides the logger.
func WithCommerceSignatureLogger(logger Logger) CommerceSignatureOption {
	return func(v *CommerceSignatureVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithCommerceSignatureMetrics sets the metrics recorder.
func WithCommerceSignatureMetrics(metrics MetricsRecorder) CommerceSignatureOption {
	return func(v *CommerceSignatureVerifier) {
		v.metrics = metrics
	}
}

// WithCommerceSignatureClock injects a clock for latency measurement.
func WithCommerceSignatureClock(now func() time.Time) CommerceSignatureOption {
	return func(v *CommerceSignatureVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewCommerceSignatureVerifier parses the PEM encoded public key. A missing or unparsable key
// is not fatal here: every request is then rejected with the key error so Commerce shows it.
func NewCommerceSignatureVerifier(publicKeyPEM string, opts ...CommerceSignatureOption) *CommerceSignatureVerifier {
	v := &CommerceSignatureVerifier{
		bodyLimit: defaultWebhookBodyLimit,
		logger:    nopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	v.key, v.keyErr = ParseRSAPublicKey(publicKeyPEM)
	if v.keyErr != nil && !v.skip {
		v.logger.Printf("auth: commerce webhook public key unusable: %v", v.keyErr)
	}
	return v
}

// Verify checks signature against body.
func (v *CommerceSignatureVerifier) Verify(body []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return ErrSignatureHeaderMissing
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return ErrSignatureBodyMissing
	}
	if v.key == nil {
		return ErrPublicKeyMissing
	}
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrSignatureMismatch
	}
	digest := sha256.Sum256(body)
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, digest[:], sig); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// Middleware verifies each request before passing it on with the body restored. Failures are
// answered with a webhook exception operation.
func (v *CommerceSignatureVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.skip {
			next.ServeHTTP(w, r)
			return
		}
		start := v.now()
		ctx := r.Context()

		body, err := v.readBody(r)
		if err != nil {
			record(ctx, v.metrics, verificationCommerceSignature, false, "body_unreadable", v.now().Sub(start))
			httpx.WriteWebhookException(ctx, w, fmt.Sprintf("Failed to verify the webhook signature: %v", err))
			return
		}

		if err := v.Verify(body, r.Header.Get(CommerceSignatureHeader)); err != nil {
			record(ctx, v.metrics, verificationCommerceSignature, false, signatureReason(err), v.now().Sub(start))
			httpx.WriteWebhookException(ctx, w, fmt.Sprintf("Failed to verify the webhook signature: %v", err))
			return
		}

		record(ctx, v.metrics, verificationCommerceSignature, true, verificationSuccess, v.now().Sub(start))
		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, &Principal{Kind: PrincipalCommerce, Subject: "commerce"})))
	})
}

func (v *CommerceSignatureVerifier) readBody(r *http.Request) ([]byte, error) {
	return readBodyWithLimit(r, v.bodyLimit)
}

// readBodyWithLimit reads at most limit bytes and restores the body for the next handler.
func readBodyWithLimit(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, fmt.Errorf("request body exceeds %d bytes", limit)
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func signatureReason(err error) string {
	switch {
	case errors.Is(err, ErrSignatureHeaderMissing):
		return "signature_missing"
	case errors.Is(err, ErrSignatureBodyMissing):
		return "body_missing"
	case errors.Is(err, ErrPublicKeyMissing):
		return "key_missing"
	default:
		return "signature_mismatch"
	}
}

// ParseRSAPublicKey decodes a PEM "PUBLIC KEY" (PKIX) or "RSA PUBLIC KEY" (PKCS#1) block.
func ParseRSAPublicKey(value string) (*rsa.PublicKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrPublicKeyMissing
	}
	block, _ := pem.Decode([]byte(value))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrPublicKeyMissing)
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is %T, want RSA", parsed)
	}
	return key, nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
