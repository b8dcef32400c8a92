package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Adobe I/O Events sign each delivery twice over the raw body with RSA-SHA256. Either signature
// verifying with the key named by its path header is enough.
const (
	IOEventsSignatureHeader1 = "x-adobe-digital-signature-1"
	IOEventsSignatureHeader2 = "x-adobe-digital-signature-2"
	IOEventsKeyPathHeader1   = "x-adobe-public-key1-path"
	IOEventsKeyPathHeader2   = "x-adobe-public-key2-path"

	// DefaultIOEventsKeyBaseURL hosts the public keys referenced by the path headers.
	DefaultIOEventsKeyBaseURL = "https://static.adobeioevents.com"

	verificationIOEvents  = "io_events_signature"
	defaultKeyCacheTTL    = time.Hour
	maxPublicKeyBytes     = 16 << 10
	defaultEventBodyLimit = 1 << 20
)

var (
	ErrDeliverySignatureMissing = errors.New("auth: event delivery signature headers missing")
	ErrDeliverySignatureInvalid = errors.New("auth: event delivery signature verification failed")
	ErrDeliveryKeyUnavailable   = errors.New("auth: event delivery public key unavailable")
)

// PublicKeySource resolves the RSA key named by an I/O Events key path header.
type PublicKeySource interface {
	PublicKey(ctx context.Context, path string) (*rsa.PublicKey, error)
}

// StaticPublicKey serves one pinned key regardless of the advertised path.
type StaticPublicKey struct {
	Key *rsa.PublicKey
}

// PublicKey implements PublicKeySource.
func (s StaticPublicKey) PublicKey(context.Context, string) (*rsa.PublicKey, error) {
	if s.Key == nil {
		return nil, ErrDeliveryKeyUnavailable
	}
	return s.Key, nil
}

// RemotePublicKeys downloads PEM keys from a fixed host and caches them per path.
type RemotePublicKeys struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPublicKey
}

type cachedPublicKey struct {
	key     *rsa.PublicKey
	fetched time.Time
}

// NewRemotePublicKeys builds a key source for baseURL. An empty baseURL selects the Adobe host.
func NewRemotePublicKeys(baseURL string, client *http.Client) *RemotePublicKeys {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultIOEventsKeyBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemotePublicKeys{
		baseURL: baseURL,
		client:  client,
		ttl:     defaultKeyCacheTTL,
		now:     time.Now,
		cache:   make(map[string]cachedPublicKey),
	}
}

// PublicKey implements PublicKeySource. Only absolute .pem paths on the configured host are
// fetched.
func (k *RemotePublicKeys) PublicKey(ctx context.Context, path string) (*rsa.PublicKey, error) {
	path = strings.TrimSpace(path)
	if !validKeyPath(path) {
		return nil, fmt.Errorf("auth: public key path %q rejected", path)
	}

	k.mu.Lock()
	cached, ok := k.cache[path]
	k.mu.Unlock()
	if ok && k.now().Sub(cached.fetched) < k.ttl {
		return cached.key, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryKeyUnavailable, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: key host returned %d", ErrDeliveryKeyUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth: public key %s not found (%d)", path, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPublicKeyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryKeyUnavailable, err)
	}
	key, err := ParseRSAPublicKey(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeliveryKeyUnavailable, err)
	}

	k.mu.Lock()
	k.cache[path] = cachedPublicKey{key: key, fetched: k.now()}
	k.mu.Unlock()
	return key, nil
}

func validKeyPath(path string) bool {
	return strings.HasPrefix(path, "/") &&
		!strings.HasPrefix(path, "//") &&
		strings.HasSuffix(path, ".pem") &&
		!strings.Contains(path, "..") &&
		!strings.ContainsAny(path, "?#@\\ ")
}

// IOEventsVerifier authenticates Adobe I/O Events deliveries.
type IOEventsVerifier struct {
	keys      PublicKeySource
	skip      bool
	bodyLimit int64

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// IOEventsOption customises the verifier.
type IOEventsOption func(*IOEventsVerifier)

// WithIOEventsSkip disables verification. Intended for local development.
func WithIOEventsSkip() IOEventsOption {
	return func(v *IOEventsVerifier) { v.skip = true }
}

// WithIOEventsBodyLimit caps the number of body bytes read for verification.
func WithIOEventsBodyLimit(limit int64) IOEventsOption {
	return func(v *IOEventsVerifier) {
		if limit > 0 {
			v.bodyLimit = limit
		}
	}
}

func WithIOEventsLogger(logger Logger) IOEventsOption {
	return func(v *IOEventsVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithIOEventsMetrics(metrics MetricsRecorder) IOEventsOption {
	return func(v *IOEventsVerifier) { v.metrics = metrics }
}

func WithIOEventsClock(now func() time.Time) IOEventsOption {
	return func(v *IOEventsVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewIOEventsVerifier builds a verifier resolving keys through keys.
func NewIOEventsVerifier(keys PublicKeySource, opts ...IOEventsOption) *IOEventsVerifier {
	v := &IOEventsVerifier{
		keys:      keys,
		bodyLimit: defaultEventBodyLimit,
		logger:    nopLogger{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify succeeds when at least one advertised signature verifies over body.
func (v *IOEventsVerifier) Verify(ctx context.Context, body []byte, header http.Header) error {
	if v.keys == nil {
		return ErrDeliveryKeyUnavailable
	}
	digest := sha256.Sum256(body)
	pairs := [][2]string{
		{header.Get(IOEventsSignatureHeader1), header.Get(IOEventsKeyPathHeader1)},
		{header.Get(IOEventsSignatureHeader2), header.Get(IOEventsKeyPathHeader2)},
	}

	var presented, checked int
	var keyErr error
	for _, pair := range pairs {
		signature, path := strings.TrimSpace(pair[0]), strings.TrimSpace(pair[1])
		if signature == "" || path == "" {
			continue
		}
		presented++
		key, err := v.keys.PublicKey(ctx, path)
		if err != nil {
			if errors.Is(err, ErrDeliveryKeyUnavailable) {
				keyErr = err
			}
			continue
		}
		checked++
		raw, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			continue
		}
		if rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], raw) == nil {
			return nil
		}
	}

	switch {
	case presented == 0:
		return ErrDeliverySignatureMissing
	case checked == 0 && keyErr != nil:
		return keyErr
	default:
		return ErrDeliverySignatureInvalid
	}
}

// Middleware rejects unsigned or forged deliveries. An unreachable key host answers 503 so
// I/O Events retries the delivery later.
func (v *IOEventsVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.skip {
			next.ServeHTTP(w, r)
			return
		}
		start := v.now()
		ctx := r.Context()

		body, err := readBodyWithLimit(r, v.bodyLimit)
		if err != nil {
			record(ctx, v.metrics, verificationIOEvents, false, "body_unreadable", v.now().Sub(start))
			respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
			return
		}

		if err := v.Verify(ctx, body, r.Header); err != nil {
			switch {
			case errors.Is(err, ErrDeliveryKeyUnavailable):
				v.logger.Printf("auth: io events key lookup failed: %v", err)
				record(ctx, v.metrics, verificationIOEvents, false, "key_unavailable", v.now().Sub(start))
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "event signature key unavailable")
			case errors.Is(err, ErrDeliverySignatureMissing):
				record(ctx, v.metrics, verificationIOEvents, false, "signature_missing", v.now().Sub(start))
				respondAuthError(w, http.StatusUnauthorized, "signature_missing", "event delivery signature missing")
			default:
				record(ctx, v.metrics, verificationIOEvents, false, "signature_mismatch", v.now().Sub(start))
				respondAuthError(w, http.StatusUnauthorized, "signature_invalid", "event delivery signature verification failed")
			}
			return
		}

		record(ctx, v.metrics, verificationIOEvents, true, verificationSuccess, v.now().Sub(start))
		next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, &Principal{Kind: PrincipalIOEvents, Subject: "adobe_io_events"})))
	})
}
