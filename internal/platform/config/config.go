package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hanko-field/commerce-checkout/internal/platform/textutil"
)

const (
	defaultEnvFile               = ".env"
	defaultPort                  = "8080"
	defaultReadTimeout           = 15 * time.Second
	defaultWriteTimeout          = 30 * time.Second
	defaultIdleTimeout           = 120 * time.Second
	defaultWebhookBodyLimit      = 1 << 20
	defaultSecurityEnvironment   = "local"
	defaultIMSJWKSURL            = "https://ims-na1.adobelogin.com/ims/keys"
	defaultIMSIssuer             = "https://ims-na1.adobelogin.com"
	defaultIMSTokenURL           = "https://ims-na1.adobelogin.com/ims/token/v3"
	defaultIOEventsIngressURL    = "https://eventsingress.adobe.io"
	defaultIOEventsKeyBaseURL    = "https://static.adobeioevents.com"
	defaultHMACSignatureHeader   = "X-Signature"
	defaultHMACTimestampHeader   = "X-Signature-Timestamp"
	defaultHMACNonceHeader       = "X-Signature-Nonce"
	defaultHMACClockSkew         = 5 * time.Minute
	defaultHMACNonceTTL          = 5 * time.Minute
	defaultStateBackend          = StateBackendMemory
	defaultStateTTL              = 5 * time.Minute
	defaultStateCollection       = "checkout_state"
	defaultKafkaGroupID          = "commerce-checkout"
	defaultCommerceHTTPTimeout   = 30 * time.Second
	defaultThirdPartyProviderKey = "3rd_party_custom_events"
	defaultPublishRateLimit      = 120
	defaultPublishRateWindow     = time.Minute
)

// Supported state store backends.
const (
	StateBackendMemory    = "memory"
	StateBackendRedis     = "redis"
	StateBackendFirestore = "firestore"
)

// Supported event publishers.
const (
	PublisherNone     = ""
	PublisherIOEvents = "ioevents"
	PublisherPubSub   = "pubsub"
	PublisherKafka    = "kafka"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Commerce  CommerceConfig
	Webhooks  WebhookConfig
	Tax       TaxConfig
	Payments  PaymentConfig
	Events    EventsConfig
	State     StateConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	PubSub    PubSubConfig
	Firestore FirestoreConfig
	Security  SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// CommerceConfig holds the Commerce REST endpoint and its credentials. The Events* identifiers
// are used when configuring Commerce eventing.
type CommerceConfig struct {
	BaseURL             string
	HTTPTimeout         time.Duration
	Integration         IntegrationCredentials
	IMS                 IMSCredentials
	EventsMerchantID    string
	EventsEnvironmentID string
}

// IntegrationCredentials are the OAuth 1.0a credentials of a Commerce integration.
type IntegrationCredentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

// Complete reports whether all four values are present.
func (c IntegrationCredentials) Complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessTokenSecret != ""
}

// IMSCredentials are the server-to-server IMS credentials.
type IMSCredentials struct {
	ClientID              string
	ClientSecrets         []string
	TechnicalAccountID    string
	TechnicalAccountEmail string
	OrgID                 string
	Scopes                []string
	TokenURL              string
}

// Complete reports whether every IMS value needed for a token exchange is present.
func (c IMSCredentials) Complete() bool {
	return c.ClientID != "" && len(c.ClientSecrets) > 0 && c.TechnicalAccountID != "" &&
		c.TechnicalAccountEmail != "" && c.OrgID != "" && len(c.Scopes) > 0
}

// WebhookConfig contains Commerce webhook verification parameters.
type WebhookConfig struct {
	PublicKey       string
	VerifySignature bool
	BodyLimit       int64
}

// TaxConfig locates the tax rate table. An empty source selects the built-in table.
type TaxConfig struct {
	RateTableSource string
}

// PaymentConfig lists out-of-process payment settings.
type PaymentConfig struct {
	MethodCodes  []string
	StripeAPIKey string
	AutoInvoice  bool
}

// EventsConfig selects and configures the event publisher. PublishRateLimit caps third-party
// publishes per caller per PublishRateWindow; zero disables throttling.
type EventsConfig struct {
	Publisher          string
	ProviderMapping    map[string]string
	ThirdPartyProvider string
	IOEventsIngressURL string
	IOEventsAPIKey     string
	KafkaTopic         string
	KafkaCommerceTopic string
	KafkaGroupID       string
	PubSubTopic        string
	PublishRateLimit   int
	PublishRateWindow  time.Duration

	// Delivery signature checks on /events/commerce and /events/3rd-party/consume.
	VerifyDeliveries bool
	PublicKeyBaseURL string
	PublicKey        string
}

// StateConfig selects the short-lived state store backend.
type StateConfig struct {
	Backend    string
	TTL        time.Duration
	Collection string
}

// RedisConfig configures the redis client.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig lists kafka brokers.
type KafkaConfig struct {
	Brokers []string
}

// PubSubConfig configures Pub/Sub publishing.
type PubSubConfig struct {
	ProjectID    string
	EmulatorHost string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// SecurityConfig groups inbound authentication settings.
type SecurityConfig struct {
	Environment string
	IMS         IMSTokenConfig
	HMAC        HMACConfig
}

// IMSTokenConfig controls IMS bearer token verification on admin routes.
type IMSTokenConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// HMACConfig captures third-party publisher signing expectations.
type HMACConfig struct {
	Secrets         map[string]string
	SignatureHeader string
	TimestampHeader string
	NonceHeader     string
	ClockSkew       time.Duration
	NonceTTL        time.Duration
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns the hashed secret identifiers, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
	commandLine     bool
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	values, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the field names recorded by the loader (e.g. "Payments.StripeAPIKey").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithCommandLineProfile validates for the provisioning CLI: the Commerce base URL is
// required and server-only settings such as the webhook public key are not.
func WithCommandLineProfile() Option {
	return func(o *loaderOptions) {
		o.commandLine = true
	}
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional Secret Manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := envLookup(func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	})

	var invalid []string
	jsonList := func(key string) []string {
		values, err := lookup.jsonList(key)
		if err != nil {
			invalid = append(invalid, key)
		}
		return values
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         lookup.str("PORT", lookup.str("CHECKOUT_SERVER_PORT", defaultPort)),
			ReadTimeout:  lookup.duration("CHECKOUT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: lookup.duration("CHECKOUT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  lookup.duration("CHECKOUT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Commerce: CommerceConfig{
			BaseURL:     strings.TrimSpace(lookup.str("COMMERCE_BASE_URL", "")),
			HTTPTimeout: lookup.duration("COMMERCE_HTTP_TIMEOUT", defaultCommerceHTTPTimeout),
			Integration: IntegrationCredentials{
				ConsumerKey:       lookup.str("AIO_COMMERCE_AUTH_INTEGRATION_CONSUMER_KEY", ""),
				ConsumerSecret:    lookup.str("AIO_COMMERCE_AUTH_INTEGRATION_CONSUMER_SECRET", ""),
				AccessToken:       lookup.str("AIO_COMMERCE_AUTH_INTEGRATION_ACCESS_TOKEN", ""),
				AccessTokenSecret: lookup.str("AIO_COMMERCE_AUTH_INTEGRATION_ACCESS_TOKEN_SECRET", ""),
			},
			IMS: IMSCredentials{
				ClientID:              lookup.str("AIO_COMMERCE_AUTH_IMS_CLIENT_ID", ""),
				ClientSecrets:         jsonList("AIO_COMMERCE_AUTH_IMS_CLIENT_SECRETS"),
				TechnicalAccountID:    lookup.str("AIO_COMMERCE_AUTH_IMS_TECHNICAL_ACCOUNT_ID", ""),
				TechnicalAccountEmail: lookup.str("AIO_COMMERCE_AUTH_IMS_TECHNICAL_ACCOUNT_EMAIL", ""),
				OrgID:                 lookup.str("AIO_COMMERCE_AUTH_IMS_ORG_ID", ""),
				Scopes:                jsonList("AIO_COMMERCE_AUTH_IMS_SCOPES"),
				TokenURL:              lookup.str("AIO_COMMERCE_AUTH_IMS_TOKEN_URL", defaultIMSTokenURL),
			},
			EventsMerchantID:    lookup.str("COMMERCE_ADOBE_IO_EVENTS_MERCHANT_ID", ""),
			EventsEnvironmentID: lookup.str("COMMERCE_ADOBE_IO_EVENTS_ENVIRONMENT_ID", ""),
		},
		Webhooks: WebhookConfig{
			PublicKey:       lookup.str("COMMERCE_WEBHOOKS_PUBLIC_KEY", ""),
			VerifySignature: lookup.boolean("COMMERCE_WEBHOOKS_VERIFY", true),
			BodyLimit:       int64(lookup.integer("COMMERCE_WEBHOOKS_BODY_LIMIT", defaultWebhookBodyLimit)),
		},
		Tax: TaxConfig{
			RateTableSource: lookup.str("TAX_RATE_TABLE", ""),
		},
		Payments: PaymentConfig{
			MethodCodes:  jsonList("COMMERCE_PAYMENT_METHOD_CODES"),
			StripeAPIKey: lookup.str("CHECKOUT_STRIPE_API_KEY", ""),
			AutoInvoice:  lookup.boolean("CHECKOUT_AUTO_INVOICE", false),
		},
		Events: EventsConfig{
			Publisher:          strings.ToLower(lookup.str("CHECKOUT_EVENTS_PUBLISHER", PublisherNone)),
			ProviderMapping:    lookup.pairs("AIO_EVENTS_PROVIDERMETADATA_TO_PROVIDER_MAPPING"),
			ThirdPartyProvider: lookup.str("CHECKOUT_EVENTS_THIRD_PARTY_PROVIDER", defaultThirdPartyProviderKey),
			IOEventsIngressURL: lookup.str("AIO_EVENTS_INGRESS_URL", defaultIOEventsIngressURL),
			IOEventsAPIKey:     lookup.str("AIO_EVENTS_API_KEY", ""),
			KafkaTopic:         lookup.str("CHECKOUT_EVENTS_KAFKA_TOPIC", ""),
			KafkaCommerceTopic: lookup.str("CHECKOUT_EVENTS_KAFKA_COMMERCE_TOPIC", ""),
			KafkaGroupID:       lookup.str("CHECKOUT_EVENTS_KAFKA_GROUP_ID", defaultKafkaGroupID),
			PubSubTopic:        lookup.str("CHECKOUT_EVENTS_PUBSUB_TOPIC", ""),
			PublishRateLimit:   lookup.integer("CHECKOUT_EVENTS_PUBLISH_RATE_LIMIT", defaultPublishRateLimit),
			PublishRateWindow:  lookup.duration("CHECKOUT_EVENTS_PUBLISH_RATE_WINDOW", defaultPublishRateWindow),
			VerifyDeliveries:   lookup.boolean("AIO_EVENTS_VERIFY_SIGNATURE", true),
			PublicKeyBaseURL:   lookup.str("AIO_EVENTS_PUBLIC_KEY_BASE_URL", defaultIOEventsKeyBaseURL),
			PublicKey:          lookup.str("AIO_EVENTS_PUBLIC_KEY", ""),
		},
		State: StateConfig{
			Backend:    strings.ToLower(lookup.str("CHECKOUT_STATE_BACKEND", defaultStateBackend)),
			TTL:        lookup.duration("CHECKOUT_STATE_TTL", defaultStateTTL),
			Collection: lookup.str("CHECKOUT_STATE_COLLECTION", defaultStateCollection),
		},
		Redis: RedisConfig{
			Addr:     lookup.str("CHECKOUT_REDIS_ADDR", ""),
			Password: lookup.str("CHECKOUT_REDIS_PASSWORD", ""),
			DB:       lookup.integer("CHECKOUT_REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: lookup.csv("CHECKOUT_KAFKA_BROKERS"),
		},
		PubSub: PubSubConfig{
			ProjectID:    lookup.str("CHECKOUT_PUBSUB_PROJECT_ID", ""),
			EmulatorHost: lookup.str("PUBSUB_EMULATOR_HOST", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup.str("CHECKOUT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: lookup.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(lookup.str("CHECKOUT_ENVIRONMENT", defaultSecurityEnvironment)),
			IMS: IMSTokenConfig{
				JWKSURL:  lookup.str("CHECKOUT_IMS_JWKS_URL", defaultIMSJWKSURL),
				Audience: lookup.str("CHECKOUT_IMS_AUDIENCE", ""),
				Issuers:  lookup.csv("CHECKOUT_IMS_ISSUERS"),
			},
			HMAC: HMACConfig{
				Secrets:         lookup.secretMap("CHECKOUT_HMAC_SECRETS"),
				SignatureHeader: lookup.str("CHECKOUT_HMAC_HEADER_SIGNATURE", defaultHMACSignatureHeader),
				TimestampHeader: lookup.str("CHECKOUT_HMAC_HEADER_TIMESTAMP", defaultHMACTimestampHeader),
				NonceHeader:     lookup.str("CHECKOUT_HMAC_HEADER_NONCE", defaultHMACNonceHeader),
				ClockSkew:       lookup.duration("CHECKOUT_HMAC_CLOCK_SKEW", defaultHMACClockSkew),
				NonceTTL:        lookup.duration("CHECKOUT_HMAC_NONCE_TTL", defaultHMACNonceTTL),
			},
		},
	}

	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}

	// Pub/Sub shares the Firestore project unless configured separately.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.IMS.Issuers) == 0 {
		cfg.Security.IMS.Issuers = []string{defaultIMSIssuer}
	}
	cfg.Webhooks.PublicKey = normalizePEM(cfg.Webhooks.PublicKey)
	cfg.Events.PublicKey = normalizePEM(cfg.Events.PublicKey)

	resolvedSecrets := make(map[string]string)
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		resolvedSecrets[name] = strings.TrimSpace(resolved)
		return nil
	}

	for key, value := range cfg.Security.HMAC.Secrets {
		resolved := value
		if err := resolveField(fmt.Sprintf("Security.HMAC.Secrets[%s]", key), &resolved); err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[key] = resolved
	}
	for i := range cfg.Commerce.IMS.ClientSecrets {
		if err := resolveField(fmt.Sprintf("Commerce.IMS.ClientSecrets[%d]", i), &cfg.Commerce.IMS.ClientSecrets[i]); err != nil {
			return Config{}, err
		}
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Commerce.Integration.ConsumerSecret", &cfg.Commerce.Integration.ConsumerSecret},
		{"Commerce.Integration.AccessTokenSecret", &cfg.Commerce.Integration.AccessTokenSecret},
		{"Webhooks.PublicKey", &cfg.Webhooks.PublicKey},
		{"Payments.StripeAPIKey", &cfg.Payments.StripeAPIKey},
		{"Events.IOEventsAPIKey", &cfg.Events.IOEventsAPIKey},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		if err := resolveField(target.name, target.field); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg, options.commandLine); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, commandLine bool) error {
	var missing []string

	if commandLine {
		if cfg.Commerce.BaseURL == "" {
			missing = append(missing, "Commerce.BaseURL")
		}
		if len(missing) > 0 {
			return &ValidationError{fields: missing}
		}
		return nil
	}

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Webhooks.VerifySignature && strings.TrimSpace(cfg.Webhooks.PublicKey) == "" {
		missing = append(missing, "Webhooks.PublicKey")
	}
	if cfg.Webhooks.BodyLimit <= 0 {
		missing = append(missing, "Webhooks.BodyLimit")
	}

	switch cfg.State.Backend {
	case StateBackendMemory:
	case StateBackendRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	case StateBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
		if cfg.State.Collection == "" {
			missing = append(missing, "State.Collection")
		}
	default:
		missing = append(missing, "State.Backend")
	}
	if cfg.State.TTL <= 0 {
		missing = append(missing, "State.TTL")
	}

	switch cfg.Events.Publisher {
	case PublisherNone:
	case PublisherIOEvents:
		if cfg.Events.IOEventsIngressURL == "" {
			missing = append(missing, "Events.IOEventsIngressURL")
		}
		if !cfg.Commerce.IMS.Complete() {
			missing = append(missing, "Commerce.IMS")
		}
	case PublisherPubSub:
		if cfg.PubSub.ProjectID == "" {
			missing = append(missing, "PubSub.ProjectID")
		}
		if cfg.Events.PubSubTopic == "" {
			missing = append(missing, "Events.PubSubTopic")
		}
	case PublisherKafka:
		if cfg.Events.KafkaTopic == "" {
			missing = append(missing, "Events.KafkaTopic")
		}
	default:
		missing = append(missing, "Events.Publisher")
	}
	if (cfg.Events.Publisher == PublisherKafka || cfg.Events.KafkaCommerceTopic != "") && len(cfg.Kafka.Brokers) == 0 {
		missing = append(missing, "Kafka.Brokers")
	}
	if cfg.Payments.AutoInvoice && cfg.Commerce.BaseURL == "" {
		missing = append(missing, "Commerce.BaseURL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: trimmed, redacted: redactSecretName(trimmed)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

// normalizePEM restores line breaks in keys stored with literal "\n" sequences, which is how
// multi-line values usually survive env files and deployment manifests.
func normalizePEM(value string) string {
	if !strings.Contains(value, "\\n") {
		return value
	}
	return strings.ReplaceAll(value, "\\n", "\n")
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

// envLookup reads one key from the merged env sources. Empty values count as unset.
type envLookup func(key string) (string, bool)

func (l envLookup) raw(key string) (string, bool) {
	value, ok := l(key)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (l envLookup) str(key, fallback string) string {
	if value, ok := l.raw(key); ok {
		return value
	}
	return fallback
}

func (l envLookup) duration(key string, fallback time.Duration) time.Duration {
	value, ok := l.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func (l envLookup) integer(key string, fallback int) int {
	value, ok := l.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func (l envLookup) boolean(key string, fallback bool) bool {
	value, ok := l.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

func (l envLookup) csv(key string) []string {
	out := []string{}
	value, ok := l.raw(key)
	if !ok {
		return out
	}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// jsonList decodes a JSON array of strings such as `["a","b"]`, the format App Builder uses for
// list settings.
func (l envLookup) jsonList(key string) ([]string, error) {
	out := []string{}
	value, ok := l.raw(key)
	if !ok {
		return out, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(value), &values); err != nil {
		return out, fmt.Errorf("config: %s is not a JSON string array: %w", key, err)
	}
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// secretMap parses "name=value,name2=value2"; names are lower-cased.
func (l envLookup) secretMap(key string) map[string]string {
	out := make(map[string]string)
	value, ok := l.raw(key)
	if !ok {
		return out
	}
	for _, entry := range strings.Split(value, ",") {
		name, secret, found := strings.Cut(entry, "=")
		name, secret = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(secret)
		if found && name != "" && secret != "" {
			out[name] = secret
		}
	}
	return out
}

// pairs parses "key:value,key2:value2" keeping key case.
func (l envLookup) pairs(key string) map[string]string {
	value, _ := l.raw(key)
	if mapping := textutil.ParseKeyValueList(value); mapping != nil {
		return mapping
	}
	return map[string]string{}
}
