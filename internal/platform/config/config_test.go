package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

const testPublicKey = "-----BEGIN PUBLIC KEY-----\\nMIIBIjANBg\\n-----END PUBLIC KEY-----"

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"COMMERCE_WEBHOOKS_PUBLIC_KEY": testPublicKey,
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if !cfg.Webhooks.VerifySignature {
		t.Errorf("expected signature verification enabled by default")
	}
	if cfg.Webhooks.PublicKey != "-----BEGIN PUBLIC KEY-----\nMIIBIjANBg\n-----END PUBLIC KEY-----" {
		t.Errorf("expected escaped newlines to be restored, got %q", cfg.Webhooks.PublicKey)
	}
	if cfg.Webhooks.BodyLimit != defaultWebhookBodyLimit {
		t.Errorf("unexpected body limit %d", cfg.Webhooks.BodyLimit)
	}
	if cfg.State.Backend != StateBackendMemory {
		t.Errorf("expected memory state backend, got %s", cfg.State.Backend)
	}
	if !cfg.Events.VerifyDeliveries || cfg.Events.PublicKeyBaseURL != "https://static.adobeioevents.com" {
		t.Errorf("expected event delivery verification against the Adobe key host, got %+v", cfg.Events)
	}
	if cfg.State.TTL != 5*time.Minute {
		t.Errorf("unexpected state ttl %s", cfg.State.TTL)
	}
	if cfg.Events.Publisher != PublisherNone {
		t.Errorf("expected no publisher, got %q", cfg.Events.Publisher)
	}
	if cfg.Events.ThirdPartyProvider != "3rd_party_custom_events" {
		t.Errorf("unexpected provider key %s", cfg.Events.ThirdPartyProvider)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.IMS.JWKSURL != defaultIMSJWKSURL {
		t.Errorf("expected default jwks url, got %s", cfg.Security.IMS.JWKSURL)
	}
	if len(cfg.Security.IMS.Issuers) != 1 || cfg.Security.IMS.Issuers[0] != defaultIMSIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.IMS.Issuers)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
	if len(cfg.Payments.MethodCodes) != 0 {
		t.Errorf("expected no payment method codes, got %v", cfg.Payments.MethodCodes)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"CHECKOUT_SERVER_PORT":                              "9090",
		"CHECKOUT_SERVER_IDLE_TIMEOUT":                      "2m",
		"COMMERCE_BASE_URL":                                 "https://na1.api.commerce.adobe.com/tenant",
		"COMMERCE_WEBHOOKS_PUBLIC_KEY":                      "secret://commerce/webhook-key",
		"COMMERCE_PAYMENT_METHOD_CODES":                     `["method-1", "method-2"]`,
		"AIO_COMMERCE_AUTH_INTEGRATION_CONSUMER_KEY":        "ck",
		"AIO_COMMERCE_AUTH_INTEGRATION_CONSUMER_SECRET":     "secret://commerce/consumer-secret",
		"AIO_COMMERCE_AUTH_INTEGRATION_ACCESS_TOKEN":        "at",
		"AIO_COMMERCE_AUTH_INTEGRATION_ACCESS_TOKEN_SECRET": "sm://commerce/token-secret",
		"AIO_COMMERCE_AUTH_IMS_CLIENT_ID":                   "client",
		"AIO_COMMERCE_AUTH_IMS_CLIENT_SECRETS":              `["secret://ims/client"]`,
		"AIO_COMMERCE_AUTH_IMS_TECHNICAL_ACCOUNT_ID":        "tech@techacct.adobe.com",
		"AIO_COMMERCE_AUTH_IMS_TECHNICAL_ACCOUNT_EMAIL":     "tech@example.com",
		"AIO_COMMERCE_AUTH_IMS_ORG_ID":                      "org@AdobeOrg",
		"AIO_COMMERCE_AUTH_IMS_SCOPES":                      `["AdobeID","openid"]`,
		"AIO_EVENTS_PROVIDERMETADATA_TO_PROVIDER_MAPPING":   "dx_commerce_events:provider-a, 3rd_party_custom_events:provider-b",
		"CHECKOUT_EVENTS_PUBLISHER":                         "Kafka",
		"CHECKOUT_EVENTS_KAFKA_TOPIC":                       "checkout.events",
		"CHECKOUT_KAFKA_BROKERS":                            "kafka-1:9092, kafka-2:9092",
		"CHECKOUT_STATE_BACKEND":                            "redis",
		"CHECKOUT_REDIS_ADDR":                               "localhost:6379",
		"CHECKOUT_REDIS_DB":                                 "2",
		"CHECKOUT_STRIPE_API_KEY":                           "secret://stripe/api",
		"CHECKOUT_ENVIRONMENT":                              "Prod",
		"CHECKOUT_IMS_AUDIENCE":                             "client",
		"CHECKOUT_HMAC_SECRETS":                             "Partner=secret://hmac/partner,other=plain",
		"CHECKOUT_HMAC_CLOCK_SKEW":                          "3m",
	}

	secrets := map[string]string{
		"secret://commerce/webhook-key":     "pem",
		"secret://commerce/consumer-secret": "cs",
		"secret://commerce/token-secret":    "ats",
		"secret://ims/client":               "ims-secret",
		"secret://stripe/api":               "sk_test",
		"secret://hmac/partner":             "partner-hmac",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected idle timeout: %s", cfg.Server.IdleTimeout)
	}
	if cfg.Webhooks.PublicKey != "pem" {
		t.Errorf("expected resolved public key, got %s", cfg.Webhooks.PublicKey)
	}
	if !reflect.DeepEqual(cfg.Payments.MethodCodes, []string{"method-1", "method-2"}) {
		t.Errorf("unexpected method codes %v", cfg.Payments.MethodCodes)
	}
	if !cfg.Commerce.Integration.Complete() {
		t.Errorf("expected complete integration credentials, got %+v", cfg.Commerce.Integration)
	}
	if cfg.Commerce.Integration.AccessTokenSecret != "ats" {
		t.Errorf("expected legacy sm:// reference to resolve, got %s", cfg.Commerce.Integration.AccessTokenSecret)
	}
	if !cfg.Commerce.IMS.Complete() || cfg.Commerce.IMS.ClientSecrets[0] != "ims-secret" {
		t.Errorf("unexpected ims credentials %+v", cfg.Commerce.IMS)
	}
	if got := cfg.Events.ProviderMapping["3rd_party_custom_events"]; got != "provider-b" {
		t.Errorf("unexpected provider mapping %v", cfg.Events.ProviderMapping)
	}
	if cfg.Events.Publisher != PublisherKafka {
		t.Errorf("expected lower-cased publisher, got %s", cfg.Events.Publisher)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis db %d", cfg.Redis.DB)
	}
	if cfg.Payments.StripeAPIKey != "sk_test" {
		t.Errorf("expected resolved stripe key, got %s", cfg.Payments.StripeAPIKey)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected environment prod, got %s", cfg.Security.Environment)
	}
	if cfg.Security.HMAC.Secrets["partner"] != "partner-hmac" {
		t.Errorf("expected resolved partner secret, got %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Security.HMAC.Secrets["other"] != "plain" {
		t.Errorf("expected plain secret, got %v", cfg.Security.HMAC.Secrets)
	}
	if cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected clock skew %s", cfg.Security.HMAC.ClockSkew)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "CHECKOUT_SERVER_PORT=7070\nCOMMERCE_WEBHOOKS_VERIFY=false\n# comment\nexport COMMERCE_BASE_URL=\"https://commerce.example.com\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Webhooks.VerifySignature {
		t.Errorf("expected verification disabled from dotenv")
	}
	if cfg.Commerce.BaseURL != "https://commerce.example.com" {
		t.Errorf("expected base url from dotenv, got %s", cfg.Commerce.BaseURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	env := map[string]string{
		"CHECKOUT_STATE_BACKEND":    "redis",
		"CHECKOUT_EVENTS_PUBLISHER": "pubsub",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	expected := []string{"Webhooks.PublicKey", "Redis.Addr", "PubSub.ProjectID", "Events.PubSubTopic"}
	if !reflect.DeepEqual(validation.Fields(), expected) {
		t.Fatalf("expected fields %v, got %v", expected, validation.Fields())
	}
}

func TestLoadRejectsMalformedJSONList(t *testing.T) {
	env := map[string]string{
		"COMMERCE_WEBHOOKS_VERIFY":      "false",
		"COMMERCE_PAYMENT_METHOD_CODES": "method-1,method-2",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := validation.Fields(); len(fields) != 1 || fields[0] != "COMMERCE_PAYMENT_METHOD_CODES" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadCommandLineProfile(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""), WithCommandLineProfile())
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := validation.Fields(); len(fields) != 1 || fields[0] != "Commerce.BaseURL" {
		t.Fatalf("unexpected fields %v", fields)
	}

	cfg, err := Load(context.Background(),
		WithEnvMap(map[string]string{"COMMERCE_BASE_URL": "https://commerce.example.com"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithCommandLineProfile(),
	)
	if err != nil {
		t.Fatalf("expected cli profile to skip webhook key, got %v", err)
	}
	if cfg.Commerce.BaseURL != "https://commerce.example.com" {
		t.Fatalf("unexpected base url %s", cfg.Commerce.BaseURL)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"COMMERCE_WEBHOOKS_VERIFY": "false",
		"CHECKOUT_STRIPE_API_KEY":  "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err == nil {
		t.Fatal("expected secret resolution error, got nil")
	}
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "COMMERCE_BASE_URL=https://dot.example.com\nCHECKOUT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("COMMERCE_BASE_URL", "https://os.example.com")
	t.Setenv("CHECKOUT_SECRET_PROJECT_IDS", "prod=project-prod")

	overrides := map[string]string{
		"COMMERCE_BASE_URL": "https://override.example.com",
	}

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(overrides))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["COMMERCE_BASE_URL"]; got != "https://override.example.com" {
		t.Fatalf("expected override url, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["CHECKOUT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"COMMERCE_WEBHOOKS_VERIFY": "false",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Payments.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	expectedRedacted := redactSecretName("Payments.StripeAPIKey")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expectedRedacted {
		t.Fatalf("unexpected redacted names %v", got)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "Payments.StripeAPIKey" {
		t.Fatalf("unexpected names %v", got)
	}
}
