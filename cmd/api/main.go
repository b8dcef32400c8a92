package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce-checkout/internal/di"
	"github.com/hanko-field/commerce-checkout/internal/handlers"
	"github.com/hanko-field/commerce-checkout/internal/platform/auth"
	"github.com/hanko-field/commerce-checkout/internal/platform/config"
	"github.com/hanko-field/commerce-checkout/internal/platform/idempotency"
	"github.com/hanko-field/commerce-checkout/internal/platform/observability"
	"github.com/hanko-field/commerce-checkout/internal/platform/secrets"
	"github.com/hanko-field/commerce-checkout/internal/platform/state"
	"github.com/hanko-field/commerce-checkout/internal/services"
)

const meterName = "github.com/hanko-field/commerce-checkout"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	meter := otel.GetMeterProvider().Meter(meterName)
	resolver, err := newSecretResolver(ctx, logger, envValues, secrets.WithMeter(meter))
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(resolver.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	metrics, err := observability.NewCheckoutMetrics(meter)
	if err != nil {
		logger.Fatal("failed to initialise metrics", zap.Error(err))
	}

	containerOpts := []di.Option{di.WithBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt))}
	if secretProjectConfigured(envValues) {
		containerOpts = append(containerOpts, di.WithSecretHealth(resolver))
	}
	container, err := di.NewContainer(ctx, cfg, logger, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	container.RunBackground(observability.WithLogger(backgroundCtx, logger.Named("background")))

	authLogger := logger.Named("auth")
	webhookHandlers := handlers.NewWebhookHandlers(handlers.WebhookHandlersDeps{
		Taxes:             container.Services.Taxes,
		AdjustmentTaxes:   container.Services.AdjustmentTaxes,
		PaymentFilter:     container.Services.PaymentFilter,
		PaymentValidation: container.Services.PaymentValidation,
		ShippingMethods:   container.Services.ShippingMethods,
		Metrics:           metrics,
		Verify:            buildSignatureMiddleware(authLogger, cfg, metrics),
		BodyLimit:         cfg.Webhooks.BodyLimit,
	})

	var adminGuard []func(http.Handler) http.Handler
	if guard := buildIMSMiddleware(authLogger, cfg, metrics); guard != nil {
		adminGuard = append(adminGuard, guard)
	}
	deliveryVerifier, err := buildDeliveryMiddleware(authLogger, cfg, metrics)
	if err != nil {
		logger.Fatal("failed to initialise event delivery verification", zap.Error(err))
	}

	eventHandlers := handlers.NewEventHandlers(handlers.EventHandlersDeps{
		Commerce:            container.Services.CommerceEvents,
		ThirdParty:          container.Services.ThirdPartyEvents,
		PublishMiddlewares:  buildPublishMiddlewares(logger, cfg, container.State, metrics),
		DeliveryMiddlewares: []func(http.Handler) http.Handler{deliveryVerifier},
		LookupMiddlewares:   adminGuard,
	})

	adminDeps := handlers.AdminHandlersDeps{
		TaxCodes: container.RateTable.Codes,
		Guard:    adminGuard,
	}
	if container.Commerce != nil {
		adminDeps.TaxClasses = container.Commerce
	}
	adminHandlers := handlers.NewAdminHandlers(adminDeps)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithEventRoutes(eventHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce checkout api listening",
			zap.String("stateBackend", cfg.State.Backend),
			zap.String("publisher", cfg.Events.Publisher),
			zap.Bool("commerceClient", container.Commerce != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	backgroundCancel()
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["CHECKOUT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["CHECKOUT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// buildSignatureMiddleware verifies Commerce webhook signatures unless verification is disabled.
func buildSignatureMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	opts := []auth.CommerceSignatureOption{
		auth.WithCommerceSignatureLogger(observability.NewPrintfAdapter(logger)),
		auth.WithCommerceSignatureMetrics(metrics),
		auth.WithCommerceSignatureBodyLimit(cfg.Webhooks.BodyLimit),
	}
	if !cfg.Webhooks.VerifySignature {
		logger.Warn("auth: commerce webhook signature verification disabled")
		opts = append(opts, auth.WithCommerceSignatureSkip())
	}
	return auth.NewCommerceSignatureVerifier(cfg.Webhooks.PublicKey, opts...).Middleware
}

// buildDeliveryMiddleware verifies Adobe I/O Events digital signatures on event deliveries. A
// pinned AIO_EVENTS_PUBLIC_KEY replaces lookups against the Adobe key host.
func buildDeliveryMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) (func(http.Handler) http.Handler, error) {
	opts := []auth.IOEventsOption{
		auth.WithIOEventsLogger(observability.NewPrintfAdapter(logger)),
		auth.WithIOEventsMetrics(metrics),
	}
	if !cfg.Events.VerifyDeliveries {
		logger.Warn("auth: io events delivery signature verification disabled")
		opts = append(opts, auth.WithIOEventsSkip())
	}

	var keys auth.PublicKeySource = auth.NewRemotePublicKeys(cfg.Events.PublicKeyBaseURL, nil)
	if pinned := strings.TrimSpace(cfg.Events.PublicKey); pinned != "" {
		key, err := auth.ParseRSAPublicKey(pinned)
		if err != nil {
			return nil, fmt.Errorf("parse AIO_EVENTS_PUBLIC_KEY: %w", err)
		}
		keys = auth.StaticPublicKey{Key: key}
	}
	return auth.NewIOEventsVerifier(keys, opts...).Middleware, nil
}

// buildPublishMiddlewares throttles third-party publishers, verifies their HMAC signature when
// secrets are configured and replays retried publishes carrying an Idempotency-Key.
func buildPublishMiddlewares(logger *zap.Logger, cfg config.Config, store state.Store, metrics auth.MetricsRecorder) []func(http.Handler) http.Handler {
	var chain []func(http.Handler) http.Handler
	if cfg.Events.PublishRateLimit > 0 {
		chain = append(chain, handlers.PublishRateLimit(cfg.Events.PublishRateLimit, cfg.Events.PublishRateWindow, time.Now))
	}
	if hmac := buildHMACMiddleware(logger.Named("auth"), cfg, store, metrics); hmac != nil {
		chain = append(chain, hmac)
	}
	chain = append(chain, idempotency.Middleware(
		idempotency.NewStore(store),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	))
	return chain
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config, store state.Store, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	known := make(map[string]string)
	for key, value := range cfg.Security.HMAC.Secrets {
		if strings.TrimSpace(value) == "" {
			continue
		}
		known[strings.ToLower(key)] = value
	}
	if len(known) == 0 {
		return nil
	}

	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		if secret, ok := known[strings.ToLower(strings.TrimSpace(name))]; ok {
			return secret, nil
		}
		return "", errors.New("auth: secret not found")
	})
	validator := auth.NewHMACValidator(provider, state.NewNonceStore(store, time.Now),
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACMetrics(metrics),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	)

	if len(known) == 1 {
		for name := range known {
			return validator.RequireHMAC(name)
		}
	}
	return validator.RequireHMACByKeyID(known)
}

func buildIMSMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	ims := cfg.Security.IMS
	if strings.TrimSpace(ims.JWKSURL) == "" || strings.TrimSpace(ims.Audience) == "" {
		logger.Warn("auth: IMS audience not configured; admin routes are unauthenticated")
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(ims.JWKSURL, auth.WithJWKSLogger(adapter))
	validator := auth.NewIMSValidator(cache, auth.WithIMSLogger(adapter), auth.WithIMSMetrics(metrics))
	return validator.RequireIMS(ims.Audience, ims.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string, extra ...secrets.Option) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("CHECKOUT_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := secretDefaultProject(env)
	fallbackPath := lookup("CHECKOUT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projects := parseKeyValueList(lookup("CHECKOUT_SECRET_PROJECT_IDS")); len(projects) > 0 {
		opts = append(opts, secrets.WithProjectMap(projects))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := parseKeyValueList(lookup("CHECKOUT_SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	opts = append(opts, extra...)
	return secrets.NewResolver(ctx, opts...)
}

func secretDefaultProject(env map[string]string) string {
	if project := strings.TrimSpace(env["CHECKOUT_SECRET_DEFAULT_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["CHECKOUT_FIRESTORE_PROJECT_ID"])
}

// secretProjectConfigured reports whether Secret Manager is in use and worth probing for readiness.
func secretProjectConfigured(env map[string]string) bool {
	return secretDefaultProject(env) != "" || strings.TrimSpace(env["CHECKOUT_SECRET_PROJECT_IDS"]) != ""
}

// requiredSecretNames lists the secrets that must resolve to a non-empty value at startup.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if !strings.EqualFold(strings.TrimSpace(env["COMMERCE_WEBHOOKS_VERIFY"]), "false") {
		required = append(required, "Webhooks.PublicKey")
	}
	if strings.TrimSpace(env["CHECKOUT_STRIPE_API_KEY"]) != "" {
		required = append(required, "Payments.StripeAPIKey")
	}
	keys := make([]string, 0)
	for key := range parseKeyValueList(env["CHECKOUT_HMAC_SECRETS"]) {
		keys = append(keys, strings.ToLower(key))
	}
	sort.Strings(keys)
	for _, key := range keys {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
