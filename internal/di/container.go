package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/commerce-checkout/internal/commerce"
	domain "github.com/hanko-field/commerce-checkout/internal/domain"
	"github.com/hanko-field/commerce-checkout/internal/payments"
	"github.com/hanko-field/commerce-checkout/internal/platform/config"
	"github.com/hanko-field/commerce-checkout/internal/platform/events"
	pfirestore "github.com/hanko-field/commerce-checkout/internal/platform/firestore"
	"github.com/hanko-field/commerce-checkout/internal/platform/observability"
	"github.com/hanko-field/commerce-checkout/internal/platform/state"
	platformstorage "github.com/hanko-field/commerce-checkout/internal/platform/storage"
	"github.com/hanko-field/commerce-checkout/internal/repositories"
	"github.com/hanko-field/commerce-checkout/internal/services"
)

const (
	defaultCleanupInterval = time.Minute
	firestoreCleanupBatch  = 200
	secretHealthReference  = "secret://system/healthz?version=latest"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Taxes             services.TaxService
	AdjustmentTaxes   services.AdjustmentTaxService
	PaymentFilter     services.PaymentFilterService
	PaymentValidation services.PaymentValidationService
	ShippingMethods   services.ShippingMethodService
	ThirdPartyEvents  services.ThirdPartyEventService
	CommerceEvents    services.CommerceEventRouter
	System            services.SystemService
}

// Container wires the state backend, event transport, Commerce client and services for runtime
// use. Commerce is nil when no Commerce base URL is configured.
type Container struct {
	Config    config.Config
	Logger    *zap.Logger
	Commerce  *commerce.Client
	State     state.Store
	Publisher services.EventPublisher
	RateTable services.RateTable
	Services  Services

	topic       *pubsub.Topic
	kafkaSource *events.KafkaSource
	closers     []closer
	wg          sync.WaitGroup
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Option customises container construction.
type Option func(*containerOptions)

type containerOptions struct {
	build     services.BuildInfo
	secrets   repositories.SecretPinger
	state     state.Store
	publisher services.EventPublisher
}

// WithBuildInfo sets the metadata reported by the health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithSecretHealth adds a Secret Manager readiness check backed by pinger.
func WithSecretHealth(pinger repositories.SecretPinger) Option {
	return func(o *containerOptions) {
		o.secrets = pinger
	}
}

// WithStateStore replaces the configured state backend.
func WithStateStore(store state.Store) Option {
	return func(o *containerOptions) {
		o.state = store
	}
}

// WithPublisher replaces the configured event publisher.
func WithPublisher(publisher services.EventPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is
// released.
func NewContainer(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	c := &Container{Config: cfg, Logger: logger}
	built := false
	defer func() {
		if !built {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	var err error

	c.State = o.state
	if c.State == nil {
		if c.State, err = c.buildState(); err != nil {
			return nil, err
		}
	}

	if strings.TrimSpace(cfg.Commerce.BaseURL) != "" {
		c.Commerce, err = commerce.NewClient(ctx, commerce.Options{
			BaseURL:     cfg.Commerce.BaseURL,
			HTTPTimeout: cfg.Commerce.HTTPTimeout,
			Integration: cfg.Commerce.Integration,
			IMS:         cfg.Commerce.IMS,
			Logger:      logger.Named("commerce"),
		})
		if err != nil {
			return nil, fmt.Errorf("build commerce client: %w", err)
		}
	}

	c.Publisher = o.publisher
	if c.Publisher == nil {
		if c.Publisher, err = c.buildPublisher(ctx); err != nil {
			return nil, err
		}
	}

	if c.RateTable, err = c.loadRateTable(ctx); err != nil {
		return nil, err
	}

	if c.Services, err = c.buildServices(o); err != nil {
		return nil, err
	}

	if topic := strings.TrimSpace(cfg.Events.KafkaCommerceTopic); topic != "" {
		handler := func(ctx context.Context, event domain.CommerceEvent) error {
			_, err := c.Services.CommerceEvents.Route(ctx, event)
			return err
		}
		c.kafkaSource, err = events.NewKafkaSource(cfg.Kafka.Brokers, topic, cfg.Events.KafkaGroupID, handler, logger.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("build kafka source: %w", err)
		}
		c.addCloser("kafka-source", func(context.Context) error { return c.kafkaSource.Stop() })
	}

	built = true
	return c, nil
}

func (c *Container) buildState() (state.Store, error) {
	cfg := c.Config
	switch cfg.State.Backend {
	case config.StateBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.addCloser("redis", func(context.Context) error { return client.Close() })
		return state.NewRedisStore(client), nil
	case config.StateBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		c.addCloser("firestore", provider.Close)
		return state.NewFirestoreStore(provider, state.WithCollection(cfg.State.Collection)), nil
	case config.StateBackendMemory, "":
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

func (c *Container) buildPublisher(ctx context.Context) (services.EventPublisher, error) {
	cfg := c.Config
	switch cfg.Events.Publisher {
	case config.PublisherNone:
		return nil, nil
	case config.PublisherIOEvents:
		publisher, err := events.NewIOEventsPublisher(events.IOEventsConfig{
			IngressURL: cfg.Events.IOEventsIngressURL,
			APIKey:     cfg.Events.IOEventsAPIKey,
			OrgID:      cfg.Commerce.IMS.OrgID,
			Tokens:     commerce.IMSTokenSource(ctx, cfg.Commerce.IMS, nil),
		})
		if err != nil {
			return nil, fmt.Errorf("build io events publisher: %w", err)
		}
		return publisher, nil
	case config.PublisherPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, pubsubClientOptions(cfg.PubSub)...)
		if err != nil {
			return nil, fmt.Errorf("build pubsub client: %w", err)
		}
		c.addCloser("pubsub", func(context.Context) error { return client.Close() })
		c.topic = client.Topic(cfg.Events.PubSubTopic)
		publisher, err := events.NewPubSubPublisher(c.topic)
		if err != nil {
			return nil, fmt.Errorf("build pubsub publisher: %w", err)
		}
		c.addCloser("pubsub-topic", func(context.Context) error {
			publisher.Stop()
			return nil
		})
		return publisher, nil
	case config.PublisherKafka:
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Events.KafkaTopic, c.Logger.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		c.addCloser("kafka-publisher", func(context.Context) error { return publisher.Close() })
		return publisher, nil
	default:
		return nil, fmt.Errorf("unknown event publisher %q", cfg.Events.Publisher)
	}
}

func pubsubClientOptions(cfg config.PubSubConfig) []option.ClientOption {
	host := strings.TrimSpace(cfg.EmulatorHost)
	if host == "" {
		return nil
	}
	return []option.ClientOption{
		option.WithoutAuthentication(),
		option.WithEndpoint(host),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

func (c *Container) loadRateTable(ctx context.Context) (services.RateTable, error) {
	source := strings.TrimSpace(c.Config.Tax.RateTableSource)
	var client *gcs.Client
	if strings.HasPrefix(source, "gs://") {
		var err error
		client, err = gcs.NewClient(ctx)
		if err != nil {
			return services.RateTable{}, fmt.Errorf("build storage client: %w", err)
		}
		defer client.Close()
	}
	table, err := services.LoadRateTable(ctx, platformstorage.NewReader(client), source)
	if err != nil {
		return services.RateTable{}, err
	}
	return table, nil
}

func (c *Container) buildServices(o containerOptions) (Services, error) {
	cfg := c.Config
	eventLogger := observability.EventLogger(c.Logger.Named("services"))
	var svc Services
	var err error

	if svc.Taxes, err = services.NewTaxService(services.TaxServiceDeps{Rates: c.RateTable, Logger: eventLogger}); err != nil {
		return Services{}, fmt.Errorf("build tax service: %w", err)
	}
	if svc.AdjustmentTaxes, err = services.NewAdjustmentTaxService(services.AdjustmentTaxServiceDeps{Rates: c.RateTable, Logger: eventLogger}); err != nil {
		return Services{}, fmt.Errorf("build adjustment tax service: %w", err)
	}
	if svc.PaymentFilter, err = services.NewPaymentFilterService(services.PaymentFilterServiceDeps{Logger: eventLogger}); err != nil {
		return Services{}, fmt.Errorf("build payment filter service: %w", err)
	}
	if svc.ShippingMethods, err = services.NewShippingMethodService(services.ShippingMethodServiceDeps{Logger: eventLogger}); err != nil {
		return Services{}, fmt.Errorf("build shipping method service: %w", err)
	}

	validationDeps := services.PaymentValidationServiceDeps{
		SupportedMethods: cfg.Payments.MethodCodes,
		Logger:           eventLogger,
	}
	if gateway, err := c.buildPaymentGateway(eventLogger); err != nil {
		return Services{}, err
	} else if gateway != nil {
		validationDeps.Gateway = gateway
	}
	if svc.PaymentValidation, err = services.NewPaymentValidationService(validationDeps); err != nil {
		return Services{}, fmt.Errorf("build payment validation service: %w", err)
	}

	svc.ThirdPartyEvents, err = services.NewThirdPartyEventService(services.ThirdPartyEventServiceDeps{
		Publisher:       c.Publisher,
		Store:           c.State,
		ProviderMapping: cfg.Events.ProviderMapping,
		ProviderKey:     cfg.Events.ThirdPartyProvider,
		TTL:             cfg.State.TTL,
		Logger:          eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build third-party event service: %w", err)
	}

	orderDeps := services.OrderPlacedHandlerDeps{
		SupportedMethods: cfg.Payments.MethodCodes,
		AutoInvoice:      cfg.Payments.AutoInvoice,
		Logger:           eventLogger,
	}
	if c.Commerce != nil {
		orderDeps.Invoicer = c.Commerce
	}
	svc.CommerceEvents, err = services.NewCommerceEventRouter(services.CommerceEventRouterDeps{
		Handlers: map[string]services.CommerceEventHandler{
			domain.EventOrderPlaced: services.NewOrderPlacedHandler(orderDeps),
		},
		Logger: eventLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build commerce event router: %w", err)
	}

	if svc.System, err = c.buildSystemService(o); err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	return svc, nil
}

// buildPaymentGateway registers the Stripe gateway for every supported method code. It returns
// nil when no Stripe key is configured.
func (c *Container) buildPaymentGateway(logger func(context.Context, string, map[string]any)) (services.PaymentGateway, error) {
	cfg := c.Config.Payments
	if strings.TrimSpace(cfg.StripeAPIKey) == "" || len(cfg.MethodCodes) == 0 {
		return nil, nil
	}
	stripe, err := payments.NewStripeGateway(payments.StripeGatewayConfig{APIKey: cfg.StripeAPIKey, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("build stripe gateway: %w", err)
	}
	gateways := make(map[string]payments.Gateway, len(cfg.MethodCodes))
	for _, code := range cfg.MethodCodes {
		gateways[code] = stripe
	}
	manager, err := payments.NewManager(gateways)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

// buildSystemService checks the state backend on every readiness probe and, when configured,
// the Pub/Sub topic and Secret Manager. Only the state backend is critical.
func (c *Container) buildSystemService(o containerOptions) (services.SystemService, error) {
	stateName := c.Config.State.Backend
	if stateName == "" {
		stateName = config.StateBackendMemory
	}
	checks := []repositories.DependencyCheck{repositories.PingCheck(stateName, c.State)}
	if c.topic != nil {
		checks = append(checks, repositories.PubSubTopicCheck(c.topic))
	}
	if o.secrets != nil {
		checks = append(checks, repositories.SecretCheck(o.secrets, secretHealthReference))
	}
	repo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return nil, err
	}
	build := o.build
	if build.Environment == "" {
		build.Environment = c.Config.Security.Environment
	}
	return services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: repo,
		Clock:            time.Now,
		Build:            build,
		Critical:         []string{stateName},
	})
}

// RunBackground starts the Kafka Commerce event source and the expired state sweeper. Both stop
// when ctx is done; Close waits for them.
func (c *Container) RunBackground(ctx context.Context) {
	if c == nil {
		return
	}
	if c.kafkaSource != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.kafkaSource.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.Logger.Error("kafka source stopped", zap.Error(err))
			}
		}()
	}

	switch store := c.State.(type) {
	case *state.MemoryStore:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			store.Sweep(ctx, defaultCleanupInterval)
		}()
	case *state.FirestoreStore:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.cleanupFirestore(ctx, store)
		}()
	}
}

func (c *Container) cleanupFirestore(ctx context.Context, store *state.FirestoreStore) {
	ticker := time.NewTicker(defaultCleanupInterval)
	defer ticker.Stop()
	logger := c.Logger.Named("state")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			removed, err := store.CleanupExpired(runCtx, firestoreCleanupBatch)
			cancel()
			if err != nil {
				logger.Error("state cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("state cleanup removed entries", zap.Int("count", removed))
			}
		}
	}
}

func (c *Container) addCloser(name string, fn func(context.Context) error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Close waits for background workers and releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.closers[i].name, err))
		}
	}
	c.closers = nil

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
