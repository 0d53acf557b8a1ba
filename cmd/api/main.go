package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/taskilo/api/internal/di"
	"github.com/taskilo/api/internal/functions"
	"github.com/taskilo/api/internal/handlers"
	"github.com/taskilo/api/internal/payments"
	"github.com/taskilo/api/internal/platform/auth"
	"github.com/taskilo/api/internal/platform/config"
	pfirestore "github.com/taskilo/api/internal/platform/firestore"
	"github.com/taskilo/api/internal/platform/idempotency"
	"github.com/taskilo/api/internal/platform/jobs"
	"github.com/taskilo/api/internal/platform/observability"
	"github.com/taskilo/api/internal/platform/secrets"
	"github.com/taskilo/api/internal/repositories"
	firestoreRepo "github.com/taskilo/api/internal/repositories/firestore"
	"github.com/taskilo/api/internal/services"
)

const (
	meterName = "github.com/taskilo/api"

	checkoutOpensPerMinute  = 30
	paymentIntentsPerMinute = 10
	shutdownTimeout         = 10 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)
	meter := otel.Meter(meterName)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, meter, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOptions(cfg)...))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, clientOptions(cfg)...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	paymentTopic := pubsubClient.Topic(cfg.PubSub.PaymentEventsTopic)
	defer paymentTopic.Stop()
	publisher, err := jobs.NewPubSubPaymentEventPublisher(paymentTopic)
	if err != nil {
		logger.Fatal("failed to initialise payment event publisher", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreProvider, fetcher, paymentTopic)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger:        payments.StripeLogger(observability.NewEventLogger(logger.Named("payments"))),
		Clock:         time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	functionClient, err := functions.NewClient(functions.ClientConfig{
		BaseURL:            cfg.Functions.BaseURL,
		PaymentIntentsPath: cfg.Functions.PaymentIntentsPath,
		Timeout:            cfg.Functions.Timeout,
		Logger:             observability.NewEventLogger(logger.Named("functions")),
	})
	if err != nil {
		logger.Fatal("failed to initialise functions client", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Dependencies{
		Payments:  paymentManager,
		Publisher: publisher,
		Functions: functionClient,
		Build:     buildInfo,
		Meter:     meter,
		Clock:     time.Now,
		Logger:    observability.NewEventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()
	svc := container.Services

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore, err := idempotency.NewFirestoreStore(firestoreProvider, "")
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithLogger(observability.NewEventLogger(logger.Named("idempotency"))),
	)

	schedulerAuth, err := newSchedulerAuth(cfg, logger, meter)
	if err != nil {
		logger.Fatal("failed to initialise scheduler auth", zap.Error(err))
	}

	functionHandlers := handlers.NewFunctionHandlers(handlers.FunctionHandlersDeps{
		Authenticator: authenticator,
		Drafts:        svc.Drafts,
		Customers:     svc.Customers,
		Providers:     svc.Providers,
		Intents:       svc.Intents,
		Idempotency:   idempotencyMiddleware,
		IntentLimit:   paymentIntentsPerMinute,
	})
	checkoutHandlers := handlers.NewCheckoutSessionHandlers(authenticator, svc.Checkout,
		handlers.WithCheckoutOpenLimit(checkoutOpensPerMinute, time.Minute, nil),
	)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Events)
	internalHandlers := handlers.NewInternalHandlers(handlers.InternalHandlersDeps{
		Sweeper: svc.Sweeper,
		Janitor: idempotencyStore,
		Logger:  observability.NewEventLogger(logger.Named("internal")),
	})
	publicHandlers := handlers.NewPublicHandlers(handlers.CheckoutConfig{
		PublishableKey: cfg.PSP.StripePublishableKey,
		Currency:       cfg.PSP.Currency,
		FeeBasisPoints: cfg.PSP.ServiceFeeBasisPoints,
	})

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if svc.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(svc.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithFunctionRoutes(functionHandlers.Routes),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(schedulerAuth.Require()),
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
		serverLogger.Info("taskilo api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
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

func clientOptions(cfg config.Config) []option.ClientOption {
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		},
		{
			Name:     "pubsub",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		},
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSchedulerAuth(cfg config.Config, logger *zap.Logger, meter metric.Meter) (*auth.SchedulerAuth, error) {
	verifications, err := meter.Int64Counter(
		"auth.oidc.verifications",
		metric.WithDescription("Scheduler token verifications by outcome"),
	)
	if err != nil {
		return nil, err
	}
	keys := auth.NewGoogleKeySet(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: 5 * time.Second}, time.Now)
	return auth.NewSchedulerAuth(keys, auth.SchedulerAuthConfig{
		Audience: cfg.Security.OIDC.Audience,
		Issuers:  cfg.Security.OIDC.Issuers,
		Invokers: cfg.Security.OIDC.Invokers,
		Logger:   observability.NewEventLogger(logger.Named("auth")),
		Record: func(ctx context.Context, success bool, reason string) {
			verifications.Add(ctx, 1, metric.WithAttributes(
				attribute.Bool("success", success),
				attribute.String("reason", reason),
			))
		},
	}), nil
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, meter metric.Meter, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	environment := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(environment),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(meter),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
