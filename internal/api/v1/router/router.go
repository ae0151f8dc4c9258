package router

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dropaccess/internal/analytics"
	"dropaccess/internal/api/v1/handler"
	"dropaccess/internal/billing"
	"dropaccess/internal/config"
	"dropaccess/internal/database"
	"dropaccess/internal/metrics"
	"dropaccess/internal/middleware"
	"dropaccess/internal/pubsub"
	"dropaccess/internal/replay"
	"dropaccess/internal/repository"
	"dropaccess/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Dependencies are the wired services the HTTP surface needs.
type Dependencies struct {
	Billing  service.BillingService
	Webhooks service.WebhookService
	DB       handler.Pinger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
	// Auth wraps user-facing routes. Defaults to JWT auth with cfg.JWTSecret.
	Auth func(http.Handler) http.Handler
}

// New wires the database, billing provider, sinks and services from cfg and
// returns the root handler. cleanup releases everything New opened.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("Cleanup failed")
			}
		}
	}

	// 1. Database
	db, err := database.Open(cfg.DBConnectionString, cfg.IsDevelopment())
	if err != nil {
		return nil, func() {}, err
	}
	closers = append(closers, db.Close)
	logger.Info().Msg("Database connection successful")

	if cfg.MigrateOnStart {
		if err := database.MigrateUp(db, logger); err != nil {
			cleanup()
			return nil, func() {}, err
		}
	}

	// 2. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// 3. Billing provider
	plans := service.NewPlanCatalog(cfg.Plans())
	provider := billing.NewStripeProvider(billing.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Prices:        plans.Prices(),
		Timeout:       cfg.BillingRequestTimeout(),
		Observe:       m.ObserveProviderCall,
	}, logger)

	// 4. Analytics sink
	events, err := newAnalytics(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	closers = append(closers, events.Close)

	// 5. Replay guard
	var guard replay.Guard = replay.NopGuard{}
	if cfg.RedisURL != "" {
		client, err := replay.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, webhook replay guard disabled")
		} else {
			closers = append(closers, client.Close)
			guard = replay.NewRedisGuard(client, cfg.WebhookReplayTTL())
			logger.Info().Msg("Webhook replay guard enabled")
		}
	}

	// 6. Repositories & services
	userRepo := repository.NewUserRepo(db)
	subRepo := repository.NewSubscriptionRepo(db)
	paymentRepo := repository.NewPaymentRepo(db)
	failureRepo := repository.NewWebhookFailureRepository(db)

	billingSvc := service.NewBillingService(userRepo, subRepo, paymentRepo, provider, plans, events, m, cfg.BillingPortalReturnURL, logger)
	webhookSvc := service.NewWebhookService(userRepo, subRepo, paymentRepo, failureRepo, provider, guard, events, m, logger)

	h := NewHandler(cfg, Dependencies{
		Billing:  billingSvc,
		Webhooks: webhookSvc,
		DB:       db,
		Metrics:  m,
		Registry: registry,
	}, logger)
	return h, cleanup, nil
}

// NewHandler builds the HTTP routes over already wired services.
func NewHandler(cfg *config.Config, deps Dependencies, logger zerolog.Logger) http.Handler {
	authMiddleware := deps.Auth
	if authMiddleware == nil {
		authMiddleware = middleware.AuthMiddleware(cfg.JWTSecret, logger)
	}
	validate := validator.New(validator.WithRequiredStructEnabled())

	subscriptionHandler := handler.NewSubscriptionHandler(deps.Billing, validate, logger)
	webhookHandler := handler.NewWebhookHandler(deps.Webhooks, cfg.WebhookMaxBodyBytes, logger)

	mux := http.NewServeMux()

	// Create a subrouter for API v1 with the /v1 prefix
	apiV1Mux := http.NewServeMux()
	subscriptionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	webhookHandler.RegisterRoutes(apiV1Mux)
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	if deps.DB != nil {
		mux.HandleFunc("/healthz", handler.NewHealthHandler(deps.DB, logger).Healthz)
	}
	if deps.Registry != nil {
		mux.Handle("/metrics", metrics.Handler(deps.Registry))
	}

	// Redirect /api/* to /v1/* for backward compatibility
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	return metrics.HTTPMiddleware(deps.Metrics)(middleware.LoggerMiddleware(logger)(c.Handler(mux)))
}

func newAnalytics(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (analytics.Client, error) {
	switch cfg.AnalyticsSink {
	case config.AnalyticsSinkPostHog:
		client, err := analytics.NewPostHogClient(cfg.PostHogAPIKey, cfg.PostHogHost)
		if err != nil {
			return nil, fmt.Errorf("create posthog client: %w", err)
		}
		logger.Info().Msg("Analytics sink: posthog")
		return client, nil
	case config.AnalyticsSinkPubSub:
		publisher, err := pubsub.NewPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub publisher: %w", err)
		}
		client, err := analytics.NewPubSubClient(publisher, cfg.PubSubBillingTopic)
		if err != nil {
			return nil, errors.Join(err, publisher.Close())
		}
		logger.Info().Str("topic", cfg.PubSubBillingTopic).Msg("Analytics sink: pubsub")
		return client, nil
	default:
		return analytics.NoopClient{}, nil
	}
}

var _ handler.Pinger = (*sql.DB)(nil)
