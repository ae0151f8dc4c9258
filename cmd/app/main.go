package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dropaccess/internal/api/v1/router"
	"dropaccess/internal/config"
	"dropaccess/internal/logger"
	"dropaccess/internal/service"

	"github.com/joho/godotenv"
)

// @title DropAccess Billing API
// @version 1.0
// @description Subscription and payment reconciliation for DropAccess
// @host localhost:8080
// @BasePath /v1
// @Schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// 1. Load configuration
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log := logger.New("", "info")
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log := logger.New(cfg.Environment, cfg.LogLevel)
	if envErr != nil {
		log.Debug().Msg("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Resolve secrets
	if cfg.SecretSource == config.SecretSourceGCP {
		sm, err := service.NewSecretManagerService(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Secret Manager client")
		}
		if err := service.LoadStripeSecrets(ctx, cfg, sm); err != nil {
			log.Fatal().Err(err).Msg("Failed to load Stripe secrets")
		}
		if err := sm.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Secret Manager client")
		}
		log.Info().Msg("Stripe secrets loaded from Secret Manager")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// 3. Build router
	r, cleanup, err := router.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build router")
	}
	defer cleanup()

	// 4. Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2*cfg.BillingRequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// 5. Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 6. Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, exiting...")
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return
	}
	log.Info().Msg("Server shut down gracefully")
}
