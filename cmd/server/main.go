package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evyataryagoni/iptracker/internal/config"
	"github.com/evyataryagoni/iptracker/internal/geo"
	"github.com/evyataryagoni/iptracker/internal/handler"
	"github.com/evyataryagoni/iptracker/internal/limiter"
	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/metrics"
	"github.com/evyataryagoni/iptracker/internal/router"
	"github.com/evyataryagoni/iptracker/internal/service"
	"github.com/evyataryagoni/iptracker/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownTimeout bounds how long in-flight requests get to finish
const shutdownTimeout = 15 * time.Second

// @title           IP Tracker API
// @version         1.0
// @description     Ingests IP addresses, enriches them with geolocation and VPN detection, and stores each address once

// @license.name  MIT
// @license.url   http://opensource.org/licenses/MIT

// @host      localhost:3000
// @BasePath  /
func main() {
	// Load configuration
	appConfig := config.Load()

	// Initialize components
	appLogger := setupLogger(appConfig)
	if err := appConfig.Validate(); err != nil {
		appLogger.Fatal().Err(err).Msg("Invalid configuration")
	}

	metricsCollector := setupMetrics(appLogger)

	dataStore := setupDataStore(appConfig, metricsCollector, appLogger)

	rateLimiter := setupRateLimiter(appConfig, appLogger)
	defer rateLimiter.Close()

	geoClient := geo.NewClient(geo.Config{
		URL:         appConfig.GeoAPIURL,
		Token:       appConfig.GeoAPIToken,
		Timeout:     appConfig.GeoAPITimeout,
		PublicIPURL: appConfig.PublicIPURL,
	}, appLogger)

	// Build application layers
	ingestService := service.NewIngestService(dataStore, geoClient, metricsCollector, appLogger)
	if appConfig.ResolveLoopback {
		ingestService.WithPublicIPResolver(geoClient)
	}
	defer ingestService.Close()

	appRouter := router.SetupRouter(router.Deps{
		IngestHandler: handler.NewIngestHandler(ingestService),
		Health:        ingestService,
		RateLimiter:   rateLimiter,
		Metrics:       metricsCollector,
		Logger:        appLogger,
	})

	// Start server
	startServer(appConfig, appRouter, appLogger)
}

// setupLogger initializes the structured logger
func setupLogger(appConfig *config.Config) *logger.Logger {
	appLogger := logger.New(logger.Config{
		Level:      appConfig.LogLevel,
		Pretty:     appConfig.LogPretty,
		OutputFile: appConfig.LogFile,
	})

	appLogger.Info().Msg("Starting IP Tracker Server...")
	appLogger.Info().
		Str("port", appConfig.Port).
		Str("datastore_type", appConfig.DatastoreType).
		Str("geo_api_url", appConfig.GeoAPIURL).
		Dur("geo_api_timeout", appConfig.GeoAPITimeout).
		Bool("resolve_loopback", appConfig.ResolveLoopback).
		Str("rate_limiter_type", appConfig.RateLimitType).
		Int("rate_limit", appConfig.RateLimit).
		Int("rate_limit_window", appConfig.RateLimitWindow).
		Msg("Configuration loaded")

	return appLogger
}

// setupMetrics initializes the Prometheus metrics collector
func setupMetrics(log *logger.Logger) *metrics.Metrics {
	metricsCollector := metrics.New(prometheus.DefaultRegisterer)
	log.Info().Msg("Metrics initialized")
	return metricsCollector
}

// setupDataStore initializes the data store based on configuration
// Supports postgres, mysql and sqlite through GORM, and Redis
func setupDataStore(appConfig *config.Config, m *metrics.Metrics, log *logger.Logger) store.Store {
	dataStore, name, err := openStore(appConfig)
	if err != nil {
		log.Fatal().Err(err).Str("type", appConfig.DatastoreType).Msg("Failed to initialize datastore")
	}

	log.Info().Str("type", name).Msg("Datastore initialized")
	return store.Instrument(dataStore, m, name)
}

// openStore returns the store and its datastore metrics label
func openStore(appConfig *config.Config) (store.Store, string, error) {
	if appConfig.DatastoreType == config.DatastoreRedis {
		redisStore, err := store.NewRedisStore(appConfig.RedisAddr, appConfig.RedisPassword, appConfig.RedisDB)
		if err != nil {
			return nil, "", err
		}
		return redisStore, config.DatastoreRedis, nil
	}

	sqlStore, err := store.NewSQLStore(appConfig.DatastoreType, appConfig.DSN())
	if err != nil {
		return nil, "", err
	}
	return sqlStore, sqlStore.Driver(), nil
}

// setupRateLimiter initializes the rate limiter
// Supports in-memory and Redis-based rate limiting
func setupRateLimiter(appConfig *config.Config, log *logger.Logger) limiter.Limiter {
	rateLimiter, err := limiter.NewLimiter(limiter.Config{
		Type:          appConfig.RateLimitType,
		Limit:         appConfig.RateLimit,
		Window:        time.Duration(appConfig.RateLimitWindow) * time.Second,
		RedisAddr:     appConfig.RedisAddr,
		RedisPassword: appConfig.RedisPassword,
		RedisDB:       appConfig.RedisDB,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize rate limiter")
	}

	log.Info().
		Str("type", appConfig.RateLimitType).
		Int("limit", appConfig.RateLimit).
		Int("window_seconds", appConfig.RateLimitWindow).
		Float64("requests_per_second", appConfig.RequestsPerSecond()).
		Msg("Rate limiter initialized")

	return rateLimiter
}

// startServer runs the HTTP server until SIGINT or SIGTERM, then drains
// in-flight requests before returning
func startServer(appConfig *config.Config, appRouter http.Handler, log *logger.Logger) {
	srv := &http.Server{
		Addr:              ":" + appConfig.Port,
		Handler:           appRouter,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Long enough for one provider call plus the store write
		WriteTimeout: appConfig.GeoAPITimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", appConfig.Port).
			Str("api_endpoint", "http://localhost:"+appConfig.Port+"/v1/ingest").
			Str("health_check", "http://localhost:"+appConfig.Port+"/health").
			Str("metrics", "http://localhost:"+appConfig.Port+"/metrics").
			Str("swagger", "http://localhost:"+appConfig.Port+"/swagger/index.html").
			Msg("Server is running")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server failed")
		}
		return
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
		return
	}
	log.Info().Msg("Server stopped")
}
