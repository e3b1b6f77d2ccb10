package router

import (
	"context"
	"net/http"
	"time"

	_ "github.com/evyataryagoni/iptracker/docs" // Swagger docs
	"github.com/evyataryagoni/iptracker/internal/handler"
	"github.com/evyataryagoni/iptracker/internal/limiter"
	"github.com/evyataryagoni/iptracker/internal/logger"
	"github.com/evyataryagoni/iptracker/internal/metrics"
	custommiddleware "github.com/evyataryagoni/iptracker/internal/middleware"
	v1 "github.com/evyataryagoni/iptracker/internal/router/v1"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

// healthTimeout bounds the datastore ping behind /health
const healthTimeout = 2 * time.Second

// HealthChecker reports whether the service's dependencies are reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Deps groups everything the router needs
type Deps struct {
	IngestHandler *handler.IngestHandler
	Health        HealthChecker
	RateLimiter   limiter.Limiter
	Metrics       *metrics.Metrics
	Gatherer      prometheus.Gatherer // nil serves the default registry
	Logger        *logger.Logger
}

// SetupRouter creates and configures the Chi router with all middleware and routes
// This separates routing logic from the main application setup
func SetupRouter(deps Deps) chi.Router {
	log := deps.Logger
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	// Apply global middleware - these run on every request
	// Order matters! RequestID should be first, then logging
	r.Use(middleware.RequestID)                             // Add unique request ID to each request
	r.Use(middleware.RealIP)                                // Get real client IP (handles proxies/load balancers)
	r.Use(custommiddleware.LoggingMiddleware(log))          // Structured logging
	r.Use(middleware.Recoverer)                             // Recover from panics and return 500
	r.Use(custommiddleware.MetricsMiddleware(deps.Metrics)) // Collect Prometheus metrics

	// Mount v1 API routes under /v1 prefix
	r.Mount("/v1", v1.SetupRoutes(deps.IngestHandler, deps.RateLimiter, deps.Metrics))

	// Root-level routes (not versioned)
	r.Get("/health", healthCheckHandler(deps.Health, log))

	// Prometheus metrics endpoint
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Swagger UI endpoint - API documentation
	// Access at: http://localhost:3000/swagger/index.html
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}

// healthCheckHandler returns 200 OK while the datastore answers a ping
// and 503 otherwise, so load balancers stop routing to an instance that
// cannot persist anything.
func healthCheckHandler(health HealthChecker, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			if err := health.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Health check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte("UNAVAILABLE"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}
