package v1

import (
	"github.com/evyataryagoni/iptracker/internal/handler"
	"github.com/evyataryagoni/iptracker/internal/limiter"
	"github.com/evyataryagoni/iptracker/internal/metrics"
	custommiddleware "github.com/evyataryagoni/iptracker/internal/middleware"
	"github.com/go-chi/chi/v5"
)

// SetupRoutes configures all v1 API routes
// This function is called by the main router to setup /v1/* endpoints
//
// Rate limiting applies here only: these are the routes that can reach
// the geolocation provider or the datastore on a caller's behalf.
func SetupRoutes(ingestHandler *handler.IngestHandler, rateLimiter limiter.Limiter, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()

	r.Use(custommiddleware.RateLimitMiddleware(rateLimiter, m))

	// POST /v1/ingest  {"ip": "..."} or form ip_address
	// Only POST writes, so link prefetchers and crawlers cannot create records.
	r.Post("/ingest", ingestHandler.Ingest)

	// POST /v1/analyze  same body as /ingest
	// GET  /v1/analyze?ip=<ip>
	r.Post("/analyze", ingestHandler.Analyze)
	r.Get("/analyze", ingestHandler.Analyze)

	// GET /v1/records/{ip}
	// GET /v1/records/{ip}/exists
	r.Get("/records/{ip}", ingestHandler.GetRecord)
	r.Get("/records/{ip}/exists", ingestHandler.RecordExists)

	return r
}
