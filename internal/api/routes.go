package api

import (
	"aurorarest/internal/executor"
	"aurorarest/internal/health"
	"aurorarest/internal/observability"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Executor      executor.Executor
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	URLPrefix     string
	APIKey        string
	RateLimit     float64 // requests per second per client; 0 disables
	RateBurst     int
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	h := NewHandler(cfg.Executor, cfg.HealthChecker)

	r := chi.NewRouter()

	// Outermost first.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}
	r.Use(CORSMiddleware())

	r.NotFound(h.NotFound)

	// Probes - no auth required
	r.Get("/livez", h.Livez)
	r.Get("/readyz", h.Readyz)

	jobs := func(r chi.Router) {
		r.Get("/version", h.Version)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.APIKey))
			r.Use(RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))

			r.Get("/jobs/{cluster}/{role}", h.ListJobs)

			const job = "/jobs/{cluster}/{role}/{environment}/{name}"
			r.Put(job, h.CreateJob)
			r.Delete(job, h.DeleteJob)
			r.Put(job+"/update", h.UpdateJob)
			r.Delete(job+"/update", h.CancelUpdate)
			r.Put(job+"/restart", h.RestartJob)
		})
	}

	if prefix := strings.Trim(cfg.URLPrefix, "/"); prefix != "" {
		r.Route("/"+prefix, jobs)
	} else {
		r.Group(jobs)
	}

	return r
}
