package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/casebridge/internal/api/middleware"
	"github.com/kiranshivaraju/casebridge/internal/api/response"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit    *mw.RateLimit
	MaxBodyBytes int64

	HealthHandler     http.HandlerFunc
	SubmitHandler     http.HandlerFunc
	StatusHandler     http.HandlerFunc
	StreamHandler     http.HandlerFunc
	MediaTypesHandler http.HandlerFunc

	// MetricsHandler defaults to the Prometheus default registry.
	MetricsHandler http.Handler
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	metrics := deps.MetricsHandler
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metrics)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	r.Get("/api/v1/media-types", orNotImplemented(deps.MediaTypesHandler))

	r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.StatusHandler))
	r.Get("/api/v1/jobs/{jobID}/stream", orNotImplemented(deps.StreamHandler))

	// Submissions are rate limited and size bounded; polling is not.
	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		if deps.MaxBodyBytes > 0 {
			r.Use(mw.BodyLimit(deps.MaxBodyBytes))
		}

		r.Post("/api/v1/jobs", orNotImplemented(deps.SubmitHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
