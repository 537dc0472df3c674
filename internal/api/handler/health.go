package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/casebridge/internal/api/response"
)

// Pinger is a dependency whose connectivity the health check reports.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// checks maps a service name ("store", "cache") to its dependency.
func NewHealthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(checks))
		degraded := false
		for name, p := range checks {
			services[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				services[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
