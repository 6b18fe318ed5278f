// Package httpapi assembles the HTTP surface: middleware chain, registry
// routes, admin routes, health, and metrics.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/internal/identity/handler"
	"custodia/pkg/platform/httputil"
	"custodia/pkg/platform/middleware/admin"
	"custodia/pkg/platform/middleware/auth"
	"custodia/pkg/platform/middleware/requestid"
	"custodia/pkg/platform/middleware/requesttime"
)

// HealthCheck pings one dependency. Checks run with a short deadline so a
// stuck dependency cannot hang the probe.
type HealthCheck func(ctx context.Context) error

// Dependencies carries everything the router wires together.
type Dependencies struct {
	Registry        *handler.Handler
	CallerValidator auth.CallerValidator
	// AdminTokenHash gates /admin. Empty disables the admin surface.
	AdminTokenHash string
	HealthChecks   map[string]HealthCheck
	Logger         *slog.Logger
}

// NewRouter wires all endpoints. Reads are open; mutations require an
// authenticated caller; admin endpoints require the operator token.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)

	r.Get("/healthz", healthHandler(deps.HealthChecks))
	r.Handle("/metrics", promhttp.Handler())

	h := deps.Registry
	r.Route("/registry/identities", func(r chi.Router) {
		r.Get("/{id}", h.Get)
		r.Get("/{id}/updates", h.GetUpdates)
		r.Get("/by-hash/{hash}", h.GetByHash)
		r.Get("/registered/{hash}", h.IsRegistered)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireCaller(deps.CallerValidator, deps.Logger))
			r.Post("/", h.Register)
			r.Patch("/{id}", h.Update)
			r.Post("/{id}/recovery", h.InitiateRecovery)
			r.Post("/{id}/recovery/approvals", h.ApproveRecovery)
			r.Post("/{id}/recovery/completion", h.CompleteRecovery)
		})
	})

	if deps.AdminTokenHash != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(admin.RequireAdminToken(deps.AdminTokenHash, deps.Logger))
			r.Post("/authority", h.SetAuthority)
		})
	}

	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				report[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status":       statusWord(status),
			"dependencies": report,
		})
	}
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ok"
	}
	return "degraded"
}
