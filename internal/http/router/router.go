package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nimbuschat/gatekeeper/internal/http/handler"
	"github.com/nimbuschat/gatekeeper/internal/http/middleware"
	"github.com/nimbuschat/gatekeeper/internal/http/response"
	"github.com/nimbuschat/gatekeeper/internal/service"
)

// ReadinessFunc reports whether downstream dependencies answer, with one
// status string per check.
type ReadinessFunc func(ctx context.Context) (bool, map[string]string)

type Dependencies struct {
	UsageHandler     *handler.UsageHandler
	PlanHandler      *handler.PlanHandler
	AdminHandler     *handler.AdminHandler
	Verifier         service.IdentityVerifier
	AdminSessions    service.AdminSessionManager
	LoginRateLimiter func(http.Handler) http.Handler
	Readiness        ReadinessFunc
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": map[string]string{}})
			return
		}
		ready, checks := dep.Readiness(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": checks})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/plans", dep.PlanHandler.List)

		r.Group(func(r chi.Router) {
			r.Use(middleware.IdentityAuth(dep.Verifier))
			r.Post("/usage/increment", dep.UsageHandler.Increment)
			r.Get("/usage/remaining", dep.UsageHandler.Remaining)
			r.Get("/usage/today", dep.UsageHandler.Today)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		if dep.LoginRateLimiter != nil {
			r.With(dep.LoginRateLimiter).Post("/login", dep.AdminHandler.Login)
		} else {
			r.Post("/login", dep.AdminHandler.Login)
		}
		// Logout only revokes whatever token the caller presents, so it does
		// not sit behind AdminAuth; logging out twice must still succeed.
		r.Post("/logout", dep.AdminHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AdminAuth(dep.AdminSessions))
			r.Get("/sessions", dep.AdminHandler.ListSessions)
			r.Post("/sessions/cleanup", dep.AdminHandler.Cleanup)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
