package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/secure-session-store/internal/health"
	"github.com/sandeepkv93/secure-session-store/internal/http/handler"
	"github.com/sandeepkv93/secure-session-store/internal/http/middleware"
	"github.com/sandeepkv93/secure-session-store/internal/http/response"
	"github.com/sandeepkv93/secure-session-store/internal/security"
)

type Dependencies struct {
	SessionHandler     *handler.SessionHandler
	JWTManager         *security.JWTManager
	AccessRecorder     middleware.AccessRecorder
	CreateRateLimitRPM int
	CreateRateLimiter  CreateRateLimiterFunc
	Readiness          *health.ProbeRunner
	EnableOTelHTTP     bool
}

type CreateRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.BodyLimit(1 << 20))

	createLimiter := dep.CreateRateLimiter
	if createLimiter == nil {
		createLimiter = middleware.NewRateLimiter(dep.CreateRateLimitRPM, time.Minute).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, response.CodeDependencyUnready, "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.IdentityAccess(dep.JWTManager, dep.AccessRecorder))

		r.Route("/sessions", func(r chi.Router) {
			r.With(createLimiter).Post("/", dep.SessionHandler.Create)
			r.Get("/{id}", dep.SessionHandler.Get)
			r.Put("/{id}", dep.SessionHandler.Update)
			r.Delete("/{id}", dep.SessionHandler.Delete)
			r.Post("/{id}/login", dep.SessionHandler.Login)
			r.Post("/{id}/logout", dep.SessionHandler.Logout)
		})
		r.With(middleware.RequireIdentity).Get("/index/{id}", dep.SessionHandler.LookupIndex)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
