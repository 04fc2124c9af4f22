package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/example/authgate/internal/health"
	"github.com/example/authgate/internal/http/handler"
	"github.com/example/authgate/internal/http/middleware"
	"github.com/example/authgate/internal/http/response"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	UserHandler      *handler.UserHandler
	AccessVerifier   middleware.AccessVerifier
	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	// AuthRateLimiter overrides the default local limiter on auth routes,
	// e.g. with the Redis-backed one in multi-instance deployments.
	AuthRateLimiter func(http.Handler) http.Handler
	Readiness       *health.ProbeRunner
	EnableOTelHTTP  bool
	OAuthProviders  []string
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
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
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	auth := middleware.AuthMiddleware(dep.AccessVerifier)
	optionalAuth := middleware.OptionalAuthMiddleware(dep.AccessVerifier)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/local/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/local/login", dep.AuthHandler.LocalLogin)
			for _, provider := range dep.OAuthProviders {
				r.With(authLimiter).Get("/"+provider+"/login", dep.AuthHandler.OAuthLogin(provider))
				r.With(authLimiter).Get("/"+provider+"/callback", dep.AuthHandler.OAuthCallback(provider))
			}
			r.Group(func(r chi.Router) {
				r.Use(middleware.CSRFMiddleware)
				r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
				// Logout is lenient on the access token: revoking the
				// refresh token must work even when the access side is
				// already expired or blacklisted.
				r.With(optionalAuth).Post("/logout", dep.AuthHandler.Logout)
				r.With(auth).Post("/logout-all", dep.AuthHandler.LogoutAll)
			})
		})

		r.With(auth).Get("/me", dep.UserHandler.Me)
		r.With(auth).Get("/me/sessions", dep.UserHandler.Sessions)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
