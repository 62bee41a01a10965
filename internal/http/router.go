package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"socialauth/internal/auth"
	"socialauth/internal/config"
	"socialauth/internal/platform/metrics"
)

// Dependencies groups the services the router exposes.
type Dependencies struct {
	Engine    *auth.Engine
	Gateway   *auth.Gateway
	Providers *auth.Registry
	Allowlist auth.Allowlist
	Metrics   *metrics.Metrics
}

// NewRouter wires application routes and middleware using chi.
func NewRouter(cfg config.Config, deps Dependencies, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument)
	}
	r.Use(newSlogMiddleware(logger))
	r.Use(newSecurityHeadersMiddleware(cfg.Environment))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"environment": cfg.Environment,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	oauthHandler := NewOAuthHandler(deps.Providers, deps.Engine, deps.Gateway, deps.Allowlist, cfg.FrontendURL, cfg.Environment, logger)
	authHandler := NewAuthHandler(deps.Gateway, deps.Providers, cfg.Environment, logger)
	userHandler := NewUserHandler(deps.Gateway, logger)

	requireAuth := newBearerAuthMiddleware(deps.Gateway, logger)
	optionalAuth := newOptionalAuthMiddleware(deps.Gateway)

	if len(deps.Providers.Kinds()) == 0 {
		logger.Warn("no OAuth providers configured; only password sign-in is available")
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(optionalAuth).Get("/providers", authHandler.Providers)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/local", authHandler.Local)

			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me", authHandler.Me)
				r.Post("/logout", authHandler.Logout)
				r.Post("/link/{provider}", authHandler.Link)
				r.Delete("/unlink/{provider}", authHandler.Unlink)
			})

			r.Get("/{provider}", oauthHandler.Initiate)
			r.Get("/{provider}/callback", oauthHandler.Callback)
		})

		r.Route("/user", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/profile", userHandler.GetProfile)
			r.Put("/profile", userHandler.UpdateProfile)
			r.Get("/providers", userHandler.Providers)
			r.Put("/password", userHandler.SetPassword)
			r.Delete("/account", userHandler.DeleteAccount)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeCodedError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})

	return r
}
