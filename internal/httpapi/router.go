package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"shopauth/internal/admin"
	"shopauth/internal/api"
	"shopauth/internal/auth"
	"shopauth/internal/metrics"
	"shopauth/internal/shop"
	"shopauth/internal/shopifysession"
	"shopauth/internal/webhook"
	"shopauth/pkg/config"
	"shopauth/pkg/shopify"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Dependencies struct {
	Cfg    config.Config
	Logger *slog.Logger

	Redis    *redis.Client
	Health   HealthChecker
	Shops    *shop.Service
	Sessions shopifysession.Store
	Identity api.Authenticator

	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if deps.Health != nil {
			if err := deps.Health.Health(ctx); err != nil {
				deps.Logger.ErrorContext(ctx, "health check failed", "error", err)
				api.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "redis unreachable")
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	authHandlers := auth.Handlers{
		Cfg: deps.Cfg,
		OAuth: shopify.OAuth{
			APIKey:      deps.Cfg.Shopify.APIKey,
			APISecret:   deps.Cfg.Shopify.APISecret,
			Scopes:      deps.Cfg.Shopify.Scopes,
			RedirectURL: deps.Cfg.Shopify.RedirectURL,
			Online:      deps.Cfg.Shopify.OnlineAccess,
		},
		Sessions: deps.Sessions,
		Shops:    deps.Shops,
		Logger:   deps.Logger,
	}
	adminHandler := admin.Handler{
		Tokens:     deps.Shops,
		APIVersion: deps.Cfg.Shopify.APIVersion,
		Logger:     deps.Logger,
	}
	webhookHandler := webhook.Handler{
		Secret: deps.Cfg.Shopify.WebhookSecret,
		Shops:  deps.Shops,
		Logger: deps.Logger,
	}
	if deps.Redis != nil {
		webhookHandler.Dedupe = webhook.NewRedisDeduper(deps.Redis, webhook.DefaultDedupeWindow)
	}
	if deps.Metrics != nil {
		webhookHandler.Metrics = deps.Metrics
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(api.CORSMiddleware(api.CORSOptions{
			AllowedOrigins:   deps.Cfg.AllowedOrigins,
			AllowCredentials: true,
		}))

		// Shopify calls these directly; they carry an HMAC instead of a user session.
		r.Post("/shopify/webhooks/{topic}", webhookHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(api.RequireSession(deps.Identity, deps.Cfg.Identity.CookieName, deps.Logger))

			r.Get("/shopify/auth/login", authHandlers.Login)
			r.Get("/shopify/auth/callback", authHandlers.Callback)
			r.Get("/shopify/auth/verify", authHandlers.Verify)
			r.Post("/shopify/admin", adminHandler.ServeHTTP)
			r.Delete("/shopify/session", authHandlers.Detach)
		})
	})

	return r
}
