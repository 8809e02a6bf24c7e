package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	corslib "github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/tribeapp/tribe-api/internal/api/handler"
	"github.com/tribeapp/tribe-api/internal/auth"
	"github.com/tribeapp/tribe-api/internal/cache"
	"github.com/tribeapp/tribe-api/internal/config"
	"github.com/tribeapp/tribe-api/internal/dispatch"
)

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(pool *pgxpool.Pool, appCache *cache.Cache, engine *dispatch.Engine, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	// --- Handler dependencies ---
	h := handler.New(pool, appCache, cfg, engine)
	jwtAuth := auth.New(cfg.JWTSecret)

	// --- Routes ---

	// Root
	r.Get("/", h.Root)

	// Health checks
	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/db", h.HealthCheckDB)
		r.Get("/cache", h.HealthCheckCache)
	})

	// Swagger UI
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
	))

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Dispatch trigger — shared-secret bearer credential, rejected
		// before any rule evaluation.
		r.Route("/cron", func(r chi.Router) {
			r.Use(CronAuthMiddleware(cfg.CronSecret))
			r.Post("/dispatch", h.Dispatch)
			r.Get("/rules", h.Rules)
		})

		// User-facing routes — JWT
		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Post("/devices", h.RegisterDevice)
			r.Delete("/devices/{token}", h.RemoveDevice)
			r.Put("/me/preferences", h.UpdatePreferences)

			r.Post("/sessions", h.CreateSession)
			r.Post("/sessions/{id}/join", h.JoinSession)
			r.Post("/sessions/{id}/confirm/{userID}", h.ConfirmParticipant)
		})

		// Public discovery
		r.Get("/sessions/nearby", h.NearbySessions)
	})

	return r
}
