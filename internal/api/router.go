package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yogi2103/zulip/internal/api/middleware"
	"github.com/yogi2103/zulip/internal/handlers"
)

// Options tunes the router.
type Options struct {
	// Limiter enforces rate limits; requests are not limited when nil.
	Limiter *middleware.RateLimiter
	// TrustProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable it only behind a proxy that sets those headers.
	TrustProxy bool
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, auth *middleware.AuthMiddleware, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(64 * 1024)) // submessage content can be sizeable
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderUserID},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Post("/users", h.Register)
	r.Get("/users/{id}", h.GetUser)
	r.Get("/streams", h.ListStreams)

	// Authenticated routes (require API key)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)
		if opts.Limiter != nil {
			r.Use(opts.Limiter.UserMiddleware)
		}

		r.Post("/streams", h.CreateStream)
		r.Post("/streams/{id}/subscribe", h.SubscribeStream)
		r.Post("/messages", h.SendMessage)
		r.Get("/messages", h.GetMessages)
		r.Get("/messages/{id}", h.GetMessage)
		r.Post("/submessage", h.CreateSubmessage)
		r.Get("/events", h.GetEvents)
	})

	return r
}
