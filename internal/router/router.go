package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"chat-relay/internal/handlers"
	"chat-relay/internal/middleware"
)

type Options struct {
	AllowedOrigins []string
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP, which
	// the rate limiter keys on. Without it those headers are ignored.
	TrustProxy bool
}

func New(
	chatHandler *handlers.ChatHandler,
	chatLimiter middleware.Limiter,
	opts Options,
	log zerolog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if opts.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(opts.AllowedOrigins))
	r.Use(chimiddleware.Timeout(90 * time.Second))

	// Health check
	r.Get("/health", handlers.Health)

	routes := func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(chatLimiter))
			r.Post("/chat", chatHandler.Chat)
			r.Post("/start-session", chatHandler.StartSession)
		})
		r.Get("/history/{sessionID}", chatHandler.History)
	}

	// The static frontend calls the bare paths; /api/v1 is the versioned mount.
	r.Group(routes)
	r.Route("/api/v1", routes)

	return r
}
