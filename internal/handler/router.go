package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-analytics/internal/middleware"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

// RouterConfig carries what the router needs besides the handlers.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	AllowedOrigins    []string
}

// NewRouter wires the API routes.
func NewRouter(cfg RouterConfig, svc ChatService, health *HealthHandler, log *logger.Logger) http.Handler {
	messageHandler := NewMessageHandler(svc, log)
	streamHandler := NewStreamHandler(svc, log)
	sessionHandler := NewSessionHandler(svc, log)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}
		r.Use(middleware.LimitBody)

		r.Post("/message", messageHandler.Send)
		r.Post("/message/stream", streamHandler.Stream)
		r.Get("/session/{id}", sessionHandler.Get)
	})

	return r
}
