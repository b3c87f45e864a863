package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/chat-analytics/internal/nats"
)

// Pinger checks a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context) error

// Ping calls f(ctx).
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db         Pinger
	replica    Pinger
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. replica and natsClient may be nil.
func NewHealthHandler(db, replica Pinger, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		db:         db,
		replica:    replica,
		natsClient: natsClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		notReady(w, "database unavailable")
		return
	}
	if h.replica != nil {
		if err := h.replica.Ping(ctx); err != nil {
			notReady(w, "replica unavailable")
			return
		}
	}
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		notReady(w, "NATS not connected")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

func notReady(w http.ResponseWriter, reason string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not ready",
		"reason": reason,
	})
}
