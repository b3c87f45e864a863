// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/agent"
	"github.com/capitalize-ai/chat-analytics/internal/middleware"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/internal/service"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

// ChatService is what the chat handlers need from the service layer.
type ChatService interface {
	Ask(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	AskStream(ctx context.Context, req model.ChatRequest, emit agent.Emitter) (agent.Result, error)
	Session(ctx context.Context, id string, afterID int64) (*model.SessionResponse, error)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps service errors to responses; anything unexpected is logged and hidden.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyQuestion):
		writeError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	default:
		log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeChatRequest reads and checks the body shared by both chat endpoints.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (model.ChatRequest, bool) {
	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if err := middleware.ValidateQuestion(req.Message); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	return req, true
}
