package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/capitalize-ai/chat-analytics/internal/middleware"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

// SessionHandler serves conversation history.
type SessionHandler struct {
	service ChatService
	logger  *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc ChatService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  log,
	}
}

// Get handles GET /api/v1/chat/session/{id}
// Supports ?after_id=N to page forward from a known turn.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var afterID int64
	if raw := r.URL.Query().Get("after_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid after_id")
			return
		}
		afterID = parsed
	}

	resp, err := h.service.Session(r.Context(), sessionID, afterID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
