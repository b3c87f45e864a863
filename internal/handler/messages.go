package handler

import (
	"net/http"

	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

// MessageHandler handles the synchronous chat endpoint.
type MessageHandler struct {
	service ChatService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc ChatService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// Send handles POST /api/v1/chat/message
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Ask(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
