package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

// StreamHandler handles the server-sent events chat endpoint.
type StreamHandler struct {
	service ChatService
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc ChatService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service: svc,
		logger:  log,
	}
}

// Stream handles POST /api/v1/chat/message/stream
// Input errors are plain JSON responses; once the first event is written the response is
// an event stream that ends with a done or error event.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req, ok := decodeChatRequest(w, r)
	if !ok {
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	// A stream may run past the server write timeout; model calls carry their own deadlines.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to clear write deadline", zap.Error(err))
	}

	sse := &sseWriter{w: w, flusher: flusher, done: r.Context().Done()}
	result, err := h.service.AskStream(r.Context(), req, sse)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	h.logger.Debug("stream finished",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("events", sse.sent),
	)
}

// sseWriter writes stream events as server-sent events, one flush per event.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	done    <-chan struct{}
	started bool
	sent    int
}

func (s *sseWriter) Emit(event model.StreamEvent) error {
	select {
	case <-s.done:
		return errors.New("client disconnected")
	default:
	}

	if !s.started {
		s.started = true
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
	}

	return s.write(string(event.Type), event)
}

func (s *sseWriter) write(name string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	s.sent++
	return nil
}
