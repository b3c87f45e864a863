package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/capitalize-ai/chat-analytics/internal/agent"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/internal/service"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

const sessionID = "0195a0c4-7d2e-7c3a-8f00-000000000001"

type fakeService struct {
	askErr    error
	events    []model.StreamEvent
	pause     time.Duration
	streamErr error
	session   *model.SessionResponse
	afterID   int64
	requests  []model.ChatRequest
}

func (f *fakeService) Ask(_ context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	f.requests = append(f.requests, req)
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &model.ChatResponse{
		SessionID: sessionID,
		Response:  "₹18,234.50",
		Metadata:  model.ChatMetadata{RowCount: 1, Success: true},
	}, nil
}

func (f *fakeService) AskStream(_ context.Context, req model.ChatRequest, emit agent.Emitter) (agent.Result, error) {
	f.requests = append(f.requests, req)
	if f.streamErr != nil {
		return agent.Result{}, f.streamErr
	}
	for i, e := range f.events {
		if i > 0 {
			time.Sleep(f.pause)
		}
		if err := emit.Emit(e); err != nil {
			return agent.Result{Outcome: agent.OutcomeDisconnected}, nil
		}
	}
	return agent.Result{Outcome: agent.OutcomeAnswered}, nil
}

func (f *fakeService) Session(_ context.Context, id string, afterID int64) (*model.SessionResponse, error) {
	f.afterID = afterID
	if f.session == nil || f.session.SessionID != id {
		return nil, service.ErrConversationNotFound
	}
	return f.session, nil
}

type pingResult struct{ err error }

func (p pingResult) Ping(context.Context) error { return p.err }

func newTestRouter(svc *fakeService) http.Handler {
	health := NewHealthHandler(pingResult{}, nil, nil)
	return NewRouter(RouterConfig{}, svc, health, logger.NewNop())
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("body %q is not JSON: %v", rec.Body.String(), err)
	}
	return out
}

func TestSendMessage(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/chat/message", `{"message":"total sales","session_id":"`+sessionID+`"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	want := map[string]any{
		"session_id": sessionID,
		"response":   "₹18,234.50",
		"metadata":   map[string]any{"row_count": float64(1), "success": true},
	}
	if diff := cmp.Diff(want, decodeBody(t, rec)); diff != "" {
		t.Fatalf("body mismatch (-want +got):\n%s", diff)
	}
	if svc.requests[0].SessionID != sessionID || svc.requests[0].Message != "total sales" {
		t.Fatalf("request = %+v", svc.requests[0])
	}
}

func TestSendMessageErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		msg    string
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest, "invalid request body"},
		{"blank message", `{"message":"  "}`, service.ErrEmptyQuestion, http.StatusBadRequest, "message is required"},
		{"unknown session", `{"message":"hi","session_id":"x"}`, service.ErrConversationNotFound, http.StatusNotFound, "Session not found"},
		{"store failure", `{"message":"hi"}`, errors.New("disk full"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestRouter(&fakeService{askErr: tt.err}), http.MethodPost, "/api/v1/chat/message", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if got := decodeBody(t, rec)["error"]; got != tt.msg {
				t.Fatalf("error = %v, want %q", got, tt.msg)
			}
		})
	}
}

func TestStreamWritesServerSentEvents(t *testing.T) {
	svc := &fakeService{events: []model.StreamEvent{
		model.StatusEvent(agent.StatusAnalyzing),
		model.SQLEvent("SELECT 1 LIMIT 200"),
		model.ChunkEvent("Hello"),
		model.DoneEvent(sessionID, 1),
	}}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/chat/message/stream", `{"message":"total sales"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" || rec.Header().Get("Cache-Control") != "no-cache" {
		t.Fatalf("headers = %v", rec.Header())
	}

	want := "event: status\ndata: {\"type\":\"status\",\"message\":\"Analyzing your question...\"}\n\n" +
		"event: sql\ndata: {\"type\":\"sql\",\"query\":\"SELECT 1 LIMIT 200\"}\n\n" +
		"event: chunk\ndata: {\"type\":\"chunk\",\"content\":\"Hello\"}\n\n" +
		"event: done\ndata: {\"type\":\"done\",\"session_id\":\"" + sessionID + "\",\"row_count\":1}\n\n"
	if diff := cmp.Diff(want, rec.Body.String()); diff != "" {
		t.Fatalf("stream mismatch (-want +got):\n%s", diff)
	}
	if !rec.Flushed {
		t.Fatal("events were not flushed")
	}
}

func TestStreamOutlivesServerWriteTimeout(t *testing.T) {
	svc := &fakeService{
		events: []model.StreamEvent{
			model.StatusEvent(agent.StatusAnalyzing),
			model.ChunkEvent("Hello"),
			model.DoneEvent(sessionID, 1),
		},
		pause: 150 * time.Millisecond,
	}
	srv := httptest.NewUnstartedServer(newTestRouter(svc))
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/v1/chat/message/stream", "application/json", strings.NewReader(`{"message":"total sales"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("stream cut off after %q: %v", body, err)
	}
	if !strings.Contains(string(body), "event: done") {
		t.Fatalf("body = %q, want the closing done event", body)
	}
}

func TestStreamInputErrorIsPlainJSON(t *testing.T) {
	svc := &fakeService{streamErr: service.ErrEmptyQuestion}
	rec := do(t, newTestRouter(svc), http.MethodPost, "/api/v1/chat/message/stream", `{"message":""}`)

	if rec.Code != http.StatusBadRequest || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("status = %d, Content-Type = %q", rec.Code, rec.Header().Get("Content-Type"))
	}
}

func TestSSEWriterStopsAfterDisconnect(t *testing.T) {
	done := make(chan struct{})
	close(done)
	rec := httptest.NewRecorder()
	sse := &sseWriter{w: rec, flusher: rec, done: done}

	if err := sse.Emit(model.StatusEvent("x")); err == nil {
		t.Fatal("Emit() after disconnect should fail")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("wrote %q after disconnect", rec.Body.String())
	}
}

func TestSession(t *testing.T) {
	svc := &fakeService{session: &model.SessionResponse{
		SessionID: sessionID,
		Title:     "total sales",
		Messages: []model.Message{
			{ID: 41, Role: model.RoleUser, Content: "total sales"},
			{ID: 42, Role: model.RoleAssistant, Content: "₹100", Status: model.StatusSuccess},
		},
	}}
	router := newTestRouter(svc)

	rec := do(t, router, http.MethodGet, "/api/v1/chat/session/"+sessionID+"?after_id=40", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	messages := body["messages"].([]any)
	first := messages[0].(map[string]any)
	if first["id"] != "41" || first["role"] != "user" || svc.afterID != 40 {
		t.Fatalf("first message = %v, afterID = %d", first, svc.afterID)
	}
	if _, has := first["status"]; has {
		t.Fatalf("user turn carries a status: %v", first)
	}

	if rec := do(t, router, http.MethodGet, "/api/v1/chat/session/not-a-uuid", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("malformed id status = %d", rec.Code)
	}
	if rec := do(t, router, http.MethodGet, "/api/v1/chat/session/0195a0c4-7d2e-7c3a-8f00-0000000000ff", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id status = %d", rec.Code)
	}
	if rec := do(t, router, http.MethodGet, "/api/v1/chat/session/"+sessionID+"?after_id=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad after_id status = %d", rec.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	router := NewRouter(RouterConfig{}, &fakeService{}, NewHealthHandler(pingResult{}, pingResult{errors.New("down")}, nil), logger.NewNop())

	if rec := do(t, router, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d", rec.Code)
	}
	rec := do(t, router, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusServiceUnavailable || decodeBody(t, rec)["reason"] != "replica unavailable" {
		t.Fatalf("/ready = %d %s", rec.Code, rec.Body.String())
	}

	ok := NewRouter(RouterConfig{}, &fakeService{}, NewHealthHandler(pingResult{}, PingerFunc(func(context.Context) error { return nil }), nil), logger.NewNop())
	if rec := do(t, ok, http.MethodGet, "/ready", ""); rec.Code != http.StatusOK {
		t.Fatalf("/ready status = %d", rec.Code)
	}
}

func TestAuthAppliesToChatRoutes(t *testing.T) {
	router := NewRouter(RouterConfig{JWTSecret: "secret"}, &fakeService{}, NewHealthHandler(pingResult{}, nil, nil), logger.NewNop())

	if rec := do(t, router, http.MethodPost, "/api/v1/chat/message", `{"message":"hi"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
	if rec := do(t, router, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("/health status = %d", rec.Code)
	}
}
