package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/capitalize-ai/chat-analytics/internal/executor"
	"github.com/capitalize-ai/chat-analytics/internal/llm"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/internal/sqlguard"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

type reply struct {
	resp *llm.CompletionResponse
	err  error
}

func toolReply(calls ...llm.ToolCall) reply {
	return reply{resp: &llm.CompletionResponse{StopReason: llm.StopReasonToolCalls, ToolCalls: calls}}
}

func stopReply(text string) reply {
	return reply{resp: &llm.CompletionResponse{StopReason: llm.StopReasonStop, Content: text}}
}

func sqlCall(id, sql string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: ToolName, Arguments: `{"sql":` + quote(sql) + `}`}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// scriptedLLM answers Complete from a script and CompleteStream with fixed chunks.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	requests []llm.CompletionRequest

	chunks         []string
	streamErr      error
	streamRequests []llm.CompletionRequest
	onStream       func()
}

func (f *scriptedLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, snapshot(req))
	if len(f.replies) == 0 {
		return nil, errors.New("unexpected model call")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	return next.resp, next.err
}

func (f *scriptedLLM) CompleteStream(_ context.Context, req *llm.CompletionRequest, callback llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.streamRequests = append(f.streamRequests, snapshot(req))
	chunks, streamErr, onStream := f.chunks, f.streamErr, f.onStream
	f.mu.Unlock()

	if onStream != nil {
		onStream()
	}
	if streamErr != nil {
		return nil, streamErr
	}
	for i, c := range chunks {
		if err := callback(c, i); err != nil {
			return nil, err
		}
	}
	return &llm.CompletionResponse{Content: strings.Join(chunks, ""), StopReason: llm.StopReasonStop}, nil
}

func (f *scriptedLLM) Name() string     { return "scripted" }
func (f *scriptedLLM) Models() []string { return nil }

func (f *scriptedLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func snapshot(req *llm.CompletionRequest) llm.CompletionRequest {
	out := *req
	out.Messages = append([]llm.ChatMessage(nil), req.Messages...)
	return out
}

// fakeExecutor returns canned results by statement.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]executor.Result
	queries []string
}

func (f *fakeExecutor) Execute(_ context.Context, sql string) executor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, sql)
	if r, ok := f.results[sql]; ok {
		return r
	}
	return executor.Result{Err: errors.New("no such table: unknown"), Elapsed: time.Millisecond}
}

type turn struct {
	conversationID string
	role           model.Role
	content        string
	status         model.TurnStatus
}

type memoryRecorder struct {
	mu     sync.Mutex
	audits []*model.QueryAudit
	turns  []turn
}

func (r *memoryRecorder) RecordAudit(_ context.Context, audit *model.QueryAudit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, audit)
	return nil
}

func (r *memoryRecorder) RecordTurn(_ context.Context, conversationID string, role model.Role, content string, status model.TurnStatus) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn{conversationID, role, content, status})
	return &model.Message{ConversationID: conversationID, Role: role, Content: content, Status: status}, nil
}

type staticSchema struct {
	text string
	err  error
}

func (s staticSchema) Get(context.Context) (string, error) { return s.text, s.err }

// eventLog collects stream events; failAfter > 0 makes Emit fail once that many events were accepted.
type eventLog struct {
	events    []model.StreamEvent
	failAfter int
}

func (l *eventLog) Emit(event model.StreamEvent) error {
	if l.failAfter > 0 && len(l.events) >= l.failAfter {
		return errors.New("broken pipe")
	}
	l.events = append(l.events, event)
	return nil
}

func (l *eventLog) types() []model.EventType {
	out := make([]model.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	agent    *Agent
	llm      *scriptedLLM
	exec     *fakeExecutor
	recorder *memoryRecorder
}

func newHarness(t *testing.T, fake *scriptedLLM, results map[string]executor.Result, tweak func(*Config)) *harness {
	t.Helper()
	exec := &fakeExecutor{results: results}
	recorder := &memoryRecorder{}
	cfg := DefaultConfig()
	cfg.Model = "test-model"
	cfg.ClassifySmallTalk = false
	cfg.Location = time.UTC
	if tweak != nil {
		tweak(&cfg)
	}
	a := New(Deps{
		LLM:       fake,
		Schema:    staticSchema{text: "Table: sales_order\nColumns:\n  - total_amount (DECIMAL)"},
		Validator: sqlguard.New(200),
		Executor:  exec,
		Recorder:  recorder,
		Logger:    logger.NewNop(),
		Now:       func() time.Time { return time.Date(2026, 3, 15, 9, 30, 0, 0, time.UTC) },
	}, cfg)
	return &harness{agent: a, llm: fake, exec: exec, recorder: recorder}
}
