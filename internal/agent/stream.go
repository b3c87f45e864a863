package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/llm"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

// Progress messages sent as status events.
const (
	StatusAnalyzing  = "Analyzing your question..."
	StatusFetching   = "Fetching data..."
	StatusPreparing  = "Preparing response..."
	StatusResponding = "Responding..."
)

// Emitter delivers stream events to the caller in order. An error means the
// consumer is gone; nothing more is sent after the first error.
type Emitter interface {
	Emit(event model.StreamEvent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event model.StreamEvent) error

// Emit calls f(event).
func (f EmitterFunc) Emit(event model.StreamEvent) error {
	return f(event)
}

// sink wraps the caller's Emitter. A nil sink is the synchronous mode and drops everything.
type sink struct {
	emit Emitter
	gone bool
	log  *zap.Logger
}

func (s *sink) send(event model.StreamEvent) {
	if s == nil || s.gone {
		return
	}
	if err := s.emit.Emit(event); err != nil {
		s.gone = true
		s.log.Info("stream consumer disconnected", zap.String("event", string(event.Type)), zap.Error(err))
	}
}

func (s *sink) disconnected() bool {
	return s != nil && s.gone
}

func statusEvent(message string) model.StreamEvent { return model.StatusEvent(message) }
func sqlEvent(query string) model.StreamEvent      { return model.SQLEvent(query) }

// streamText runs one incremental completion and forwards each fragment as a chunk.
// The completion runs to the end even if the consumer leaves, so the full text can be stored.
func (a *Agent) streamText(ctx context.Context, st *state, purpose string, req *llm.CompletionRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()
	ctx, span := a.tracer.Start(ctx, "llm.stream")
	defer span.End()

	req.Stream = true
	var text strings.Builder
	start := a.now()

	resp, err := a.deps.LLM.CompleteStream(ctx, req, func(token string, _ int) error {
		text.WriteString(token)
		st.out.send(model.ChunkEvent(token))
		return nil
	})
	elapsed := a.now().Sub(start).Seconds()
	if err != nil {
		recordSpanError(span, err)
		metrics.RecordLLMRequest(req.Model, purpose+"_stream", "error", elapsed, 0, 0)
		return "", err
	}
	metrics.RecordLLMRequest(req.Model, purpose+"_stream", "success", elapsed, resp.TokensIn, resp.TokensOut)

	return text.String(), nil
}

// finalAnswer produces the answer after the model stopped on its own. In synchronous
// mode that is the completion text; streaming mode re-requests it incrementally.
func (a *Agent) finalAnswer(ctx context.Context, st *state, messages []llm.ChatMessage, resp *llm.CompletionResponse) Result {
	result := Result{
		Outcome:  OutcomeAnswered,
		Answer:   resp.Content,
		SQL:      st.lastSQL,
		RowCount: st.rowCount,
	}
	if st.out == nil || st.out.disconnected() {
		return result
	}

	st.out.send(statusEvent(StatusPreparing))

	text, err := a.streamText(ctx, st, "answer", &llm.CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Tools:       []llm.Tool{executeSQLTool},
		ToolChoice:  llm.ToolChoiceNone,
	})
	if err != nil {
		return transportFailure(err)
	}

	if strings.TrimSpace(text) == "" {
		text = resp.Content
		st.out.send(model.ChunkEvent(text))
	}
	result.Answer = text
	return result
}
