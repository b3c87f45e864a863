// Package agent answers analytics questions by letting a language model query the
// read-only replica through a single execute_sql tool.
//
// One call to Run or Stream is one bounded loop: the model is asked for a tool call,
// every call is validated, executed and fed back, and the loop ends when the model
// stops on its own, when the iteration ceiling is hit, or when the model service fails.
// Validation and execution failures are returned to the model as feedback, never aborts.
package agent

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/executor"
	"github.com/capitalize-ai/chat-analytics/internal/llm"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/internal/sqlguard"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

const (
	DefaultMaxIterations     = 5
	DefaultMaxTokens         = 1024
	DefaultClassifyMaxTokens = 16
	DefaultReplyMaxTokens    = 256
	DefaultCallTimeout       = 60 * time.Second

	// FallbackAnswer is shown for every failure whose cause is not the model service itself.
	FallbackAnswer = "Sorry, I could not process your question. Please try rephrasing it."
)

// Outcome is the terminal state of one question.
type Outcome string

const (
	OutcomeAnswered       Outcome = "answered"
	OutcomeConversational Outcome = "conversational"
	OutcomeMaxIterations  Outcome = "max_iterations"
	OutcomeUnexpectedStop Outcome = "unexpected_stop"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeSchemaError    Outcome = "schema_error"
	OutcomeDisconnected   Outcome = "disconnected"
)

// SchemaSource supplies the schema description.
type SchemaSource interface {
	Get(ctx context.Context) (string, error)
}

// SQLValidator gates model-written SQL.
type SQLValidator interface {
	Validate(sql string) sqlguard.Result
}

// QueryExecutor runs sanitized SQL on the replica.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) executor.Result
}

// Recorder persists audit records and assistant turns.
type Recorder interface {
	RecordAudit(ctx context.Context, audit *model.QueryAudit) error
	RecordTurn(ctx context.Context, conversationID string, role model.Role, content string, status model.TurnStatus) (*model.Message, error)
}

// Deps are the collaborators of an Agent. Recorder, Logger and Now are optional.
type Deps struct {
	LLM       llm.Client
	Schema    SchemaSource
	Validator SQLValidator
	Executor  QueryExecutor
	Recorder  Recorder
	Logger    *logger.Logger
	Now       func() time.Time
}

// Config tunes the loop.
type Config struct {
	Model             string
	MaxIterations     int
	Temperature       float64
	MaxTokens         int
	ClassifyMaxTokens int
	ReplyMaxTokens    int
	CallTimeout       time.Duration
	ClassifySmallTalk bool
	Dialect           executor.Dialect
	Location          *time.Location
	BusinessRules     string
	CurrencySymbol    string
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     DefaultMaxIterations,
		MaxTokens:         DefaultMaxTokens,
		ClassifyMaxTokens: DefaultClassifyMaxTokens,
		ReplyMaxTokens:    DefaultReplyMaxTokens,
		CallTimeout:       DefaultCallTimeout,
		ClassifySmallTalk: true,
		Dialect:           executor.DialectSQLite,
		Location:          time.Local,
		CurrencySymbol:    "₹",
	}
}

// Request is one question. An empty ConversationID runs headless: audit records are
// written but no turns. History holds the earlier turns, oldest first, without the question.
type Request struct {
	ConversationID string
	Question       string
	History        []model.Message
}

// Result is the single exit of a run. Reason and Err are for logs and audit only.
type Result struct {
	Outcome    Outcome
	Answer     string
	SQL        string
	RowCount   int
	Iterations int
	Reason     string
	Err        error
}

// Success reports whether an answer was produced.
func (r Result) Success() bool {
	return r.Outcome == OutcomeAnswered || r.Outcome == OutcomeConversational
}

// Agent drives the question/tool loop. It holds no per-request state and is safe for concurrent use.
type Agent struct {
	deps     Deps
	cfg      Config
	recorder Recorder
	logger   *logger.Logger
	now      func() time.Time
	tracer   trace.Tracer
}

// New creates an Agent, filling unset config values with defaults.
func New(deps Deps, cfg Config) *Agent {
	defaults := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.ClassifyMaxTokens <= 0 {
		cfg.ClassifyMaxTokens = defaults.ClassifyMaxTokens
	}
	if cfg.ReplyMaxTokens <= 0 {
		cfg.ReplyMaxTokens = defaults.ReplyMaxTokens
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	if cfg.Dialect == "" {
		cfg.Dialect = defaults.Dialect
	}
	if cfg.Location == nil {
		cfg.Location = defaults.Location
	}
	if cfg.CurrencySymbol == "" {
		cfg.CurrencySymbol = defaults.CurrencySymbol
	}

	a := &Agent{
		deps:     deps,
		cfg:      cfg,
		recorder: deps.Recorder,
		logger:   deps.Logger,
		now:      deps.Now,
		tracer:   otel.Tracer("github.com/capitalize-ai/chat-analytics/internal/agent"),
	}
	if a.recorder == nil {
		a.recorder = nopRecorder{}
	}
	if a.logger == nil {
		a.logger = logger.Global()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// state is the per-request bookkeeping of one run.
type state struct {
	req        Request
	out        *sink
	log        *logger.Logger
	mode       string
	iterations int
	rowCount   int
	lastSQL    string
}

// Run answers the question and returns the whole answer at once.
func (a *Agent) Run(ctx context.Context, req Request) Result {
	return a.run(ctx, req, nil)
}

// Stream answers the question, sending status, sql and chunk events as it goes and
// exactly one closing done or error event, unless the consumer left first.
func (a *Agent) Stream(ctx context.Context, req Request, emit Emitter) Result {
	return a.run(ctx, req, &sink{emit: emit})
}

func (a *Agent) run(ctx context.Context, req Request, out *sink) Result {
	st := &state{
		req:  req,
		out:  out,
		log:  a.logger.WithConversation(req.ConversationID),
		mode: "sync",
	}
	if out != nil {
		st.mode = "stream"
		out.log = st.log.Logger
	}

	// Calls already issued finish even if the caller goes away; ctx only gates new work.
	work := context.WithoutCancel(ctx)
	work, span := a.tracer.Start(work, "agent.run", trace.WithAttributes(attribute.String("agent.mode", st.mode)))
	defer span.End()

	st.log.Info("question received", zap.String("mode", st.mode), zap.String("question", req.Question))
	st.out.send(statusEvent(StatusAnalyzing))

	result := a.answer(ctx, work, st)
	result.Iterations = st.iterations
	span.SetAttributes(
		attribute.String("agent.outcome", string(result.Outcome)),
		attribute.Int("agent.iterations", result.Iterations),
	)
	return a.finish(work, st, result)
}

func (a *Agent) answer(ctx, work context.Context, st *state) Result {
	schema, err := a.deps.Schema.Get(work)
	if err != nil {
		return Result{Outcome: OutcomeSchemaError, Answer: FallbackAnswer, Reason: "schema unavailable", Err: err}
	}

	// The classifier request spends one round of the ceiling. With a ceiling of one
	// it is skipped so the single round can still query.
	rounds := a.cfg.MaxIterations
	if a.cfg.ClassifySmallTalk && rounds > 1 {
		small, err := a.classify(work, st)
		if err != nil {
			return transportFailure(err)
		}
		if small {
			return a.converse(work, st)
		}
		rounds--
	}

	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: a.systemPrompt(schema, a.now())}}
	messages = append(messages, historyMessages(st.req.History)...)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: st.req.Question})

	for iteration := 1; iteration <= rounds; iteration++ {
		if gone(ctx, st) {
			return disconnected()
		}
		st.iterations = iteration

		// The first round must query; letting the model answer straight away would skip the data.
		choice := llm.ToolChoiceAuto
		if iteration == 1 {
			choice = llm.ToolChoiceRequired
		}

		resp, err := a.complete(work, "tool_loop", &llm.CompletionRequest{
			Model:       a.cfg.Model,
			Messages:    messages,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
			Tools:       []llm.Tool{executeSQLTool},
			ToolChoice:  choice,
		})
		if err != nil {
			return transportFailure(err)
		}
		st.log.Debug("model responded",
			zap.Int("iteration", iteration),
			zap.String("stop_reason", resp.StopReason),
			zap.Int("tool_calls", len(resp.ToolCalls)),
		)

		switch resp.StopReason {
		case llm.StopReasonToolCalls:
			messages = append(messages, llm.ChatMessage{
				Role:      llm.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			for _, call := range resp.ToolCalls {
				if gone(ctx, st) {
					return disconnected()
				}
				messages = append(messages, a.runTool(work, st, call))
			}
		case llm.StopReasonStop:
			return a.finalAnswer(work, st, messages, resp)
		default:
			return Result{
				Outcome: OutcomeUnexpectedStop,
				Answer:  FallbackAnswer,
				Reason:  "unexpected stop reason: " + resp.StopReason,
			}
		}
	}

	return Result{
		Outcome: OutcomeMaxIterations,
		Answer:  FallbackAnswer,
		Reason:  "max iterations reached",
		SQL:     st.lastSQL,
	}
}

// finish writes the assistant turn, sends the closing event and records metrics.
func (a *Agent) finish(ctx context.Context, st *state, result Result) Result {
	status := model.StatusSuccess
	if !result.Success() {
		status = model.StatusFailed
	}

	if st.req.ConversationID != "" {
		if _, err := a.recorder.RecordTurn(ctx, st.req.ConversationID, model.RoleAssistant, result.Answer, status); err != nil {
			st.log.Error("failed to write assistant turn", zap.Error(err))
		}
	}

	if result.Success() {
		st.out.send(model.DoneEvent(st.req.ConversationID, result.RowCount))
		st.log.Info("question answered",
			zap.String("outcome", string(result.Outcome)),
			zap.Int("iterations", result.Iterations),
			zap.Int("rows", result.RowCount),
			zap.Int("answer_length", len(result.Answer)),
		)
	} else {
		st.out.send(model.ErrorEvent(result.Answer))
		st.log.Warn("question failed",
			zap.String("outcome", string(result.Outcome)),
			zap.String("reason", result.Reason),
			zap.Int("iterations", result.Iterations),
			zap.Error(result.Err),
		)
	}

	metrics.RecordAgentRun(st.mode, string(result.Outcome), result.Iterations)
	return result
}

// complete issues one request/response model call under the per-call timeout.
func (a *Agent) complete(ctx context.Context, purpose string, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()
	ctx, span := a.tracer.Start(ctx, "llm.complete", trace.WithAttributes(
		attribute.String("llm.purpose", purpose),
		attribute.String("llm.tool_choice", string(req.ToolChoice)),
	))
	defer span.End()

	start := a.now()
	resp, err := a.deps.LLM.Complete(ctx, req)
	elapsed := a.now().Sub(start).Seconds()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(errors.New("model call timed out"), err)
		}
		recordSpanError(span, err)
		metrics.RecordLLMRequest(req.Model, purpose, "error", elapsed, 0, 0)
		return nil, err
	}

	span.SetAttributes(attribute.String("llm.stop_reason", resp.StopReason))
	metrics.RecordLLMRequest(req.Model, purpose, "success", elapsed, resp.TokensIn, resp.TokensOut)
	return resp, nil
}

func gone(ctx context.Context, st *state) bool {
	return ctx.Err() != nil || st.out.disconnected()
}

func disconnected() Result {
	return Result{Outcome: OutcomeDisconnected, Answer: FallbackAnswer, Reason: "client disconnected"}
}

func transportFailure(err error) Result {
	return Result{
		Outcome: OutcomeTransportError,
		Answer:  "Service error: " + err.Error(),
		Reason:  "model service error",
		Err:     err,
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type nopRecorder struct{}

func (nopRecorder) RecordAudit(context.Context, *model.QueryAudit) error { return nil }

func (nopRecorder) RecordTurn(context.Context, string, model.Role, string, model.TurnStatus) (*model.Message, error) {
	return nil, nil
}
