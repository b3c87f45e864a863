package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/llm"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

// ToolName is the only capability offered to the model.
const ToolName = "execute_sql"

var executeSQLTool = llm.Tool{
	Name:        ToolName,
	Description: "Execute a SQL SELECT query against the business database to retrieve data.",
	Parameters: []llm.ToolParameter{{
		Name:        "sql",
		Type:        "string",
		Description: "A valid SQL SELECT query. Must start with SELECT. No INSERT/UPDATE/DELETE allowed.",
		Required:    true,
	}},
}

// Tool call outcomes, used as metric labels.
const (
	toolSuccess  = "success"
	toolInvalid  = "invalid"
	toolFailed   = "failed"
	toolRejected = "rejected"
)

type toolArgs struct {
	SQL string `json:"sql"`
}

// runTool handles one tool call and returns the feedback message for the model.
// Exactly one audit record is written whatever the outcome.
func (a *Agent) runTool(ctx context.Context, st *state, call llm.ToolCall) llm.ChatMessage {
	ctx, span := a.tracer.Start(ctx, "agent.execute_sql")
	defer span.End()

	audit := &model.QueryAudit{
		ConversationID: st.req.ConversationID,
		Question:       st.req.Question,
		CreatedAt:      a.now(),
	}

	feedback, outcome := a.invokeTool(ctx, st, call, audit)

	if err := a.recorder.RecordAudit(ctx, audit); err != nil {
		st.log.Error("failed to write audit record", zap.Error(err))
	}
	metrics.RecordToolCall(outcome)
	span.SetAttributes(attribute.String("tool.outcome", outcome))

	return llm.ChatMessage{
		Role:       llm.RoleTool,
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    feedback,
	}
}

func (a *Agent) invokeTool(ctx context.Context, st *state, call llm.ToolCall, audit *model.QueryAudit) (string, string) {
	if call.Name != ToolName {
		audit.GeneratedSQL = call.Arguments
		audit.Error = fmt.Sprintf("unknown tool %q", call.Name)
		st.log.Warn("model called unknown tool", zap.String("tool", call.Name))
		return fmt.Sprintf("Unknown tool: %s. Use %s.", call.Name, ToolName), toolRejected
	}

	var args toolArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		audit.GeneratedSQL = call.Arguments
		audit.Error = "invalid tool arguments: " + err.Error()
		st.log.Warn("malformed tool arguments", zap.Error(err))
		return fmt.Sprintf("Invalid tool arguments: %v. Please fix the SQL.", err), toolRejected
	}

	audit.GeneratedSQL = args.SQL
	st.log.Info("sql generated", zap.String("sql", args.SQL))

	validation := a.deps.Validator.Validate(args.SQL)
	if !validation.Valid() {
		audit.Error = validation.Reason
		st.log.Warn("sql rejected", zap.String("reason", validation.Reason))
		return fmt.Sprintf("Validation error: %s. Please fix the SQL.", validation.Reason), toolInvalid
	}
	audit.SanitizedSQL = validation.SQL

	st.out.send(sqlEvent(validation.SQL))
	st.out.send(statusEvent(StatusFetching))

	result := a.deps.Executor.Execute(ctx, validation.SQL)
	elapsed := result.ElapsedMs()
	audit.ExecutionTimeMs = &elapsed

	if result.Failed() {
		audit.Error = result.Err.Error()
		st.log.Warn("sql execution failed", zap.Error(result.Err), zap.Int64("elapsed_ms", elapsed))
		return fmt.Sprintf("Query execution error: %s. Please fix the SQL.", result.Err), toolFailed
	}

	rowCount := result.RowCount
	audit.RowCount = &rowCount
	st.rowCount = rowCount
	st.lastSQL = validation.SQL
	st.log.Info("sql executed", zap.Int("rows", rowCount), zap.Int64("elapsed_ms", elapsed))

	return encodeRows(result.Rows), toolSuccess
}

// encodeRows serializes a row set for the model. An empty result is "[]".
func encodeRows(rows []map[string]any) string {
	if rows == nil {
		rows = []map[string]any{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Sprintf("Query returned %d rows that could not be encoded: %v", len(rows), err)
	}
	return string(data)
}
