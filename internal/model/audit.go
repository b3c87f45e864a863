package model

import (
	"time"
)

// QueryAudit records one tool invocation: what the model asked for and what happened.
// ConversationID is empty for headless runs.
type QueryAudit struct {
	ID              int64     `json:"id" db:"id" schema:"pk"`
	ConversationID  string    `json:"session_id,omitempty" db:"session_id" schema:"fk=chat_session,nullable"`
	Question        string    `json:"user_question" db:"user_question"`
	GeneratedSQL    string    `json:"generated_sql" db:"generated_sql"`
	SanitizedSQL    string    `json:"sanitized_sql,omitempty" db:"sanitized_sql" schema:"nullable"`
	ExecutionTimeMs *int64    `json:"execution_time_ms,omitempty" db:"execution_time_ms"`
	RowCount        *int      `json:"row_count,omitempty" db:"row_count"`
	Error           string    `json:"error,omitempty" db:"error" schema:"nullable"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

func (QueryAudit) TableName() string { return "chat_query_audit" }

// Succeeded reports whether the audited query ran without error.
func (a *QueryAudit) Succeeded() bool {
	return a.Error == ""
}
