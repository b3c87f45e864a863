package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

// CreateConversation starts a new conversation with the given title.
func (s *Store) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     title,
		CreatedAt: s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO chat_session (id, title, created_at) VALUES (?, ?, ?)`),
		conv.ID, conv.Title, conv.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	metrics.ConversationsTotal.Inc()
	return conv, nil
}

// FindConversation loads a conversation by id. Unknown and malformed ids yield ErrNotFound.
func (s *Store) FindConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if s.flavor == FlavorPostgres {
		if _, err := uuid.Parse(id); err != nil {
			return nil, ErrNotFound
		}
	}

	var conv model.Conversation
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, title, created_at FROM chat_session WHERE id = ?`), id,
	).Scan(&conv.ID, &conv.Title, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return &conv, nil
}

// CreateTurn appends a turn to a conversation. Status is stored as NULL on user turns.
func (s *Store) CreateTurn(ctx context.Context, conversationID string, role model.Role, content string, status model.TurnStatus) (*model.Message, error) {
	msg := &model.Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Status:         status,
		CreatedAt:      s.now().UTC(),
	}

	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO chat_message (session_id, role, content, status, created_at) VALUES (?, ?, ?, ?, ?) RETURNING id`),
		conversationID, string(role), content, nullString(string(status)), msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return nil, fmt.Errorf("create turn: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues(string(role), string(status)).Inc()
	return msg, nil
}

// RecentMessages returns the last n turns of a conversation, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	messages, err := s.queryMessages(ctx,
		`SELECT id, session_id, role, content, status, created_at FROM chat_message
WHERE session_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		conversationID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// ListMessages pages through a conversation from the start: up to limit turns with an id
// greater than afterID, oldest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, afterID int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	messages, err := s.queryMessages(ctx,
		`SELECT id, session_id, role, content, status, created_at FROM chat_message
WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		conversationID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	messages := []model.Message{}
	for rows.Next() {
		var (
			msg    model.Message
			role   string
			status sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &status, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Status = model.TurnStatus(status.String)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

// CreateAuditRecord writes one audit record and sets its id and creation time.
func (s *Store) CreateAuditRecord(ctx context.Context, audit *model.QueryAudit) error {
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = s.now()
	}
	audit.CreatedAt = audit.CreatedAt.UTC()

	var executionTime, rowCount sql.NullInt64
	if audit.ExecutionTimeMs != nil {
		executionTime = sql.NullInt64{Int64: *audit.ExecutionTimeMs, Valid: true}
	}
	if audit.RowCount != nil {
		rowCount = sql.NullInt64{Int64: int64(*audit.RowCount), Valid: true}
	}

	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO chat_query_audit
(session_id, user_question, generated_sql, sanitized_sql, execution_time_ms, row_count, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		nullString(audit.ConversationID),
		audit.Question,
		audit.GeneratedSQL,
		nullString(audit.SanitizedSQL),
		executionTime,
		rowCount,
		nullString(audit.Error),
		audit.CreatedAt,
	).Scan(&audit.ID)
	if err != nil {
		return fmt.Errorf("create audit record: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
