package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TurnStatus is the outcome recorded on assistant turns.
type TurnStatus string

const (
	StatusSuccess TurnStatus = "success"
	StatusFailed  TurnStatus = "failed"
)

// Message is one turn of a conversation. Status is empty on user turns.
type Message struct {
	ID             int64      `json:"-" db:"id" schema:"pk"`
	ConversationID string     `json:"-" db:"session_id" schema:"fk=chat_session"`
	Role           Role       `json:"role" db:"role"`
	Content        string     `json:"content" db:"content"`
	Status         TurnStatus `json:"status,omitempty" db:"status" schema:"nullable"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

func (Message) TableName() string { return "chat_message" }

// MarshalJSON renders the numeric id as a string, which clients use as a stable key.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	return json.Marshal(struct {
		ID string `json:"id"`
		plain
	}{
		ID:    strconv.FormatInt(m.ID, 10),
		plain: plain(m),
	})
}

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatMetadata summarizes how an answer was produced.
type ChatMetadata struct {
	RowCount int  `json:"row_count"`
	Success  bool `json:"success"`
}

// ChatResponse is the synchronous chat answer.
type ChatResponse struct {
	SessionID string       `json:"session_id"`
	Response  string       `json:"response"`
	Metadata  ChatMetadata `json:"metadata"`
}
