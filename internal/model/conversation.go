// Package model defines data structures for the chat analytics service.
package model

import (
	"time"
)

// Conversation is a thread of turns between a user and the assistant.
type Conversation struct {
	ID        string    `json:"id" db:"id" schema:"pk"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (Conversation) TableName() string { return "chat_session" }

// MaxTitleLength bounds the title derived from a conversation's first question.
const MaxTitleLength = 100

// TitleFromQuestion derives a conversation title from its first question.
func TitleFromQuestion(question string) string {
	runes := []rune(question)
	if len(runes) > MaxTitleLength {
		runes = runes[:MaxTitleLength]
	}
	return string(runes)
}

// SessionResponse is the history of one conversation.
type SessionResponse struct {
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
}
