package model

// EventType names a streaming event.
type EventType string

const (
	EventStatus EventType = "status"
	EventSQL    EventType = "sql"
	EventChunk  EventType = "chunk"
	EventDone   EventType = "done"
	EventError  EventType = "error"
)

// StreamEvent is one server-sent event of a streamed answer.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message,omitempty"`
	Query     string    `json:"query,omitempty"`
	Content   string    `json:"content,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	RowCount  *int      `json:"row_count,omitempty"`
}

// StatusEvent reports progress.
func StatusEvent(message string) StreamEvent {
	return StreamEvent{Type: EventStatus, Message: message}
}

// SQLEvent reports the sanitized query about to run.
func SQLEvent(query string) StreamEvent {
	return StreamEvent{Type: EventSQL, Query: query}
}

// ChunkEvent carries one fragment of the answer.
func ChunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventChunk, Content: content}
}

// DoneEvent closes a successful stream.
func DoneEvent(sessionID string, rowCount int) StreamEvent {
	return StreamEvent{Type: EventDone, SessionID: sessionID, RowCount: &rowCount}
}

// ErrorEvent closes a failed stream.
func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Message: message}
}
