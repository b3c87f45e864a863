package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/chat-analytics/internal/model"
)

const (
	// StreamName is the name of the analytics stream.
	StreamName = "CHAT_ANALYTICS"

	// SubjectPrefix is the prefix for all analytics subjects.
	SubjectPrefix = "analytics"

	headless = "headless"
)

// jetStream is the part of jetstream.JetStream the manager uses.
type jetStream interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// StreamManager publishes audit records and turns to JetStream.
type StreamManager struct {
	js jetStream
}

// NewStreamManager creates a stream manager on top of a connected client.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{js: client.JetStream()}
}

// EnsureStream creates the analytics stream if it does not exist yet.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	_, err := m.js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = m.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Duplicates:  2 * time.Minute,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Query audit trail and conversation turns of the analytics assistant",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// AuditSubject returns the subject for an audit record. Headless runs share one subject.
func AuditSubject(conversationID string) string {
	if conversationID == "" {
		conversationID = headless
	}
	return fmt.Sprintf("%s.audit.%s", SubjectPrefix, conversationID)
}

// TurnSubject returns the subject for a conversation turn.
func TurnSubject(conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.turn.%s.%s", SubjectPrefix, conversationID, role)
}

// PublishAudit mirrors an audit record. Stored records are deduplicated by id.
func (m *StreamManager) PublishAudit(ctx context.Context, audit *model.QueryAudit) (uint64, error) {
	data, err := json.Marshal(audit)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audit record: %w", err)
	}

	var opts []jetstream.PublishOpt
	if audit.ID > 0 {
		opts = append(opts, jetstream.WithMsgID("audit-"+strconv.FormatInt(audit.ID, 10)))
	}

	ack, err := m.js.Publish(ctx, AuditSubject(audit.ConversationID), data, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish audit record: %w", err)
	}
	return ack.Sequence, nil
}

// turnEnvelope carries the conversation id, which Message keeps out of its JSON.
type turnEnvelope struct {
	SessionID string         `json:"session_id"`
	Message   *model.Message `json:"message"`
}

// PublishTurn mirrors a stored conversation turn.
func (m *StreamManager) PublishTurn(ctx context.Context, msg *model.Message) (uint64, error) {
	data, err := json.Marshal(turnEnvelope{SessionID: msg.ConversationID, Message: msg})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal turn: %w", err)
	}

	var opts []jetstream.PublishOpt
	if msg.ID > 0 {
		opts = append(opts, jetstream.WithMsgID("turn-"+strconv.FormatInt(msg.ID, 10)))
	}

	ack, err := m.js.Publish(ctx, TurnSubject(msg.ConversationID, msg.Role), data, opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to publish turn: %w", err)
	}
	return ack.Sequence, nil
}
