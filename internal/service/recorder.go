package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
	"github.com/capitalize-ai/chat-analytics/pkg/metrics"
)

// Mirror receives a copy of every stored audit record and turn.
type Mirror interface {
	PublishAudit(ctx context.Context, audit *model.QueryAudit) (uint64, error)
	PublishTurn(ctx context.Context, msg *model.Message) (uint64, error)
}

// Recorder writes audit records and turns to the store and, when configured, to the
// mirror. Only store failures are reported; mirror failures are logged and counted.
type Recorder struct {
	store  Store
	mirror Mirror
	logger *logger.Logger
}

// NewRecorder creates a recorder. mirror may be nil.
func NewRecorder(st Store, mirror Mirror, log *logger.Logger) *Recorder {
	return &Recorder{store: st, mirror: mirror, logger: log}
}

// RecordAudit stores one audit record.
func (r *Recorder) RecordAudit(ctx context.Context, audit *model.QueryAudit) error {
	if err := r.store.CreateAuditRecord(ctx, audit); err != nil {
		return err
	}
	if r.mirror == nil {
		return nil
	}
	if _, err := r.mirror.PublishAudit(ctx, audit); err != nil {
		metrics.RecordMirrorPublishFailure("audit")
		r.logger.Warn("failed to mirror audit record",
			zap.Int64("audit_id", audit.ID),
			zap.Error(err),
		)
	}
	return nil
}

// RecordTurn stores one conversation turn.
func (r *Recorder) RecordTurn(ctx context.Context, conversationID string, role model.Role, content string, status model.TurnStatus) (*model.Message, error) {
	msg, err := r.store.CreateTurn(ctx, conversationID, role, content, status)
	if err != nil {
		return nil, err
	}
	if r.mirror == nil {
		return msg, nil
	}
	if _, err := r.mirror.PublishTurn(ctx, msg); err != nil {
		metrics.RecordMirrorPublishFailure("turn")
		r.logger.Warn("failed to mirror turn",
			zap.String("conversation_id", conversationID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return msg, nil
}
