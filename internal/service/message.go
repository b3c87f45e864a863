package service

import (
	"context"

	"github.com/capitalize-ai/chat-analytics/internal/agent"
	"github.com/capitalize-ai/chat-analytics/internal/model"
)

// Ask answers a question synchronously. Input and lookup errors are returned before the
// agent runs; agent failures are part of the response, never an error.
func (s *ChatService) Ask(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	areq, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result := s.agent.Run(ctx, areq)

	return &model.ChatResponse{
		SessionID: areq.ConversationID,
		Response:  result.Answer,
		Metadata: model.ChatMetadata{
			RowCount: result.RowCount,
			Success:  result.Success(),
		},
	}, nil
}

// AskStream answers a question as a stream of events. An error means nothing was sent
// and the caller can still answer with a plain error response.
func (s *ChatService) AskStream(ctx context.Context, req model.ChatRequest, emit agent.Emitter) (agent.Result, error) {
	areq, err := s.prepare(ctx, req)
	if err != nil {
		return agent.Result{}, err
	}
	return s.agent.Stream(ctx, areq, emit), nil
}
