// Package service sits between the HTTP handlers and the agent: it resolves the
// conversation, loads history, writes the user turn and shapes responses.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/agent"
	"github.com/capitalize-ai/chat-analytics/internal/model"
	"github.com/capitalize-ai/chat-analytics/internal/store"
	"github.com/capitalize-ai/chat-analytics/pkg/logger"
)

var (
	// ErrEmptyQuestion is returned when the message is blank.
	ErrEmptyQuestion = errors.New("message is required")
	// ErrConversationNotFound is returned for an unknown session id.
	ErrConversationNotFound = errors.New("session not found")
)

const (
	DefaultHistoryLimit = 10
	DefaultSessionLimit = 100
)

// Store is the persistence the service needs.
type Store interface {
	CreateConversation(ctx context.Context, title string) (*model.Conversation, error)
	FindConversation(ctx context.Context, id string) (*model.Conversation, error)
	CreateTurn(ctx context.Context, conversationID string, role model.Role, content string, status model.TurnStatus) (*model.Message, error)
	RecentMessages(ctx context.Context, conversationID string, n int) ([]model.Message, error)
	ListMessages(ctx context.Context, conversationID string, afterID int64, limit int) ([]model.Message, error)
	CreateAuditRecord(ctx context.Context, audit *model.QueryAudit) error
}

// Agent answers one question.
type Agent interface {
	Run(ctx context.Context, req agent.Request) agent.Result
	Stream(ctx context.Context, req agent.Request, emit agent.Emitter) agent.Result
}

// Config tunes the service.
type Config struct {
	// HistoryLimit is how many earlier turns the agent sees; zero sends none.
	HistoryLimit int
	// SessionLimit bounds the session history endpoint.
	SessionLimit int
}

// ChatService handles chat operations.
type ChatService struct {
	store    Store
	agent    Agent
	recorder *Recorder
	cfg      Config
	logger   *logger.Logger
}

// NewChatService creates a chat service. The recorder writes the user turn, so the
// mirror sees user and assistant turns alike.
func NewChatService(st Store, ag Agent, recorder *Recorder, cfg Config, log *logger.Logger) *ChatService {
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = 0
	}
	if cfg.SessionLimit <= 0 {
		cfg.SessionLimit = DefaultSessionLimit
	}
	return &ChatService{
		store:    st,
		agent:    ag,
		recorder: recorder,
		cfg:      cfg,
		logger:   log,
	}
}

// prepare validates the input, resolves or creates the conversation, loads the history
// and writes the user turn. History is loaded first so it never contains the question.
func (s *ChatService) prepare(ctx context.Context, req model.ChatRequest) (agent.Request, error) {
	question := strings.TrimSpace(req.Message)
	if question == "" {
		return agent.Request{}, ErrEmptyQuestion
	}

	conv, err := s.conversation(ctx, strings.TrimSpace(req.SessionID), question)
	if err != nil {
		return agent.Request{}, err
	}

	var history []model.Message
	if s.cfg.HistoryLimit > 0 {
		history, err = s.store.RecentMessages(ctx, conv.ID, s.cfg.HistoryLimit)
		if err != nil {
			return agent.Request{}, fmt.Errorf("failed to load history: %w", err)
		}
	}

	if _, err := s.recorder.RecordTurn(ctx, conv.ID, model.RoleUser, question, ""); err != nil {
		return agent.Request{}, fmt.Errorf("failed to save user turn: %w", err)
	}

	s.logger.Info("question accepted",
		zap.String("conversation_id", conv.ID),
		zap.Int("history", len(history)),
	)
	return agent.Request{ConversationID: conv.ID, Question: question, History: history}, nil
}

func (s *ChatService) conversation(ctx context.Context, sessionID, question string) (*model.Conversation, error) {
	if sessionID == "" {
		conv, err := s.store.CreateConversation(ctx, model.TitleFromQuestion(question))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		s.logger.Info("conversation created", zap.String("conversation_id", conv.ID))
		return conv, nil
	}

	conv, err := s.store.FindConversation(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

// Session returns a conversation with its turns. With afterID zero it returns the most
// recent turns; otherwise it pages forward from that turn id.
func (s *ChatService) Session(ctx context.Context, id string, afterID int64) (*model.SessionResponse, error) {
	conv, err := s.store.FindConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var messages []model.Message
	if afterID > 0 {
		messages, err = s.store.ListMessages(ctx, conv.ID, afterID, s.cfg.SessionLimit)
	} else {
		messages, err = s.store.RecentMessages(ctx, conv.ID, s.cfg.SessionLimit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if messages == nil {
		messages = []model.Message{}
	}

	return &model.SessionResponse{
		SessionID: conv.ID,
		Title:     conv.Title,
		Messages:  messages,
	}, nil
}
