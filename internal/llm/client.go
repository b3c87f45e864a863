// Package llm provides LLM client interfaces and implementations.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// StreamCallback is called for each token during streaming.
type StreamCallback func(token string, index int) error

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Normalized stop reasons. Providers may also return their own reason verbatim.
const (
	StopReasonToolCalls = "tool_calls"
	StopReasonStop      = "stop"
)

// ToolChoice controls whether the model must, may, or must not call a tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// ToolParameter is one named argument of a tool.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// JSONSchema returns the parameter object schema shared by all providers.
func (t Tool) JSONSchema() map[string]any {
	properties := make(map[string]any, len(t.Parameters))
	required := []string{}
	for _, p := range t.Parameters {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ToolCall is a tool invocation requested by the model. Arguments is raw JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Tools       []Tool
	ToolChoice  ToolChoice
	Stream      bool
}

// ChatMessage represents a chat message for LLM.
// Assistant messages may carry ToolCalls; tool messages answer one call by ToolCallID.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	ToolCalls  []ToolCall
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// CompleteStream sends a streaming completion request.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Config selects and authenticates a provider.
type Config struct {
	Provider Provider
	APIKey   string
	// BaseURL overrides the OpenAI endpoint, for compatible gateways.
	BaseURL string
}

// NewClient creates a new LLM client based on provider.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey)
	case ProviderGemini:
		return NewGeminiClient(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// splitSystem separates leading system messages, which some providers take out of band.
func splitSystem(messages []ChatMessage) (string, []ChatMessage) {
	var system []string
	rest := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
