package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-3-5-sonnet-20241022"

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"claude-3-haiku-20240307",
	}
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.client.Messages.New(ctx, buildAnthropicParams(req))
	if err != nil {
		return nil, err
	}

	content, calls := fromAnthropicContent(resp.Content)
	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: normalizeAnthropicStop(resp.StopReason),
		ToolCalls:  calls,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
// Events are folded into one message; the callback receives the newly appended text.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	params := buildAnthropicParams(req)
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	var emitted int
	index := 0

	for stream.Next() {
		if err := message.Accumulate(stream.Current()); err != nil {
			return nil, err
		}

		text, _ := fromAnthropicContent(message.Content)
		if len(text) > emitted {
			token := text[emitted:]
			emitted = len(text)
			if err := callback(token, index); err != nil {
				return nil, err
			}
			index++
		}
	}

	if err := stream.Err(); err != nil {
		return nil, err
	}

	content, calls := fromAnthropicContent(message.Content)
	model := message.Model
	if model == "" {
		model = req.Model
	}

	return &CompletionResponse{
		Content:    content,
		Model:      model,
		TokensIn:   int(message.Usage.InputTokens),
		TokensOut:  int(message.Usage.OutputTokens),
		StopReason: normalizeAnthropicStop(message.StopReason),
		ToolCalls:  calls,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func buildAnthropicParams(req *CompletionRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	system, messages := splitSystem(req.Messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(model),
		MaxTokens:   anthropic.F(int64(maxTokens)),
		Messages:    anthropic.F(toAnthropicMessages(messages)),
		Temperature: anthropic.F(req.Temperature),
	}
	if system != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(system)})
	}

	// Tools stay declared for ToolChoiceNone: histories holding tool_use blocks are rejected without them.
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = anthropic.ToolParam{
				Name:        anthropic.F(t.Name),
				Description: anthropic.F(t.Description),
				InputSchema: anthropic.F[interface{}](t.JSONSchema()),
			}
		}
		params.Tools = anthropic.F(tools)

		switch req.ToolChoice {
		case ToolChoiceRequired:
			params.ToolChoice = anthropic.F[anthropic.ToolChoiceUnionParam](anthropic.ToolChoiceAnyParam{
				Type: anthropic.F(anthropic.ToolChoiceAnyTypeAny),
			})
		case ToolChoiceAuto:
			params.ToolChoice = anthropic.F[anthropic.ToolChoiceUnionParam](anthropic.ToolChoiceAutoParam{
				Type: anthropic.F(anthropic.ToolChoiceAutoTypeAuto),
			})
		}
	}
	return params
}

// toAnthropicMessages emits one block per message; the API merges consecutive turns of the same role.
func toAnthropicMessages(in []ChatMessage) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(in))
	for _, msg := range in {
		switch msg.Role {
		case RoleAssistant:
			if msg.Content != "" {
				messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
			}
			for _, tc := range msg.ToolCalls {
				messages = append(messages, anthropic.NewAssistantMessage(
					anthropic.NewToolUseBlockParam(tc.ID, tc.Name, decodeArguments(tc.Arguments)),
				))
			}
		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	return messages
}

func fromAnthropicContent(blocks []anthropic.ContentBlock) (string, []ToolCall) {
	var text strings.Builder
	var calls []ToolCall
	for _, block := range blocks {
		switch block.Type {
		case anthropic.ContentBlockTypeText:
			text.WriteString(block.Text)
		case anthropic.ContentBlockTypeToolUse:
			calls = append(calls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	return text.String(), calls
}

func normalizeAnthropicStop(reason anthropic.MessageStopReason) string {
	switch reason {
	case anthropic.MessageStopReasonToolUse:
		return StopReasonToolCalls
	case anthropic.MessageStopReasonEndTurn, anthropic.MessageStopReasonStopSequence:
		return StopReasonStop
	default:
		return string(reason)
	}
}

// decodeArguments turns raw JSON arguments into a value the SDKs can re-encode.
// Malformed input is passed through as an empty object.
func decodeArguments(raw string) map[string]any {
	args := map[string]any{}
	if raw == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}
