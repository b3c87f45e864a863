package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-1.5-flash-latest"

// GeminiClient is the Google Gemini LLM client.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, errors.New("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Close releases the underlying connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Models returns available models.
func (c *GeminiClient) Models() []string {
	return []string{
		"gemini-1.5-flash-latest",
		"gemini-1.5-pro-latest",
	}
}

// Complete sends a completion request.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	session, last, model, err := c.startChat(req)
	if err != nil {
		return nil, err
	}

	resp, err := session.SendMessage(ctx, last.Parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini SendMessage failed: %w", err)
	}

	out := fromGeminiResponse(resp)
	out.Model = model
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

// CompleteStream sends a streaming completion request.
func (c *GeminiClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	session, last, model, err := c.startChat(req)
	if err != nil {
		return nil, err
	}

	iter := session.SendMessageStream(ctx, last.Parts...)

	var content strings.Builder
	var calls []ToolCall
	var stopReason string
	var tokensIn, tokensOut int
	index := 0

	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gemini stream failed: %w", err)
		}

		chunk := fromGeminiResponse(resp)
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			if err := callback(chunk.Content, index); err != nil {
				return nil, err
			}
			index++
		}
		calls = append(calls, chunk.ToolCalls...)
		if chunk.StopReason != "" {
			stopReason = chunk.StopReason
		}
		if chunk.TokensIn > 0 {
			tokensIn, tokensOut = chunk.TokensIn, chunk.TokensOut
		}
	}

	if len(calls) > 0 {
		stopReason = StopReasonToolCalls
		for i := range calls {
			calls[i].ID = fmt.Sprintf("call_%d_%s", i, calls[i].Name)
		}
	}

	return &CompletionResponse{
		Content:    content.String(),
		Model:      model,
		TokensIn:   tokensIn,
		TokensOut:  tokensOut,
		StopReason: stopReason,
		ToolCalls:  calls,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

func (c *GeminiClient) startChat(req *CompletionRequest) (*genai.ChatSession, *genai.Content, string, error) {
	name := req.Model
	if name == "" {
		name = defaultGeminiModel
	}

	model := c.client.GenerativeModel(name)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	system, messages := splitSystem(req.Messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	if len(req.Tools) > 0 {
		model.Tools = toGeminiTools(req.Tools)
		model.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: geminiCallingMode(req.ToolChoice)},
		}
	}

	contents := toGeminiContents(messages)
	if len(contents) == 0 {
		return nil, nil, "", errors.New("gemini request has no messages")
	}
	last := contents[len(contents)-1]
	if last.Role != "user" {
		return nil, nil, "", errors.New("last gemini message is not from the user")
	}

	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	return session, last, name, nil
}

func toGeminiTools(tools []Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		schema := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(t.Parameters)),
		}
		for _, p := range t.Parameters {
			schema.Properties[p.Name] = &genai.Schema{
				Type:        geminiType(p.Type),
				Description: p.Description,
			}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func geminiType(t string) genai.Type {
	switch t {
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

func geminiCallingMode(choice ToolChoice) genai.FunctionCallingMode {
	switch choice {
	case ToolChoiceRequired:
		return genai.FunctionCallingAny
	case ToolChoiceNone:
		return genai.FunctionCallingNone
	default:
		return genai.FunctionCallingAuto
	}
}

// toGeminiContents maps roles to user/model and merges consecutive turns of the same role.
// Tool results are matched by function name, which Gemini uses instead of call ids.
func toGeminiContents(messages []ChatMessage) []*genai.Content {
	var contents []*genai.Content
	appendParts := func(role string, parts ...genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleAssistant:
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: decodeArguments(tc.Arguments)})
			}
			appendParts("model", parts...)
		case RoleTool:
			appendParts("user", genai.FunctionResponse{
				Name:     msg.Name,
				Response: map[string]any{"content": msg.Content},
			})
		default:
			appendParts("user", genai.Text(msg.Content))
		}
	}
	return contents
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *CompletionResponse {
	out := &CompletionResponse{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 {
		return out
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for i, part := range candidate.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				text.WriteString(string(p))
			case genai.FunctionCall:
				args, _ := json.Marshal(p.Args)
				out.ToolCalls = append(out.ToolCalls, ToolCall{
					ID:        fmt.Sprintf("call_%d_%s", i, p.Name),
					Name:      p.Name,
					Arguments: string(args),
				})
			}
		}
	}
	out.Content = text.String()

	switch {
	case len(out.ToolCalls) > 0:
		out.StopReason = StopReasonToolCalls
	case candidate.FinishReason == genai.FinishReasonStop:
		out.StopReason = StopReasonStop
	case candidate.FinishReason != genai.FinishReasonUnspecified:
		out.StopReason = strings.ToLower(candidate.FinishReason.String())
	}
	return out
}
