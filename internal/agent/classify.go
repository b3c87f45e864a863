package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/chat-analytics/internal/llm"
)

// noQueryMarker is what the classifier answers for messages that need no data.
const noQueryMarker = "NO_QUERY"

const classifyPrompt = `You route messages for a business analytics assistant.

If the user's latest message is a greeting, an acknowledgment ("ok", "yes", "no", "thanks", "great", "got it", "sure", "bye", etc.) or general small talk that does NOT need database data, return exactly: NO_QUERY
If it asks for data, or confirms a data request the assistant just offered, return exactly: QUERY

Return only one word.`

const conversationalPrompt = `You are a friendly business analytics assistant.
The user sent a conversational message. Reply naturally and briefly.
Do not query any data or mention SQL.`

// classify reports whether the question is small talk that needs no tool use.
func (a *Agent) classify(ctx context.Context, st *state) (bool, error) {
	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: classifyPrompt}}
	messages = append(messages, historyMessages(st.req.History)...)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: st.req.Question})

	resp, err := a.complete(ctx, "classify", &llm.CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.ClassifyMaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return false, err
	}

	small := isNoQuery(resp.Content)
	st.log.Debug("question classified", zap.Bool("small_talk", small))
	return small, nil
}

func isNoQuery(content string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(content)), noQueryMarker)
}

// converse answers small talk without tools and without touching the replica.
func (a *Agent) converse(ctx context.Context, st *state) Result {
	st.out.send(statusEvent(StatusResponding))

	messages := []llm.ChatMessage{{Role: llm.RoleSystem, Content: conversationalPrompt}}
	messages = append(messages, historyMessages(st.req.History)...)
	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: st.req.Question})

	req := &llm.CompletionRequest{
		Model:       a.cfg.Model,
		Messages:    messages,
		MaxTokens:   a.cfg.ReplyMaxTokens,
		Temperature: a.cfg.Temperature,
	}

	var text string
	if st.out == nil {
		resp, err := a.complete(ctx, "reply", req)
		if err != nil {
			return transportFailure(err)
		}
		text = resp.Content
	} else {
		streamed, err := a.streamText(ctx, st, "reply", req)
		if err != nil {
			return transportFailure(err)
		}
		text = streamed
	}

	return Result{Outcome: OutcomeConversational, Answer: text}
}
