package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Strob0t/MailGuard/internal/domain/verdict"
	"github.com/Strob0t/MailGuard/internal/port/narrator"
)

const systemPrompt = `You are an email security analyst. Write a short narrative (3 to 5 sentences) ` +
	`explaining an automated phishing verdict to a security reviewer. Use only the facts in the ` +
	`JSON you are given. Do not invent indicators, scores or sources. Plain text, no lists.`

// maxNarrativeTokens bounds the completion length.
const maxNarrativeTokens = 400

// Narrate implements narrator.Narrator over the proxy's chat endpoint. Any
// failure, including an empty completion, wraps
// verdict.ErrNarrativeUnavailable.
func (c *Client) Narrate(ctx context.Context, req *narrator.Request) (string, error) {
	facts, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: marshal facts: %w", verdict.ErrNarrativeUnavailable, err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(facts)},
		},
		Temperature:         0.2,
		MaxCompletionTokens: maxNarrativeTokens,
	}

	var text string
	err = c.execute(func() error {
		resp, cErr := c.chat.CreateChatCompletion(ctx, chatReq)
		if cErr != nil {
			return cErr
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("no choices returned")
		}
		text = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", verdict.ErrNarrativeUnavailable, err)
	}
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", verdict.ErrNarrativeUnavailable)
	}
	return text, nil
}
