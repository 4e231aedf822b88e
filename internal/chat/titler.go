package chat

import (
	"context"
	"encoding/json"
	"strings"

	"grantwell/internal/common/logger"
)

// Invoker is the synchronous model invocation surface.
type Invoker interface {
	Invoke(ctx context.Context, modelID string, payload []byte) ([]byte, error)
}

// Titler names new sessions with a secondary small model. Any failure falls
// back to a truncated copy of the first message.
type Titler struct {
	invoker Invoker
	modelID string
	logger  logger.Logger
}

func NewTitler(invoker Invoker, modelID string, log logger.Logger) *Titler {
	return &Titler{invoker: invoker, modelID: modelID, logger: log}
}

const titlePromptPrefix = "Write a title of at most six words for a conversation that starts with this message. Reply with the title only, no quotes.\n\nMessage: "

type titleRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	Messages         []titleMessage `json:"messages"`
}

type titleMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type titleResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (t *Titler) Title(ctx context.Context, firstMessage string) string {
	payload, err := json.Marshal(titleRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        64,
		Temperature:      0,
		Messages: []titleMessage{
			{Role: "user", Content: titlePromptPrefix + firstMessage},
		},
	})
	if err != nil {
		return fallbackTitle(firstMessage)
	}

	raw, err := t.invoker.Invoke(ctx, t.modelID, payload)
	if err != nil {
		t.logger.WithError(err).Warn("title generation failed, using fallback", nil)
		return fallbackTitle(firstMessage)
	}

	var resp titleResponse
	if err := json.Unmarshal(raw, &resp); err != nil || len(resp.Content) == 0 {
		return fallbackTitle(firstMessage)
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content[0].Text), `"`))
	if title == "" {
		return fallbackTitle(firstMessage)
	}
	return title
}

func fallbackTitle(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return "New Conversation"
	}
	runes := []rune(message)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return message
}
