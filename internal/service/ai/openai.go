package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

// OpenAICompleter answers prompts through any OpenAI-compatible endpoint.
type OpenAICompleter struct {
	system string
	llm    llms.Model
}

// NewOpenAICompleter configures the langchaingo client from cfg.
func NewOpenAICompleter(cfg config.AIConfig) (*OpenAICompleter, error) {
	opts := []openai.Option{
		openai.WithToken(cfg.OpenAIToken),
		openai.WithModel(cfg.OpenAIModel),
	}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return NewOpenAICompleterWithModel(cfg.SystemPrompt, llm), nil
}

// NewOpenAICompleterWithModel wraps an existing langchaingo model.
func NewOpenAICompleterWithModel(system string, llm llms.Model) *OpenAICompleter {
	return &OpenAICompleter{system: system, llm: llm}
}

// Complete sends the conversation and returns the first choice.
func (c *OpenAICompleter) Complete(ctx context.Context, history []chat.Message, query string) (string, error) {
	resp, err := c.llm.GenerateContent(ctx, buildMessageContent(c.system, history, query))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no candidates")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func buildMessageContent(system string, history []chat.Message, query string) []llms.MessageContent {
	recent := trimHistory(history)
	content := make([]llms.MessageContent, 0, len(recent)+2)
	if system != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, system))
	}
	for _, msg := range recent {
		switch msg.Role {
		case chat.RoleUser:
			content = append(content, llms.TextParts(schema.ChatMessageTypeHuman, msg.Content))
		case chat.RoleAssistant:
			content = append(content, llms.TextParts(schema.ChatMessageTypeAI, msg.Content))
		}
	}
	return append(content, llms.TextParts(schema.ChatMessageTypeHuman, query))
}
