package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

// ArkCompleter answers prompts through an eino chain backed by an Ark model.
type ArkCompleter struct {
	system string
	chain  compose.Runnable[map[string]any, *schema.Message]
}

// NewArkCompleter compiles the system/history/query chain.
func NewArkCompleter(ctx context.Context, cfg config.AIConfig) (*ArkCompleter, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ArkCompleter{system: cfg.SystemPrompt, chain: runnable}, nil
}

// Complete runs the chain once; failures are returned without retry.
func (c *ArkCompleter) Complete(ctx context.Context, history []chat.Message, query string) (string, error) {
	response, err := c.chain.Invoke(ctx, map[string]any{
		"system":  c.system,
		"history": buildHistoryMessages(history),
		"query":   query,
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	return strings.TrimSpace(response.Content), nil
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	recent := trimHistory(messages)
	if len(recent) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(recent))
	for _, msg := range recent {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
