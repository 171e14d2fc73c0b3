package ai

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zhouzirui/z-relay/backend/internal/config"
	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

// ErrUnavailable is returned when no completion provider is configured.
var ErrUnavailable = errors.New("completion provider unavailable")

// Completer turns a conversation and a new prompt into the single best
// candidate reply of a generative-language API.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, prompt string) (string, error)
}

// NewCompleter builds the provider selected by cfg.Provider.
func NewCompleter(ctx context.Context, cfg config.AIConfig) (Completer, error) {
	if !cfg.Enabled() {
		return nil, ErrUnavailable
	}

	switch cfg.Provider {
	case "openai":
		completer, err := NewOpenAICompleter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai completer: %w", err)
		}
		log.Printf("[ai] using openai-compatible provider, model=%s", cfg.OpenAIModel)
		return completer, nil
	default:
		completer, err := NewArkCompleter(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create ark completer: %w", err)
		}
		log.Printf("[ai] using ark provider, model=%s", cfg.Model)
		return completer, nil
	}
}
