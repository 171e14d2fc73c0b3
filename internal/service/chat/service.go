package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
	"github.com/zhouzirui/z-relay/backend/internal/service/ai"
	"github.com/zhouzirui/z-relay/backend/internal/service/session"
)

var (
	// ErrPromptRequired is returned when Reply is called without a prompt.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrCompletion wraps failures of the completion provider.
	ErrCompletion = errors.New("completion failed")
)

// Service encapsulates conversation state for live sessions.
type Service struct {
	messages  chat.MessageStore
	sessions  *session.Manager
	completer ai.Completer
}

// NewService wires the chat service. completer may be nil, in which case
// Reply and Title return ai.ErrUnavailable.
func NewService(messages chat.MessageStore, sessions *session.Manager, completer ai.Completer) *Service {
	return &Service{
		messages:  messages,
		sessions:  sessions,
		completer: completer,
	}
}

// Sessions exposes the session manager backing the service.
func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

// CompletionEnabled reports whether a completion provider is configured.
func (s *Service) CompletionEnabled() bool {
	return s.completer != nil
}

// Append stores a message for an active session. Writes to an ended session
// are rejected with chat.ErrSessionEnded. If the session ends while the write
// is in flight the session's messages are deleted again, and anything still
// left behind expires with its TTL.
func (s *Service) Append(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	if err := chat.ValidateMessage(sessionID, role, content); err != nil {
		return chat.Message{}, err
	}
	if !s.sessions.Active(ctx, sessionID) {
		return chat.Message{}, chat.ErrSessionEnded
	}

	message, err := s.messages.Append(ctx, sessionID, role, content)
	if err != nil {
		return chat.Message{}, err
	}

	if !s.sessions.Active(ctx, sessionID) {
		if _, err := s.messages.DeleteBySession(ctx, sessionID); err != nil {
			log.Printf("[chat] failed to clean up late write for session=%s: %v", sessionID, err)
		}
		return chat.Message{}, chat.ErrSessionEnded
	}

	return message, nil
}

// Transcript returns the live messages of a session, oldest first.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.messages.ListBySession(ctx, sessionID)
}

// Reply stores the user's prompt, asks the completion provider for an answer
// with the transcript as context, and stores the answer. A provider failure
// is returned as-is; the user message stays in the transcript.
func (s *Service) Reply(ctx context.Context, sessionID, prompt string) (chat.Message, error) {
	if s.completer == nil {
		return chat.Message{}, ai.ErrUnavailable
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return chat.Message{}, ErrPromptRequired
	}

	history, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("load transcript: %w", err)
	}

	if _, err := s.Append(ctx, sessionID, chat.RoleUser, prompt); err != nil {
		return chat.Message{}, err
	}

	answer, err := s.completer.Complete(ctx, history, prompt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	if strings.TrimSpace(answer) == "" {
		return chat.Message{}, fmt.Errorf("%w: empty candidate", ErrCompletion)
	}

	reply, err := s.Append(ctx, sessionID, chat.RoleAssistant, answer)
	if err != nil {
		return chat.Message{}, err
	}

	log.Printf("[chat] generated reply for session=%s, length=%d", sessionID, len(answer))
	return reply, nil
}

// Title names the session's conversation. An empty transcript yields an
// empty title without calling the provider.
func (s *Service) Title(ctx context.Context, sessionID string) (string, error) {
	if s.completer == nil {
		return "", ai.ErrUnavailable
	}

	messages, err := s.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("load transcript: %w", err)
	}
	if len(messages) == 0 {
		return "", nil
	}

	title, err := ai.GenerateTitle(ctx, s.completer, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletion, err)
	}
	return title, nil
}

// EndSession tears the session down and deletes its messages.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	return s.sessions.End(ctx, sessionID)
}
