package chat

import (
	"context"
	"strings"
	"time"
)

// DefaultTTL matches the lifetime of both sessions and messages.
const DefaultTTL = 30 * time.Minute

// Clock returns the current time. Stores take one so tests can move time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// MessageStore keeps the messages of live sessions.
type MessageStore interface {
	Append(ctx context.Context, sessionID string, role Role, content string) (Message, error)
	ListBySession(ctx context.Context, sessionID string) ([]Message, error)
	DeleteBySession(ctx context.Context, sessionID string) (int, error)
	// Sweep removes every expired message and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// SessionStore keeps session metadata.
type SessionStore interface {
	Create(ctx context.Context, session Session) error
	Get(ctx context.Context, id string) (Session, bool, error)
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	MarkEnded(ctx context.Context, id string, at time.Time) error
	// Sweep removes expired sessions and returns their IDs.
	Sweep(ctx context.Context) ([]string, error)
}

// ValidateMessage checks the fields accepted by Append.
func ValidateMessage(sessionID string, role Role, content string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &ValidationError{Field: "sessionId", Reason: "is required"}
	}
	if role == "" {
		return &ValidationError{Field: "role", Reason: "is required"}
	}
	if !role.Valid() {
		return &ValidationError{Field: "role", Reason: "must be user or assistant"}
	}
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Field: "content", Reason: "is required"}
	}
	return nil
}
