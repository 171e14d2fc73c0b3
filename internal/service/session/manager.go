package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

// Config tunes session lifetime.
type Config struct {
	TTL time.Duration
	// Rolling renews the expiry on every successful resolve instead of
	// counting from creation.
	Rolling bool
	Clock   chat.Clock
}

// Manager issues, validates and tears down sessions. Ending a session
// cascades to the message store.
type Manager struct {
	sessions chat.SessionStore
	messages chat.MessageStore
	ttl      time.Duration
	rolling  bool
	now      chat.Clock
}

// NewManager wires a Manager over the given stores.
func NewManager(sessions chat.SessionStore, messages chat.MessageStore, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = chat.DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = chat.SystemClock
	}
	return &Manager{
		sessions: sessions,
		messages: messages,
		ttl:      cfg.TTL,
		rolling:  cfg.Rolling,
		now:      cfg.Clock,
	}
}

// Resolve returns the session named by token when it is still active.
// Anything else, including malformed, expired, ended or unknown tokens,
// results in a freshly minted session; minted reports which case applied.
func (m *Manager) Resolve(ctx context.Context, token string) (session chat.Session, minted bool, err error) {
	token = strings.TrimSpace(token)
	if _, parseErr := uuid.Parse(token); token != "" && parseErr == nil {
		existing, ok, err := m.sessions.Get(ctx, token)
		if err != nil {
			log.Printf("[session] lookup failed for %s, minting new session: %v", token, err)
		} else if ok && existing.Active(m.now()) {
			if m.rolling {
				existing.ExpiresAt = m.now().Add(m.ttl)
				if err := m.sessions.Touch(ctx, existing.ID, existing.ExpiresAt); err != nil {
					log.Printf("[session] failed to renew %s: %v", existing.ID, err)
				}
			}
			return existing, false, nil
		}
	}

	session, err = m.Issue(ctx)
	if err != nil {
		return chat.Session{}, false, err
	}
	return session, true, nil
}

// Issue always mints a new session.
func (m *Manager) Issue(ctx context.Context) (chat.Session, error) {
	now := m.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.sessions.Create(ctx, session); err != nil {
		return chat.Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Active reports whether id names a live session.
func (m *Manager) Active(ctx context.Context, id string) bool {
	session, ok, err := m.sessions.Get(ctx, id)
	if err != nil || !ok {
		return false
	}
	return session.Active(m.now())
}

// End invalidates the session and deletes its messages. Ending an unknown or
// already ended session is not an error. The session is tombstoned before
// the delete so that concurrent appends observe it as ended.
func (m *Manager) End(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	markErr := m.sessions.MarkEnded(ctx, id, m.now())
	if markErr != nil {
		markErr = fmt.Errorf("mark ended: %w", markErr)
	}

	deleted, err := m.messages.DeleteBySession(ctx, id)
	if err != nil {
		err = fmt.Errorf("delete messages: %w", err)
	}
	if err := errors.Join(markErr, err); err != nil {
		return &chat.TeardownError{SessionID: id, Err: err}
	}

	log.Printf("[session] ended session=%s, deleted %d messages", id, deleted)
	return nil
}

// Sweep removes expired sessions and any messages they still own.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.sessions.Sweep(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}

	var errs []error
	for _, id := range expired {
		if _, err := m.messages.DeleteBySession(ctx, id); err != nil {
			errs = append(errs, &chat.TeardownError{SessionID: id, Err: err})
		}
	}
	return len(expired), errors.Join(errs...)
}
