package chat

import (
	"context"
	"sync"
	"time"
)

// MemorySessionStore implements SessionStore with a mutex-guarded map.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	now      Clock
}

// NewMemorySessionStore returns an empty MemorySessionStore.
func NewMemorySessionStore(clock Clock) *MemorySessionStore {
	if clock == nil {
		clock = SystemClock
	}
	return &MemorySessionStore{
		sessions: make(map[string]Session),
		now:      clock,
	}
}

func (s *MemorySessionStore) Create(_ context.Context, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return ErrSessionExists
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok, nil
}

func (s *MemorySessionStore) Touch(_ context.Context, id string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Ended() {
		return nil
	}
	session.ExpiresAt = expiresAt
	s.sessions[id] = session
	return nil
}

// MarkEnded keeps the record as a tombstone until it expires so late writes
// for the session can still be recognised and rejected.
func (s *MemorySessionStore) MarkEnded(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || session.Ended() {
		return nil
	}
	session.EndedAt = at
	s.sessions[id] = session
	return nil
}

func (s *MemorySessionStore) Sweep(_ context.Context) ([]string, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	return expired, nil
}
