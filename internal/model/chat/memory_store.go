package chat

import (
	"context"
	"hash/fnv"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const shardCount = 32

type messageShard struct {
	mu       sync.RWMutex
	messages map[string][]Message
}

// MemoryMessageStore implements MessageStore in process memory. Sessions are
// spread over shards so concurrent sessions never share a lock.
type MemoryMessageStore struct {
	shards [shardCount]*messageShard
	ttl    time.Duration
	now    Clock
	seq    atomic.Int64
}

// NewMemoryMessageStore builds a store whose messages live for ttl.
func NewMemoryMessageStore(ttl time.Duration, clock Clock) *MemoryMessageStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = SystemClock
	}

	s := &MemoryMessageStore{ttl: ttl, now: clock}
	for i := range s.shards {
		s.shards[i] = &messageShard{messages: make(map[string][]Message)}
	}
	return s
}

func (s *MemoryMessageStore) shard(sessionID string) *messageShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return s.shards[h.Sum32()%shardCount]
}

// Append stores a message and makes it visible to the next read.
func (s *MemoryMessageStore) Append(_ context.Context, sessionID string, role Role, content string) (Message, error) {
	if err := ValidateMessage(sessionID, role, content); err != nil {
		return Message{}, err
	}

	now := s.now()
	message := Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
		Seq:       s.seq.Add(1),
	}

	sh := s.shard(sessionID)
	sh.mu.Lock()
	sh.messages[sessionID] = append(sh.messages[sessionID], message)
	sh.mu.Unlock()

	return message, nil
}

// ListBySession returns the live messages of a session, oldest first.
func (s *MemoryMessageStore) ListBySession(_ context.Context, sessionID string) ([]Message, error) {
	now := s.now()
	sh := s.shard(sessionID)

	sh.mu.RLock()
	stored := sh.messages[sessionID]
	result := make([]Message, 0, len(stored))
	for _, m := range stored {
		if !m.Expired(now) {
			result = append(result, m)
		}
	}
	sh.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b Message) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
	return result, nil
}

// DeleteBySession drops every message of a session, expired or not.
func (s *MemoryMessageStore) DeleteBySession(_ context.Context, sessionID string) (int, error) {
	sh := s.shard(sessionID)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	n := len(sh.messages[sessionID])
	delete(sh.messages, sessionID)
	return n, nil
}

// Sweep drops expired messages, one shard at a time.
func (s *MemoryMessageStore) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	removed := 0

	for _, sh := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		sh.mu.Lock()
		for id, stored := range sh.messages {
			kept := stored[:0]
			for _, m := range stored {
				if m.Expired(now) {
					removed++
					continue
				}
				kept = append(kept, m)
			}
			if len(kept) == 0 {
				delete(sh.messages, id)
			} else {
				sh.messages[id] = kept
			}
		}
		sh.mu.Unlock()
	}

	return removed, nil
}
