package chat

import "time"

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a conversation may contain.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is a single conversation turn owned by a session. Messages are
// never mutated after they are stored.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
	Seq       int64     `json:"-"`
}

// Expired reports whether the message is past its TTL at now.
func (m Message) Expired(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Before orders messages by creation time, falling back to insertion order.
func (m Message) Before(other Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.Seq < other.Seq
	}
	return m.CreatedAt.Before(other.CreatedAt)
}
