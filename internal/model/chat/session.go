package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}

// Ended reports whether the session was explicitly torn down.
func (s Session) Ended() bool {
	return !s.EndedAt.IsZero()
}

// Active reports whether the session can still be used at now.
func (s Session) Active(now time.Time) bool {
	return !s.Ended() && now.Before(s.ExpiresAt)
}
