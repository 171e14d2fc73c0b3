package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

type messageRow struct {
	Seq       int64  `db:"seq"`
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	Role      string `db:"role"`
	Content   string `db:"content"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
}

func (r messageRow) toMessage() chat.Message {
	return chat.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      chat.Role(r.Role),
		Content:   r.Content,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		ExpiresAt: time.Unix(0, r.ExpiresAt).UTC(),
		Seq:       r.Seq,
	}
}

// MessageStore implements chat.MessageStore on SQLite.
type MessageStore struct {
	db  *DB
	ttl time.Duration
	now chat.Clock
}

// NewMessageStore returns a store whose messages live for ttl.
func NewMessageStore(db *DB, ttl time.Duration, clock chat.Clock) *MessageStore {
	if ttl <= 0 {
		ttl = chat.DefaultTTL
	}
	if clock == nil {
		clock = chat.SystemClock
	}
	return &MessageStore{db: db, ttl: ttl, now: clock}
}

func (s *MessageStore) Append(ctx context.Context, sessionID string, role chat.Role, content string) (chat.Message, error) {
	if err := chat.ValidateMessage(sessionID, role, content); err != nil {
		return chat.Message{}, err
	}

	now := s.now()
	row := messageRow{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      string(role),
		Content:   content,
		CreatedAt: now.UnixNano(),
		ExpiresAt: now.Add(s.ttl).UnixNano(),
	}

	res, err := s.db.NamedExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, created_at, expires_at)
		 VALUES (:id, :session_id, :role, :content, :created_at, :expires_at)`, row)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}
	if row.Seq, err = res.LastInsertId(); err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	return row.toMessage(), nil
}

func (s *MessageStore) ListBySession(ctx context.Context, sessionID string) ([]chat.Message, error) {
	rows := make([]messageRow, 0)
	err := s.db.SelectContext(ctx, &rows,
		`SELECT seq, id, session_id, role, content, created_at, expires_at
		 FROM messages
		 WHERE session_id = ? AND expires_at > ?
		 ORDER BY created_at ASC, seq ASC`, sessionID, s.now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]chat.Message, 0, len(rows))
	for _, r := range rows {
		messages = append(messages, r.toMessage())
	}
	return messages, nil
}

func (s *MessageStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *MessageStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
