package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/zhouzirui/z-relay/backend/internal/model/chat"
)

type sessionRow struct {
	ID        string `db:"id"`
	CreatedAt int64  `db:"created_at"`
	ExpiresAt int64  `db:"expires_at"`
	EndedAt   int64  `db:"ended_at"`
}

func (r sessionRow) toSession() chat.Session {
	s := chat.Session{
		ID:        r.ID,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		ExpiresAt: time.Unix(0, r.ExpiresAt).UTC(),
	}
	if r.EndedAt != 0 {
		s.EndedAt = time.Unix(0, r.EndedAt).UTC()
	}
	return s
}

// SessionStore implements chat.SessionStore on SQLite.
type SessionStore struct {
	db  *DB
	now chat.Clock
}

// NewSessionStore returns a SessionStore over db.
func NewSessionStore(db *DB, clock chat.Clock) *SessionStore {
	if clock == nil {
		clock = chat.SystemClock
	}
	return &SessionStore{db: db, now: clock}
}

func (s *SessionStore) Create(ctx context.Context, session chat.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, expires_at) VALUES (?, ?, ?)`,
		session.ID, session.CreatedAt.UnixNano(), session.ExpiresAt.UnixNano())

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return chat.ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (chat.Session, bool, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, created_at, expires_at, ended_at FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Session{}, false, nil
	}
	if err != nil {
		return chat.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	return row.toSession(), true, nil
}

func (s *SessionStore) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET expires_at = ? WHERE id = ? AND ended_at = 0`, expiresAt.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *SessionStore) MarkEnded(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at = 0`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *SessionStore) Sweep(ctx context.Context) ([]string, error) {
	now := s.now().UnixNano()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	defer tx.Rollback()

	var ids []string
	if err := tx.SelectContext(ctx, &ids, `SELECT id FROM sessions WHERE expires_at <= ?`, now); err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now); err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sweep sessions: %w", err)
	}
	return ids, nil
}
