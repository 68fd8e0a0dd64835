package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps session state in two tables. Pending logins are
// consumed with DELETE ... RETURNING so only one callback can claim them.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a store over db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the session tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pending_logins (
			session_id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL,
			reply_url TEXT NOT NULL,
			issued_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure session schema: %w", err)
	}
	return nil
}

// SavePendingLogin records the pre-redirect state, replacing any previous
// pending login for the session.
func (s *PostgresStore) SavePendingLogin(ctx context.Context, sessionID string, pending *PendingLogin, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_logins (session_id, context_id, reply_url, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE
		SET context_id = $2, reply_url = $3, issued_at = $4, expires_at = $5
	`, sessionID, pending.ContextID, pending.ReplyURL, pending.IssuedAt, time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to save pending login: %w", err)
	}
	return nil
}

// ConsumePendingLogin removes and returns the pending login atomically.
func (s *PostgresStore) ConsumePendingLogin(ctx context.Context, sessionID string) (*PendingLogin, error) {
	pending := &PendingLogin{}
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM pending_logins
		WHERE session_id = $1 AND expires_at > NOW()
		RETURNING context_id, reply_url, issued_at
	`, sessionID).Scan(&pending.ContextID, &pending.ReplyURL, &pending.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPendingLogin
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending login: %w", err)
	}
	return pending, nil
}

// MarkAuthenticated records the signed-in user for the session.
func (s *PostgresStore) MarkAuthenticated(ctx context.Context, sessionID string, userID int64, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, created_at, expires_at)
		VALUES ($1, $2, NOW(), $3)
		ON CONFLICT (session_id) DO UPDATE
		SET user_id = $2, expires_at = $3
	`, sessionID, userID, time.Now().UTC().Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to mark session authenticated: %w", err)
	}
	return nil
}

// AuthenticatedUser returns the user marked on the session, if any.
func (s *PostgresStore) AuthenticatedUser(ctx context.Context, sessionID string) (int64, bool, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read session: %w", err)
	}
	return userID, true, nil
}

// Clear removes all state for the session.
func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to clear pending login: %w", err)
	}
	return nil
}

// CleanupExpired removes expired sessions and pending logins, returning the
// number of rows deleted.
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	var total int64
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	total += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM pending_logins WHERE expires_at < NOW()`)
	if err != nil {
		return total, fmt.Errorf("failed to sweep pending logins: %w", err)
	}
	n, _ = res.RowsAffected()
	return total + n, nil
}
