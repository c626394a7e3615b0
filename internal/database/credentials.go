package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/session"
)

// CredentialStore persists the session in SQLite.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore returns a session.Store backed by db.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

var _ session.Store = (*CredentialStore)(nil)

// Load returns the stored credentials or nil when there are none.
func (s *CredentialStore) Load(ctx context.Context) (*session.Credentials, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, COALESCE(user_id, ''), COALESCE(expires_hint, '')
		FROM session_credentials
		WHERE id = 1`)

	var c session.Credentials
	if err := row.Scan(&c.AccessToken, &c.RefreshToken, &c.UserID, &c.ExpiresHint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return &c, nil
}

// Save replaces the stored credentials.
func (s *CredentialStore) Save(ctx context.Context, c *session.Credentials) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_credentials (id, access_token, refresh_token, user_id, expires_hint, updated_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			user_id = excluded.user_id,
			expires_hint = excluded.expires_hint,
			updated_at = excluded.updated_at`,
		c.AccessToken, c.RefreshToken, c.UserID, c.ExpiresHint, time.Now())
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Clear removes tokens and identity in one transaction.
func (s *CredentialStore) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_credentials`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear credentials: %w", err)
	}
	return tx.Commit()
}
