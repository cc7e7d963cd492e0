// Package sqlite provides a SQLite-backed session persister.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lookym/authgate/internal/adapter/outbound/sqlite/migrations"
	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/outbound"
)

// Store persists the session in a single-row SQLite table.
type Store struct {
	db *sql.DB
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite session store and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns the stored session, or nil if none is stored.
func (s *Store) Load(ctx context.Context) (*auth.Session, error) {
	var (
		sess               auth.Session
		issuedAt, expireAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, access_token, refresh_token, token_type, issued_at, expires_at
		   FROM sessions WHERE slot = 1`,
	).Scan(&sess.User.ID, &sess.User.Email, &sess.AccessToken, &sess.RefreshToken, &sess.TokenType, &issuedAt, &expireAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.IssuedAt = fromMillis(issuedAt)
	sess.ExpiresAt = fromMillis(expireAt)
	return &sess, nil
}

// Save replaces the stored session. A nil session is the same as Clear.
func (s *Store) Save(ctx context.Context, sess *auth.Session) error {
	if sess == nil {
		return s.Clear(ctx)
	}
	if sess.User.ID == "" {
		return fmt.Errorf("session user id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (
		   slot, user_id, email, access_token, refresh_token, token_type, issued_at, expires_at, updated_at
		 ) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET
		   user_id = excluded.user_id,
		   email = excluded.email,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_type = excluded.token_type,
		   issued_at = excluded.issued_at,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		sess.User.ID,
		sess.User.Email,
		sess.AccessToken,
		sess.RefreshToken,
		sess.TokenType,
		toMillis(sess.IssuedAt),
		toMillis(sess.ExpiresAt),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// Clear removes the stored session.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

var _ outbound.SessionPersister = (*Store)(nil)
