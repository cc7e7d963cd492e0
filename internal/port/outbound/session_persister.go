package outbound

import (
	"context"

	"github.com/lookym/authgate/internal/domain/auth"
)

// SessionPersister stores the provider session between process runs.
// Implementations: JSON file, SQLite, in-memory (test).
type SessionPersister interface {
	// Load returns the persisted session, or nil when none is stored.
	Load(ctx context.Context) (*auth.Session, error)

	// Save replaces the persisted session.
	Save(ctx context.Context, sess *auth.Session) error

	// Clear removes any persisted session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
