// Package state provides file-based persistence for the auth session.
//
// The session file holds the tokens of the signed-in user so a restart
// does not sign them out. This package provides atomic writes and file
// locking so several processes can share one session file.
package state

import (
	"time"

	"github.com/lookym/authgate/internal/domain/auth"
)

// fileVersion is the current on-disk schema version.
const fileVersion = "1"

// sessionFile is the structure persisted in the session file.
type sessionFile struct {
	// Version is the schema version for forward compatibility.
	Version string `json:"version"`

	// Session is the persisted session.
	Session *auth.Session `json:"session"`

	// UpdatedAt is when the file was last written.
	UpdatedAt time.Time `json:"updated_at"`
}
