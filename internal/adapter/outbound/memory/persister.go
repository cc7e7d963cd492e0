// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/outbound"
)

// Persister implements outbound.SessionPersister with a single in-memory
// slot. Thread-safe for concurrent access. For development/testing only.
type Persister struct {
	mu      sync.RWMutex
	session *auth.Session
	saves   int
}

// NewPersister creates an empty Persister.
func NewPersister() *Persister {
	return &Persister{}
}

// Load returns the saved session, or nil if none is saved.
func (p *Persister) Load(ctx context.Context) (*auth.Session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copySession(p.session), nil
}

// Save replaces the saved session.
func (p *Persister) Save(ctx context.Context, sess *auth.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Store a copy to prevent external mutation
	p.session = copySession(sess)
	p.saves++
	return nil
}

// Clear removes the saved session.
func (p *Persister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = nil
	return nil
}

// Saves returns how many times Save was called.
// Useful for testing persistence behavior.
func (p *Persister) Saves() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.saves
}

// copySession creates a copy of a session. Session holds no references,
// so a shallow copy is deep.
func copySession(sess *auth.Session) *auth.Session {
	if sess == nil {
		return nil
	}
	cp := *sess
	return &cp
}

// Compile-time interface verification.
var _ outbound.SessionPersister = (*Persister)(nil)
