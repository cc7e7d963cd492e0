// Package auth contains the domain types for the client-side authentication state.
package auth

import (
	"errors"
	"time"
)

// User identifies the authenticated principal.
type User struct {
	// ID is the stable identifier assigned by the identity provider.
	ID string `json:"id"`
	// Email is provider-dependent and may be empty.
	Email string `json:"email,omitempty"`
}

// Session is an authentication grant issued by the identity provider.
// A Session is never mutated after NewSession returns; a changed grant is a
// new Session.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	User         User      `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

var errMissingUser = errors.New("session requires a user id")

// NewSession builds a Session. The user id is required.
func NewSession(user User, accessToken, refreshToken string, issuedAt, expiresAt time.Time) (*Session, error) {
	if user.ID == "" {
		return nil, errMissingUser
	}
	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User:         user,
		IssuedAt:     issuedAt.UTC(),
		ExpiresAt:    expiresAt.UTC(),
	}, nil
}

// Expired reports whether the session is past its expiry at now.
// A zero ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Grant is the result of a successful sign-in or sign-up.
type Grant struct {
	User User
	// Session is nil when the provider created the account but has not
	// issued a session yet (for example, pending email confirmation).
	Session *Session
}

// Status is the three-valued summary of session presence.
type Status int

const (
	// StatusUnknown is the initial value; no determination has been made.
	StatusUnknown Status = iota
	// StatusAuthenticated means a valid session is present.
	StatusAuthenticated
	// StatusUnauthenticated means there is no active session.
	StatusUnauthenticated
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// State is the value held by the session store.
type State struct {
	Status Status
	// Session is non-nil iff Status is StatusAuthenticated.
	Session *Session
	// Version increases by one on every applied transition.
	Version uint64
}

// Known reports whether the initial determination has been made.
func (s State) Known() bool {
	return s.Status != StatusUnknown
}

// User returns the signed-in user, or nil when not authenticated.
func (s State) User() *User {
	if s.Status != StatusAuthenticated || s.Session == nil {
		return nil
	}
	u := s.Session.User
	return &u
}

// Authenticated returns a State holding sess.
func Authenticated(sess *Session) State {
	return State{Status: StatusAuthenticated, Session: sess}
}

// Unauthenticated returns a State with no session.
func Unauthenticated() State {
	return State{Status: StatusUnauthenticated}
}
