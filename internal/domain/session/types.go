// Package session holds the single authoritative client-side auth state and
// arbitrates the concurrent writers that update it.
package session

import (
	"errors"

	"github.com/lookym/authgate/internal/domain/auth"
)

// ErrClosed is returned by Store methods called after Close.
var ErrClosed = errors.New("session store closed")

// Source identifies what triggered a write.
type Source string

const (
	// SourceInit is the initial provider query made by Initialize.
	SourceInit Source = "init"
	// SourceExternal is a provider session-change notification.
	SourceExternal Source = "external"
	// SourceLocal is the completion of a local sign-in/sign-up/sign-out.
	SourceLocal Source = "local"
)

// ResultKind is the outcome of a local auth operation.
type ResultKind int

const (
	// ResultFailed leaves the state unchanged.
	ResultFailed ResultKind = iota
	// ResultSignedIn authenticates with the attached session, if any.
	ResultSignedIn
	// ResultSignedOut clears the session.
	ResultSignedOut
)

// String returns the lowercase name of the result kind.
func (k ResultKind) String() string {
	switch k {
	case ResultSignedIn:
		return "signed_in"
	case ResultSignedOut:
		return "signed_out"
	default:
		return "failed"
	}
}

// Ticket marks when a local operation started, relative to the provider
// notifications the store has applied. The zero Ticket is never stale.
type Ticket struct {
	seq   uint64
	valid bool
}

// LocalResult is what the auth facade reports to the store when an
// operation completes.
type LocalResult struct {
	Kind ResultKind
	// Session is set for ResultSignedIn. A nil session means the provider
	// accepted the operation without issuing a session yet.
	Session *auth.Session
	// Ticket is optional; see Store.Ticket.
	Ticket Ticket
	// Err is set for ResultFailed.
	Err error
}

// SignedIn returns a successful sign-in/sign-up result.
func SignedIn(sess *auth.Session) LocalResult {
	return LocalResult{Kind: ResultSignedIn, Session: sess}
}

// SignedOut returns a successful sign-out result.
func SignedOut() LocalResult {
	return LocalResult{Kind: ResultSignedOut}
}

// Failed returns a failure result carrying err.
func Failed(err error) LocalResult {
	return LocalResult{Kind: ResultFailed, Err: err}
}

// WithTicket returns a copy of r tagged with t.
func (r LocalResult) WithTicket(t Ticket) LocalResult {
	r.Ticket = t
	return r
}

// Observer receives a callback for every applied transition and every
// write the store decided not to apply. Implementations must be fast and
// must not call back into the Store.
type Observer interface {
	ObserveTransition(from, to auth.State, source Source)
	ObserveDropped(source Source, reason string)
}
