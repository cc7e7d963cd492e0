// Package outbound defines the outbound port interfaces for reaching the
// remote identity provider and the local session persistence.
package outbound

import (
	"context"

	"github.com/lookym/authgate/internal/domain/auth"
)

// AuthClient is the outbound port for the remote identity provider.
// Adapters implement this for a concrete provider (GoTrue over HTTP, in-memory).
// Token format, password hashing and transport belong to the adapter.
type AuthClient interface {
	// SignInWithPassword exchanges credentials for a grant.
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Grant, error)

	// SignUp creates an account. The returned grant may carry a nil Session
	// when the provider defers session issuance (e.g. email confirmation).
	SignUp(ctx context.Context, email, password string) (*auth.Grant, error)

	// SignOut revokes the current session at the provider.
	SignOut(ctx context.Context) error

	// CurrentSession returns the session the provider considers current,
	// or nil when there is none.
	CurrentSession(ctx context.Context) (*auth.Session, error)

	// OnSessionChange registers listener for every session change the
	// provider observes (sign-in, refresh, sign-out, expiry). A nil session
	// means the user is no longer signed in.
	OnSessionChange(listener func(*auth.Session)) Subscription
}

// Subscription is returned by OnSessionChange.
type Subscription interface {
	// Unsubscribe stops delivery. Safe to call multiple times.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() { f() }
