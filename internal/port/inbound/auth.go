// Package inbound defines the inbound port interfaces for the auth core.
// Inbound adapters (CLI, HTTP) call these interfaces.
package inbound

import (
	"context"

	"github.com/lookym/authgate/internal/domain/auth"
)

// AuthOperations is the inbound port for user-initiated auth actions.
// Failures are returned as *auth.Error and never change the route on their own.
type AuthOperations interface {
	SignIn(ctx context.Context, email, password string) (*auth.User, error)
	SignUp(ctx context.Context, email, password string) (*auth.User, error)
	SignOut(ctx context.Context) error
}

// StateReader exposes the current auth state and its transitions.
type StateReader interface {
	// State returns a snapshot of the current state.
	State() auth.State

	// Subscribe registers listener for every transition and returns an
	// idempotent unsubscribe function.
	Subscribe(listener func(auth.State)) (unsubscribe func())
}
