package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure.
type Kind string

const (
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindAlreadyRegistered  Kind = "already_registered"
	KindNetworkFailure     Kind = "network_failure"
	KindProviderFailure    Kind = "provider_failure"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrInvalidInput is returned when an email or password fails validation
	// before the provider is contacted.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidCredentials is returned when the provider rejects a sign-in.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAlreadyRegistered is returned when sign-up hits an existing account.
	ErrAlreadyRegistered = errors.New("already registered")

	// ErrNetworkFailure is returned when the provider cannot be reached. Safe to retry.
	ErrNetworkFailure = errors.New("network failure")

	// ErrProviderFailure is returned for any other provider-side failure.
	ErrProviderFailure = errors.New("provider failure")
)

var sentinels = map[Kind]error{
	KindInvalidInput:       ErrInvalidInput,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindAlreadyRegistered:  ErrAlreadyRegistered,
	KindNetworkFailure:     ErrNetworkFailure,
	KindProviderFailure:    ErrProviderFailure,
}

// Error is the typed failure returned by auth operations.
type Error struct {
	// Op is the operation that failed ("sign_in", "sign_up", "sign_out", "session").
	Op string
	// Kind classifies the failure.
	Kind Kind
	// Message is a human-readable reason suitable for display.
	Message string
	// Err is the underlying error, if any.
	Err error
}

// NewError builds an *Error.
func NewError(op string, kind Kind, msg string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: msg, Err: err}
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// KindOf returns the Kind of err. Errors that are not *Error map to
// KindProviderFailure.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindProviderFailure
}
