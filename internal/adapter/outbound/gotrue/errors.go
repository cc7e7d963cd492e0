package gotrue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lookym/authgate/internal/domain/auth"
)

// errorResponse covers both the current and the legacy GoTrue error bodies.
type errorResponse struct {
	Code             int    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r errorResponse) text() string {
	for _, s := range []string{r.Msg, r.Message, r.ErrorDescription, r.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

var (
	credentialCodes = map[string]bool{
		"invalid_credentials": true,
		"email_not_confirmed": true,
	}
	duplicateCodes = map[string]bool{
		"user_already_exists": true,
		"email_exists":        true,
	}
	inputCodes = map[string]bool{
		"validation_failed":     true,
		"weak_password":         true,
		"email_address_invalid": true,
	}
)

// apiError converts a non-2xx response into an *auth.Error.
func apiError(op string, status int, body []byte) *auth.Error {
	var resp errorResponse
	_ = json.Unmarshal(body, &resp)

	msg := resp.text()
	if msg == "" {
		msg = http.StatusText(status)
	}
	lower := strings.ToLower(msg)

	kind := auth.KindProviderFailure
	switch {
	case credentialCodes[resp.ErrorCode], strings.Contains(lower, "invalid login credentials"):
		kind = auth.KindInvalidCredentials
	case duplicateCodes[resp.ErrorCode], strings.Contains(lower, "already registered"):
		kind = auth.KindAlreadyRegistered
	case inputCodes[resp.ErrorCode]:
		kind = auth.KindInvalidInput
	}
	return auth.NewError(op, kind, msg, &statusError{status: status, code: resp.ErrorCode})
}

// statusError keeps the HTTP status behind an *auth.Error.
type statusError struct {
	status int
	code   string
}

func (e *statusError) Error() string {
	if e.code != "" {
		return http.StatusText(e.status) + " (" + e.code + ")"
	}
	return http.StatusText(e.status)
}

// sessionRejected reports whether a refresh failed because the refresh
// token is no longer accepted, as opposed to a transient failure.
func sessionRejected(err error) bool {
	var ae *auth.Error
	if !errors.As(err, &ae) || ae.Kind == auth.KindNetworkFailure {
		return false
	}
	se, ok := ae.Err.(*statusError)
	return ok && se.status >= 400 && se.status < 500 && se.status != http.StatusTooManyRequests
}

// signOutGone reports whether a logout failed only because the provider no
// longer knows the session, which counts as signed out.
func signOutGone(err error) bool {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		return false
	}
	se, ok := ae.Err.(*statusError)
	if !ok {
		return false
	}
	switch se.status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
