package gotrue

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/lookym/authgate/internal/port/outbound"
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client for making requests.
// This is useful for testing, proxying, or custom transport configurations.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP request timeout.
// If not set, defaults to 10 seconds. Ignored when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithPersister stores the session across restarts. Without it the session
// lives only as long as the Client.
func WithPersister(p outbound.SessionPersister) Option {
	return func(c *Client) {
		c.persister = p
	}
}

// WithAutoRefresh enables or disables the background token refresh.
// Enabled by default.
func WithAutoRefresh(enabled bool) Option {
	return func(c *Client) {
		c.autoRefresh = enabled
	}
}

// WithRefreshMargin sets how long before expiry the session is refreshed.
// If not set, defaults to 60 seconds.
func WithRefreshMargin(d time.Duration) Option {
	return func(c *Client) {
		c.refreshMargin = d
	}
}

// WithRetryInterval sets the delay before retrying a refresh that failed
// for a transient reason. If not set, defaults to 5 seconds.
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = d
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
