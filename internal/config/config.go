// Package config provides configuration types for authgate.
//
// A provider URL and anon key are required unless dev mode is on, in which
// case an in-process provider with a seeded account stands in for the
// remote one.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Storage backends for the persisted session.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Dev mode seeds this account into the in-process provider.
const (
	DevUserEmail    = "dev@example.com"
	DevUserPassword = "dev-password"
)

// Config is the top-level configuration for authgate.
type Config struct {
	// Provider configures the remote GoTrue-compatible auth provider.
	Provider ProviderConfig `yaml:"provider" mapstructure:"provider"`

	// Auth configures the auth operations and token refresh.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Session configures the session store.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Storage configures where the session is persisted between runs.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Routes maps the route groups to navigation paths.
	Routes RoutesConfig `yaml:"routes" mapstructure:"routes"`

	// Server configures the watch-mode HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Telemetry configures the OpenTelemetry exporters.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"oneof=debug info warn error"`

	// DevMode uses the in-process provider and debug logging.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ProviderConfig configures the remote auth provider.
type ProviderConfig struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	// Falls back to SUPABASE_URL.
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
	// AnonKey is the public API key sent as the apikey header.
	// Falls back to SUPABASE_ANON_KEY.
	AnonKey string `yaml:"anon_key" mapstructure:"anon_key"`
	// Timeout bounds each provider request. Default: "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"duration"`
}

// AuthConfig configures auth operations and token refresh.
type AuthConfig struct {
	// SignOutPolicy is what happens locally when the provider rejects a
	// sign-out: "retain" keeps the session, "clear" drops it. Default: retain.
	SignOutPolicy string `yaml:"signout_policy" mapstructure:"signout_policy" validate:"oneof=retain clear"`
	// AutoRefresh refreshes the access token before it expires. Default: true.
	AutoRefresh bool `yaml:"auto_refresh" mapstructure:"auto_refresh"`
	// RefreshMargin is how long before expiry to refresh. Default: "60s".
	RefreshMargin string `yaml:"refresh_margin" mapstructure:"refresh_margin" validate:"duration"`
	// RetryInterval is the wait after a failed refresh. Default: "5s".
	RetryInterval string `yaml:"retry_interval" mapstructure:"retry_interval" validate:"duration"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	// SuppressStaleResults drops a local operation result when a provider
	// notification arrived after the operation started. Default: false.
	SuppressStaleResults bool `yaml:"suppress_stale_results" mapstructure:"suppress_stale_results"`
	// QueueSize is the store's request buffer. Default: 64.
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size" validate:"min=1"`
}

// StorageConfig configures session persistence.
type StorageConfig struct {
	// Backend is file, sqlite or memory. Default: file.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=file sqlite memory"`
	// Path is the session file or database. Default: ~/.authgate/session.json
	// for file and ~/.authgate/session.db for sqlite.
	Path string `yaml:"path" mapstructure:"path"`
}

// RoutesConfig maps route groups to paths.
type RoutesConfig struct {
	Protected string `yaml:"protected" mapstructure:"protected" validate:"startswith=/"`
	Public    string `yaml:"public" mapstructure:"public" validate:"startswith=/"`
}

// ServerConfig configures the watch-mode HTTP listener.
type ServerConfig struct {
	// Addr is the listen address. Empty disables the listener.
	Addr string `yaml:"addr" mapstructure:"addr" validate:"omitempty,hostname_port"`
	// AllowedOrigins lists browser origins allowed to read /state.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins" validate:"omitempty,dive,url"`
}

// TelemetryConfig configures the OpenTelemetry exporters.
type TelemetryConfig struct {
	TraceStdout    bool   `yaml:"trace_stdout" mapstructure:"trace_stdout"`
	MetricsStdout  bool   `yaml:"metrics_stdout" mapstructure:"metrics_stdout"`
	MetricInterval string `yaml:"metric_interval" mapstructure:"metric_interval" validate:"duration"`
}

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Provider.URL == "" {
		c.Provider.URL = os.Getenv("SUPABASE_URL")
	}
	if c.Provider.AnonKey == "" {
		c.Provider.AnonKey = os.Getenv("SUPABASE_ANON_KEY")
	}
	if c.Provider.Timeout == "" {
		c.Provider.Timeout = "10s"
	}

	if c.Auth.SignOutPolicy == "" {
		c.Auth.SignOutPolicy = "retain"
	}
	// viper.IsSet distinguishes "not set" from an explicit false.
	if !viper.IsSet("auth.auto_refresh") {
		c.Auth.AutoRefresh = true
	}
	if c.Auth.RefreshMargin == "" {
		c.Auth.RefreshMargin = "60s"
	}
	if c.Auth.RetryInterval == "" {
		c.Auth.RetryInterval = "5s"
	}

	if c.Session.QueueSize == 0 {
		c.Session.QueueSize = 64
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageFile
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaultStoragePath(c.Storage.Backend)
	}

	if c.Routes.Protected == "" {
		c.Routes.Protected = "/(main)"
	}
	if c.Routes.Public == "" {
		c.Routes.Public = "/(auth)"
	}

	if c.Telemetry.MetricInterval == "" {
		c.Telemetry.MetricInterval = "30s"
	}
}

// SetDevDefaults applies dev-mode overrides. Call after flags have set
// DevMode and before Validate.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.LogLevel = "debug"
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:9464"
	}
}

// UsesDevProvider reports whether the in-process provider replaces the
// remote one.
func (c *Config) UsesDevProvider() bool {
	return c.DevMode && c.Provider.URL == ""
}

func defaultStoragePath(backend string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch backend {
	case StorageSQLite:
		return filepath.Join(home, ".authgate", "session.db")
	case StorageMemory:
		return ""
	default:
		return filepath.Join(home, ".authgate", "session.json")
	}
}
