package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lookym/authgate/internal/app"
	"github.com/lookym/authgate/internal/config"
	"github.com/lookym/authgate/internal/domain/auth"
)

// loadConfig reads the config, applies the --dev flag and validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startApp loads config, wires the app and resolves the initial state.
// The caller must Close the returned app.
func startApp(ctx context.Context, cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	if file := config.ConfigFileUsed(); file != "" {
		logger.Debug("loaded config", "file", file)
	}

	a, err := app.New(ctx, cfg, logger, app.WithVersion(Version))
	if err != nil {
		return nil, err
	}
	if err := a.Initialize(ctx); err != nil {
		// The state is resolved to signed out; keep going so commands can
		// still report it.
		logger.Warn("could not determine the current session", "error", err)
	}
	return a, nil
}

// userError rewrites an auth failure into a message for the terminal.
func userError(err error) error {
	var aerr *auth.Error
	if !errors.As(err, &aerr) {
		return err
	}
	switch aerr.Kind {
	case auth.KindInvalidInput:
		return fmt.Errorf("invalid input: %s", aerr.Message)
	case auth.KindInvalidCredentials:
		if aerr.Message != "" {
			return fmt.Errorf("sign-in rejected: %s", aerr.Message)
		}
		return errors.New("sign-in rejected: invalid email or password")
	case auth.KindAlreadyRegistered:
		return errors.New("an account with this email already exists")
	case auth.KindNetworkFailure:
		return fmt.Errorf("could not reach the auth provider: %w", err)
	default:
		return fmt.Errorf("auth provider error: %w", err)
	}
}

// readPassword returns flagValue, or the first line of in when the flag is
// empty.
func readPassword(flagValue string, in io.Reader) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
