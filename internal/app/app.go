// Package app wires the configured provider, persistence, session store,
// auth service and metrics into one unit for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpin "github.com/lookym/authgate/internal/adapter/inbound/http"
	"github.com/lookym/authgate/internal/adapter/outbound/gotrue"
	"github.com/lookym/authgate/internal/adapter/outbound/memory"
	"github.com/lookym/authgate/internal/adapter/outbound/sqlite"
	"github.com/lookym/authgate/internal/adapter/outbound/state"
	"github.com/lookym/authgate/internal/config"
	"github.com/lookym/authgate/internal/domain/route"
	"github.com/lookym/authgate/internal/domain/session"
	"github.com/lookym/authgate/internal/port/outbound"
	"github.com/lookym/authgate/internal/service"
	"github.com/lookym/authgate/internal/telemetry"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Registry  *prometheus.Registry
	Metrics   *httpin.Metrics
	Persister outbound.SessionPersister
	Client    outbound.AuthClient
	Store     *session.Store
	Auth      *service.AuthService

	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	version string
	client  outbound.AuthClient
}

// WithVersion sets the version reported to telemetry.
func WithVersion(v string) Option {
	return func(o *options) {
		o.version = v
	}
}

// WithAuthClient replaces the provider built from config.
func WithAuthClient(c outbound.AuthClient) Option {
	return func(o *options) {
		o.client = c
	}
}

// New builds an App from a validated config. The store is created but not
// initialized; call Initialize before reading its state.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts []Option) (err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg, logger := a.Config, a.Logger

	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "authgate",
		Version:        o.version,
		TraceStdout:    cfg.Telemetry.TraceStdout,
		MetricsStdout:  cfg.Telemetry.MetricsStdout,
		MetricInterval: config.Duration(cfg.Telemetry.MetricInterval, telemetry.DefaultMetricInterval),
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	a.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = httpin.NewMetrics(a.Registry)

	if o.client != nil {
		a.Client = o.client
	} else {
		if a.Persister, err = a.openPersister(ctx); err != nil {
			return err
		}
		if a.Client, err = a.buildClient(ctx); err != nil {
			return err
		}
	}

	a.Store = session.New(a.Client,
		session.WithLogger(logger),
		session.WithObserver(a.Metrics),
		session.WithStaleSuppression(cfg.Session.SuppressStaleResults),
		session.WithQueueSize(cfg.Session.QueueSize),
	)
	a.onClose(func() error {
		a.Store.Close()
		return nil
	})

	a.Auth = service.NewAuthService(a.Client, a.Store, logger,
		service.WithSignOutPolicy(service.SignOutPolicy(cfg.Auth.SignOutPolicy)),
		service.WithOperationRecorder(a.Metrics),
	)
	return nil
}

func (a *App) openPersister(ctx context.Context) (outbound.SessionPersister, error) {
	switch a.Config.Storage.Backend {
	case config.StorageMemory:
		return memory.NewPersister(), nil
	case config.StorageSQLite:
		store, err := sqlite.Open(ctx, a.Config.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		a.onClose(store.Close)
		return store, nil
	default:
		return state.NewFileSessionStore(a.Config.Storage.Path, a.Logger), nil
	}
}

func (a *App) buildClient(ctx context.Context) (outbound.AuthClient, error) {
	cfg := a.Config
	if cfg.UsesDevProvider() {
		client := memory.NewAuthClient(
			memory.WithSessionPersister(a.Persister),
			memory.WithClientLogger(a.Logger),
		)
		if _, err := client.AddUser(config.DevUserEmail, config.DevUserPassword); err != nil {
			return nil, fmt.Errorf("seed dev user: %w", err)
		}
		client.StartExpiry(context.WithoutCancel(ctx))
		a.onClose(func() error {
			client.Stop()
			return nil
		})
		a.Logger.Info("using in-process dev provider", "email", config.DevUserEmail)
		return client, nil
	}

	client, err := gotrue.New(cfg.Provider.URL, cfg.Provider.AnonKey,
		gotrue.WithTimeout(config.Duration(cfg.Provider.Timeout, 10*time.Second)),
		gotrue.WithPersister(a.Persister),
		gotrue.WithAutoRefresh(cfg.Auth.AutoRefresh),
		gotrue.WithRefreshMargin(config.Duration(cfg.Auth.RefreshMargin, time.Minute)),
		gotrue.WithRetryInterval(config.Duration(cfg.Auth.RetryInterval, 5*time.Second)),
		gotrue.WithLogger(a.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create provider client: %w", err)
	}
	a.onClose(func() error {
		client.Close()
		return nil
	})
	return client, nil
}

// Initialize resolves the initial auth state. A provider failure still
// resolves the state (to unauthenticated) and is returned for reporting.
func (a *App) Initialize(ctx context.Context) error {
	return a.Store.Initialize(ctx)
}

// Routes returns the configured route paths.
func (a *App) Routes() route.Routes {
	return route.Routes{
		Protected: a.Config.Routes.Protected,
		Public:    a.Config.Routes.Public,
	}
}

// NewGuard attaches a route guard to the store.
func (a *App) NewGuard(nav route.Navigator) *route.Guard {
	return route.NewGuard(a.Store, nav,
		route.WithRoutes(a.Routes()),
		route.WithLogger(a.Logger),
	)
}

// NewServer builds the watch-mode HTTP server over the store and guard.
// guard must not be nil.
func (a *App) NewServer(guard *route.Guard, version string) *httpin.Server {
	return httpin.NewServer(a.Store, guard,
		httpin.WithAddr(a.Config.Server.Addr),
		httpin.WithAllowedOrigins(a.Config.Server.AllowedOrigins),
		httpin.WithLogger(a.Logger),
		httpin.WithMetrics(a.Metrics, a.Registry),
		httpin.WithHealthChecker(httpin.NewHealthChecker(a.Store, version)),
	)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases every component. Safe to call more than once.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
