package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lookym/authgate/internal/domain/route"
	"github.com/lookym/authgate/internal/port/inbound"
)

const (
	pathState   = "/state"
	pathHealth  = "/health"
	pathMetrics = "/metrics"

	// DefaultAddr is localhost only.
	DefaultAddr = "127.0.0.1:9464"

	shutdownTimeout = 10 * time.Second
)

// RoutePaths maps a route group to its navigation path.
type RoutePaths interface {
	PathFor(group route.Group) string
}

// StateResponse is the JSON response from the /state endpoint.
type StateResponse struct {
	Status    string `json:"status"`
	Version   uint64 `json:"version"`
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Route     string `json:"route,omitempty"`
	RoutePath string `json:"route_path,omitempty"`
}

// Server serves /state, /health and /metrics.
type Server struct {
	states         inbound.StateReader
	paths          RoutePaths
	addr           string
	allowedOrigins []string
	logger         *slog.Logger
	metrics        *Metrics
	gatherer       prometheus.Gatherer
	health         *HealthChecker
	server         *http.Server
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is DefaultAddr.
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithAllowedOrigins sets the browser origins allowed to call the server.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records HTTP metrics into m and serves gatherer on /metrics.
// Without it /metrics responds 404.
func WithMetrics(m *Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithHealthChecker replaces the default health checker.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.health = hc
	}
}

// NewServer creates a server over states. paths may be nil, in which case
// /state reports the route group without a path.
func NewServer(states inbound.StateReader, paths RoutePaths, opts ...Option) *Server {
	s := &Server{
		states:  states,
		paths:   paths,
		addr:    DefaultAddr,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = NewHealthChecker(states, "")
	}
	return s
}

// Handler builds the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+pathState, http.HandlerFunc(s.handleState))
	mux.Handle("GET "+pathHealth, s.health.Handler())
	if s.gatherer != nil {
		mux.Handle("GET "+pathMetrics, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = AllowOrigins(s.allowedOrigins)(handler)
	handler = RequestContext(s.logger, s.states)(handler)
	if s.metrics != nil {
		handler = MetricsMiddleware(s.metrics)(handler)
	}
	return handler
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st := s.states.State()
	resp := StateResponse{
		Status:  st.Status.String(),
		Version: st.Version,
	}
	if u := st.User(); u != nil {
		resp.UserID = u.ID
		resp.Email = u.Email
		if !st.Session.ExpiresAt.IsZero() {
			resp.ExpiresAt = st.Session.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	// The route comes from the same snapshot as the status; the guard
	// may not have seen this version yet.
	if group, ok := route.Decide(st); ok {
		resp.Route = string(group)
		if s.paths != nil {
			resp.RoutePath = s.paths.PathFor(group)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		LoggerFromContext(r.Context()).Warn("failed to write state response", "error", err)
	}
}

// Start listens on the configured address and blocks until ctx is
// cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}
