package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/domain/route"
)

var watchListen string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow auth state changes and serve /state, /health, /metrics",
	Long: `Resolve the current session and keep running: every auth state
transition and every route redirect is printed as it happens, including
token refreshes and expiry reported by the provider.

With a listen address (--listen or server.addr) an HTTP server exposes:
  GET /state    current status, user and route as JSON
  GET /health   503 until the initial state is known
  GET /metrics  Prometheus metrics

Stop with Ctrl+C.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchListen, "listen", "", "HTTP listen address (default: server.addr)")
	rootCmd.AddCommand(watchCmd)
}

// consoleNavigator prints redirects instead of rendering screens.
type consoleNavigator struct {
	mu sync.Mutex
	w  io.Writer
}

func (n *consoleNavigator) Redirect(group route.Group, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fmt.Fprintf(n.w, "%s redirect %s %s\n", time.Now().Format(time.TimeOnly), group, path)
}

func (n *consoleNavigator) transition(st auth.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	line := fmt.Sprintf("%s state %s (version %d)", time.Now().Format(time.TimeOnly), st.Status, st.Version)
	if u := st.User(); u != nil {
		line += " user " + u.Email
	}
	fmt.Fprintln(n.w, line)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	a, err := startApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	if watchListen != "" {
		a.Config.Server.Addr = watchListen
	}

	nav := &consoleNavigator{w: cmd.OutOrStdout()}
	unsubscribe := a.Store.Subscribe(nav.transition)
	defer unsubscribe()
	nav.transition(a.Store.State())

	guard := a.NewGuard(nav)
	defer guard.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.Config.Server.Addr != "" {
		srv := a.NewServer(guard, Version)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	a.Logger.Info("watch stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
