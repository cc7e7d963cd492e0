// Package route decides which route group the user may see for a given
// auth state and redirects when that decision changes.
package route

import (
	"log/slog"
	"sync"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/inbound"
)

// Group is a set of screens gated by the same auth requirement.
type Group string

const (
	// GroupProtected holds the screens that require a session.
	GroupProtected Group = "protected"
	// GroupPublic holds the sign-in and sign-up screens.
	GroupPublic Group = "public"
)

// Routes maps groups to navigation paths.
type Routes struct {
	Protected string
	Public    string
}

// DefaultRoutes returns the stock group paths.
func DefaultRoutes() Routes {
	return Routes{Protected: "/(main)", Public: "/(auth)"}
}

// Path returns the path for g, or "" for an unknown group.
func (r Routes) Path(g Group) string {
	switch g {
	case GroupProtected:
		return r.Protected
	case GroupPublic:
		return r.Public
	}
	return ""
}

// Decide returns the group that st allows. The second result is false
// while the state is Unknown, in which case nothing may be shown.
func Decide(st auth.State) (Group, bool) {
	switch st.Status {
	case auth.StatusAuthenticated:
		return GroupProtected, true
	case auth.StatusUnauthenticated:
		return GroupPublic, true
	}
	return "", false
}

// Navigator performs redirects. Redirect is called synchronously from the
// state notification and must not call back into the Guard.
type Navigator interface {
	Redirect(group Group, path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(group Group, path string)

// Redirect calls f(group, path).
func (f NavigatorFunc) Redirect(group Group, path string) {
	f(group, path)
}

// Option configures a Guard.
type Option func(*Guard)

// WithRoutes overrides DefaultRoutes.
func WithRoutes(r Routes) Option {
	return func(g *Guard) {
		g.routes = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// Guard follows the auth state and redirects whenever the allowed group
// changes. It only reads state; it never signs anyone in or out.
type Guard struct {
	nav    Navigator
	routes Routes
	logger *slog.Logger

	mu          sync.Mutex
	seenVersion uint64
	seen        bool
	target      Group
	known       bool
	issued      Group

	unsubscribe func()
	stopOnce    sync.Once
}

// NewGuard starts a Guard over src. If src already holds a known state the
// first redirect is issued before NewGuard returns.
func NewGuard(src inbound.StateReader, nav Navigator, opts ...Option) *Guard {
	g := &Guard{
		nav:    nav,
		routes: DefaultRoutes(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}

	// Subscribe before reading so no transition falls in between; the
	// version check discards whichever copy arrives second.
	g.unsubscribe = src.Subscribe(g.observe)
	g.observe(src.State())
	return g
}

// Target returns the group the current state allows. ok is false while
// the state is Unknown.
func (g *Guard) Target() (group Group, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.target, g.known
}

// Path returns the path of the current target, or "" while Unknown.
func (g *Guard) Path() string {
	group, ok := g.Target()
	if !ok {
		return ""
	}
	return g.routes.Path(group)
}

// PathFor returns the configured path of group.
func (g *Guard) PathFor(group Group) string {
	return g.routes.Path(group)
}

// Stop detaches the guard from the state source. Safe to call more than once.
func (g *Guard) Stop() {
	g.stopOnce.Do(func() {
		if g.unsubscribe != nil {
			g.unsubscribe()
		}
	})
}

func (g *Guard) observe(st auth.State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen && st.Version <= g.seenVersion {
		return
	}
	g.seen = true
	g.seenVersion = st.Version

	group, ok := Decide(st)
	g.target, g.known = group, ok
	if !ok || group == g.issued {
		return
	}
	g.issued = group
	path := g.routes.Path(group)
	g.logger.Debug("route redirect", "group", string(group), "path", path, "version", st.Version)
	g.nav.Redirect(group, path)
}
