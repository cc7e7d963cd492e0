package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/domain/route"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStates struct {
	mu sync.Mutex
	st auth.State
}

func (f *fakeStates) set(st auth.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.st = st
}

func (f *fakeStates) State() auth.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStates) Subscribe(func(auth.State)) func() { return func() {} }

type defaultPaths struct{}

func (defaultPaths) PathFor(group route.Group) string { return route.DefaultRoutes().Path(group) }

func signedIn(t *testing.T) auth.State {
	t.Helper()
	expires := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	sess, err := auth.NewSession(auth.User{ID: "u1", Email: "u1@example.com"}, "at", "rt", time.Now(), expires)
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}
	st := auth.Authenticated(sess)
	st.Version = 3
	return st
}

func getJSON(t *testing.T, h http.Handler, path string, into any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if into != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
			t.Fatalf("decode %s response: %v (body %q)", path, err, rec.Body.String())
		}
	}
	return rec
}

func TestServer_State(t *testing.T) {
	tests := []struct {
		name    string
		state   func(t *testing.T) auth.State
		paths   RoutePaths
		want    StateResponse
		wantHdr string
	}{
		{
			name:  "unknown",
			state: func(*testing.T) auth.State { return auth.State{} },
			paths: defaultPaths{},
			want:  StateResponse{Status: "unknown"},
		},
		{
			name:  "authenticated with route",
			state: signedIn,
			paths: defaultPaths{},
			want: StateResponse{
				Status:    "authenticated",
				Version:   3,
				UserID:    "u1",
				Email:     "u1@example.com",
				ExpiresAt: "2030-01-02T03:04:05Z",
				Route:     "protected",
				RoutePath: "/(main)",
			},
		},
		{
			name: "unauthenticated without guard",
			state: func(*testing.T) auth.State {
				st := auth.Unauthenticated()
				st.Version = 1
				return st
			},
			want: StateResponse{Status: "unauthenticated", Version: 1, Route: "public"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := &fakeStates{st: tt.state(t)}
			srv := NewServer(states, tt.paths, WithLogger(discardLogger()))

			var got StateResponse
			rec := getJSON(t, srv.Handler(), "/state", &got)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if got != tt.want {
				t.Errorf("state = %+v, want %+v", got, tt.want)
			}
			if rec.Header().Get("Cache-Control") != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", rec.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestServer_StateRouteMatchesStatus(t *testing.T) {
	states := &fakeStates{st: signedIn(t)}
	guard := route.NewGuard(states, route.NavigatorFunc(func(route.Group, string) {}))
	defer guard.Stop()
	if group, _ := guard.Target(); group != route.GroupProtected {
		t.Fatalf("guard target = %q, want protected", group)
	}

	// The guard has not observed the sign-out yet.
	signedOut := auth.Unauthenticated()
	signedOut.Version = 4
	states.set(signedOut)

	srv := NewServer(states, guard, WithLogger(discardLogger()))
	var got StateResponse
	getJSON(t, srv.Handler(), "/state", &got)
	if got.Status != "unauthenticated" || got.Route != "public" || got.RoutePath != "/(auth)" {
		t.Errorf("state = %+v, want unauthenticated on public /(auth)", got)
	}
}

func TestServer_StateRejectsPost(t *testing.T) {
	srv := NewServer(&fakeStates{}, nil, WithLogger(discardLogger()))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/state", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	states := &fakeStates{}
	srv := NewServer(states, nil,
		WithLogger(discardLogger()),
		WithHealthChecker(NewHealthChecker(states, "v1.2.3")),
	)
	h := srv.Handler()

	var health HealthResponse
	rec := getJSON(t, h, "/health", &health)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status while unknown = %d, want 503", rec.Code)
	}
	if health.Checks["session_store"] != "initializing" {
		t.Errorf("session_store = %q, want initializing", health.Checks["session_store"])
	}

	states.set(signedIn(t))
	rec = getJSON(t, h, "/health", &health)
	if rec.Code != http.StatusOK {
		t.Errorf("status when known = %d, want 200", rec.Code)
	}
	if health.Status != "healthy" || health.Version != "v1.2.3" {
		t.Errorf("health = %+v, want healthy v1.2.3", health)
	}
	if !strings.HasPrefix(health.Checks["session_store"], "ok: authenticated") {
		t.Errorf("session_store = %q", health.Checks["session_store"])
	}
	if health.Checks["goroutines"] == "" {
		t.Error("goroutines check missing")
	}
}

func TestHealthChecker_NilStates(t *testing.T) {
	health := NewHealthChecker(nil, "").Check()
	if health.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", health.Status)
	}
	if health.Checks["session_store"] != "not configured" {
		t.Errorf("session_store = %q, want 'not configured'", health.Checks["session_store"])
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	srv := NewServer(&fakeStates{st: auth.Unauthenticated()}, nil,
		WithLogger(discardLogger()),
		WithMetrics(m, reg),
	)
	h := srv.Handler()

	getJSON(t, h, "/state", nil)
	getJSON(t, h, "/nope", nil)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/state", "ok")); got != 1 {
		t.Errorf("http_requests_total{/state,ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("other", "error")); got != 1 {
		t.Errorf("http_requests_total{other,error} = %v, want 1", got)
	}

	rec := getJSON(t, h, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authgate_http_requests_total") {
		t.Error("/metrics output missing authgate_http_requests_total")
	}
	// Scrapes are not counted.
	if n := testutil.CollectAndCount(m.RequestsTotal); n != 2 {
		t.Errorf("http_requests_total series = %d, want 2", n)
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := NewServer(&fakeStates{}, nil, WithLogger(discardLogger()))
	rec := getJSON(t, srv.Handler(), "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("/metrics status = %d, want 404", rec.Code)
	}
}

func TestServer_AllowOrigins(t *testing.T) {
	srv := NewServer(&fakeStates{}, nil,
		WithLogger(discardLogger()),
		WithAllowedOrigins([]string{"http://localhost:8081/", "not a url"}),
	)
	h := srv.Handler()

	tests := []struct {
		name     string
		origin   string
		want     int
		wantCORS bool
	}{
		{name: "no origin", origin: "", want: http.StatusOK},
		{name: "allowed origin", origin: "http://localhost:8081", want: http.StatusOK, wantCORS: true},
		{name: "allowed origin different case", origin: "HTTP://LocalHost:8081", want: http.StatusOK, wantCORS: true},
		{name: "other port", origin: "http://localhost:8082", want: http.StatusForbidden},
		{name: "foreign origin", origin: "https://evil.example", want: http.StatusForbidden},
		{name: "null origin", origin: "null", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/state", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			gotCORS := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.wantCORS && gotCORS != tt.origin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", gotCORS, tt.origin)
			}
			if !tt.wantCORS && gotCORS != "" {
				t.Errorf("Access-Control-Allow-Origin = %q, want none", gotCORS)
			}
			if rec.Header().Get("Vary") != "Origin" {
				t.Errorf("Vary = %q, want Origin", rec.Header().Get("Vary"))
			}
		})
	}
}

func TestRequestContext(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	states := &fakeStates{st: signedIn(t)}

	var seen RequestInfo
	h := RequestContext(logger, states)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestInfoFromContext(r.Context())
		LoggerFromContext(r.Context()).Info("handling")
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name     string
		header   string
		wantEcho bool
	}{
		{name: "client id kept", header: "req-42", wantEcho: true},
		{name: "missing id generated", header: ""},
		{name: "unsafe id replaced", header: "bad id\nlevel=ERROR"},
		{name: "overlong id replaced", header: strings.Repeat("a", 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs.Reset()
			req := httptest.NewRequest(http.MethodGet, "/state", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if tt.wantEcho && seen.ID != tt.header {
				t.Errorf("ID = %q, want %q", seen.ID, tt.header)
			}
			if !tt.wantEcho {
				if _, err := uuid.Parse(seen.ID); err != nil {
					t.Errorf("ID = %q, want a generated uuid", seen.ID)
				}
			}
			if rec.Header().Get("X-Request-ID") != seen.ID {
				t.Errorf("response header = %q, want %q", rec.Header().Get("X-Request-ID"), seen.ID)
			}
			if seen.StateVersion != 3 {
				t.Errorf("StateVersion = %d, want 3", seen.StateVersion)
			}

			out := logs.String()
			for _, want := range []string{"request_id=" + seen.ID, "auth_status=authenticated", "state_version=3", "msg=\"request served\"", "status=418"} {
				if !strings.Contains(out, want) {
					t.Errorf("logs missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRequestContext_NilStates(t *testing.T) {
	var seen RequestInfo
	h := RequestContext(discardLogger(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = RequestInfoFromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if seen.ID == "" || seen.Logger == nil || seen.StateVersion != 0 {
		t.Errorf("RequestInfo = %+v", seen)
	}
}

func TestLoggerFromContext_Default(t *testing.T) {
	if LoggerFromContext(context.Background()) != slog.Default() {
		t.Error("LoggerFromContext() without logger should return slog.Default()")
	}
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := NewServer(&fakeStates{}, nil, WithLogger(discardLogger()), WithAddr("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestServer_StartListenError(t *testing.T) {
	srv := NewServer(&fakeStates{}, nil, WithLogger(discardLogger()), WithAddr("127.0.0.1:-1"))
	if err := srv.Start(context.Background()); err == nil {
		t.Error("Start() with invalid address should fail")
	}
}
