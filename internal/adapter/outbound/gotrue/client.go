// Package gotrue implements outbound.AuthClient against a GoTrue
// (Supabase Auth) server over its REST API.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/outbound"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRefreshMargin = 60 * time.Second
	defaultRetryInterval = 5 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

const (
	opSignIn  = "sign_in"
	opSignUp  = "sign_up"
	opSignOut = "sign_out"
	opRefresh = "refresh"
	opSession = "session"
)

// Client talks to a GoTrue server and keeps the resulting session, much
// like the Supabase client with persistSession and autoRefreshToken set.
type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	timeout       time.Duration
	persister     outbound.SessionPersister
	autoRefresh   bool
	refreshMargin time.Duration
	retryInterval time.Duration
	logger        *slog.Logger

	// changeMu serializes session changes so listeners see them in order.
	changeMu sync.Mutex
	// refreshMu keeps a refresh token from being spent twice.
	refreshMu sync.Mutex

	mu      sync.RWMutex
	session *auth.Session
	loaded  bool
	retryAt time.Time

	listenersMu sync.Mutex
	listeners   map[uuid.UUID]func(*auth.Session)

	ctx       context.Context
	cancel    context.CancelFunc
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Client for the GoTrue server at baseURL (the project URL,
// without the /auth/v1 suffix). apiKey is the project's anon key.
// Call Close to stop the background refresh.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid provider url %q", baseURL)
	}

	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		timeout:       defaultTimeout,
		autoRefresh:   true,
		refreshMargin: defaultRefreshMargin,
		retryInterval: defaultRetryInterval,
		logger:        slog.Default(),
		listeners:     make(map[uuid.UUID]func(*auth.Session)),
		kick:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if c.autoRefresh {
		go c.refreshLoop()
	} else {
		close(c.done)
	}
	return c, nil
}

// Close stops the background refresh. Safe to call multiple times.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	<-c.done
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`

	// Sign-up without auto-confirm returns the bare user object.
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignInWithPassword signs in with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Grant, error) {
	var resp tokenResponse
	if err := c.do(ctx, opSignIn, "/auth/v1/token?grant_type=password", "", credentialsBody{email, password}, &resp); err != nil {
		return nil, err
	}
	g, err := grantFrom(opSignIn, &resp)
	if err != nil {
		return nil, err
	}
	if g.Session == nil {
		return nil, auth.NewError(opSignIn, auth.KindProviderFailure, "provider returned no session", nil)
	}
	c.setSession(ctx, g.Session)
	return g, nil
}

// SignUp registers a new account. When the project requires email
// confirmation the returned Grant has no session.
func (c *Client) SignUp(ctx context.Context, email, password string) (*auth.Grant, error) {
	var resp tokenResponse
	if err := c.do(ctx, opSignUp, "/auth/v1/signup", "", credentialsBody{email, password}, &resp); err != nil {
		return nil, err
	}
	g, err := grantFrom(opSignUp, &resp)
	if err != nil {
		return nil, err
	}
	if g.Session != nil {
		c.setSession(ctx, g.Session)
	}
	return g, nil
}

// SignOut revokes the session at the provider and forgets it locally. A
// session the provider no longer knows counts as signed out.
func (c *Client) SignOut(ctx context.Context) error {
	sess, err := c.load(ctx)
	if err != nil {
		return auth.NewError(opSignOut, auth.KindProviderFailure, "load persisted session", err)
	}
	if sess != nil {
		if err := c.do(ctx, opSignOut, "/auth/v1/logout", sess.AccessToken, nil, nil); err != nil && !signOutGone(err) {
			return err
		}
	}
	c.setSession(ctx, nil)
	return nil
}

// CurrentSession returns the stored session, refreshing it first when it
// is about to expire. It returns nil when there is no usable session.
func (c *Client) CurrentSession(ctx context.Context) (*auth.Session, error) {
	sess, err := c.load(ctx)
	if err != nil {
		return nil, auth.NewError(opSession, auth.KindProviderFailure, "load persisted session", err)
	}
	if sess == nil {
		return nil, nil
	}

	now := time.Now()
	if !c.dueForRefresh(sess, now) {
		return sess, nil
	}

	refreshed, err := c.refresh(ctx, sess)
	switch {
	case err == nil:
		return refreshed, nil
	case sessionRejected(err):
		c.logger.Info("stored session rejected by provider", "error", err)
		c.setSession(ctx, nil)
		return nil, nil
	case !sess.Expired(now):
		c.logger.Warn("session refresh failed, using current session", "error", err)
		return sess, nil
	default:
		return nil, err
	}
}

// OnSessionChange registers listener for every session change: sign-in,
// sign-up with a session, refresh, sign-out and expiry (nil).
func (c *Client) OnSessionChange(listener func(*auth.Session)) outbound.Subscription {
	id := uuid.New()
	c.listenersMu.Lock()
	c.listeners[id] = listener
	c.listenersMu.Unlock()

	var once sync.Once
	return outbound.SubscriptionFunc(func() {
		once.Do(func() {
			c.listenersMu.Lock()
			delete(c.listeners, id)
			c.listenersMu.Unlock()
		})
	})
}

// load returns the session, reading the persister on first use.
func (c *Client) load(ctx context.Context) (*auth.Session, error) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.RLock()
	if c.loaded {
		sess := c.session
		c.mu.RUnlock()
		return sess, nil
	}
	c.mu.RUnlock()

	var sess *auth.Session
	if c.persister != nil {
		var err error
		if sess, err = c.persister.Load(ctx); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.session = sess
	c.loaded = true
	c.mu.Unlock()

	if sess != nil {
		c.logger.Debug("restored session", "user_id", sess.User.ID, "token", fingerprint(sess.AccessToken))
	}
	c.kickRefresh()
	return sess, nil
}

func (c *Client) snapshot() *auth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// setSession replaces the session, persists it and notifies listeners.
func (c *Client) setSession(ctx context.Context, sess *auth.Session) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.Lock()
	c.session = sess
	c.loaded = true
	c.retryAt = time.Time{}
	c.mu.Unlock()

	c.persist(context.WithoutCancel(ctx), sess)
	if sess != nil {
		c.logger.Debug("session updated", "user_id", sess.User.ID, "token", fingerprint(sess.AccessToken), "expires_at", sess.ExpiresAt)
	} else {
		c.logger.Debug("session cleared")
	}

	c.emit(sess)
	c.kickRefresh()
}

func (c *Client) persist(ctx context.Context, sess *auth.Session) {
	if c.persister == nil {
		return
	}
	var err error
	if sess == nil {
		err = c.persister.Clear(ctx)
	} else {
		err = c.persister.Save(ctx, sess)
	}
	if err != nil {
		c.logger.Warn("failed to persist session", "error", err)
	}
}

func (c *Client) emit(sess *auth.Session) {
	c.listenersMu.Lock()
	listeners := make([]func(*auth.Session), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l(sess)
	}
}

// do POSTs body to path and decodes a 2xx response into out. Any failure
// is returned as an *auth.Error for op.
func (c *Client) do(ctx context.Context, op, path, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return auth.NewError(op, auth.KindProviderFailure, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return auth.NewError(op, auth.KindProviderFailure, "build request", err)
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return auth.NewError(op, auth.KindNetworkFailure, "provider unreachable", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return auth.NewError(op, auth.KindNetworkFailure, "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(op, resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return auth.NewError(op, auth.KindProviderFailure, "malformed response", err)
		}
	}
	return nil
}

// grantFrom builds a Grant from a token or sign-up response.
func grantFrom(op string, resp *tokenResponse) (*auth.Grant, error) {
	user := auth.User{ID: resp.ID, Email: resp.Email}
	if resp.User != nil {
		user = auth.User{ID: resp.User.ID, Email: resp.User.Email}
	}
	if user.ID == "" {
		return nil, auth.NewError(op, auth.KindProviderFailure, "provider returned no user", nil)
	}
	if resp.AccessToken == "" {
		return &auth.Grant{User: user}, nil
	}

	now := time.Now()
	issuedAt, claimExp := tokenTimes(resp.AccessToken)
	if issuedAt.IsZero() {
		issuedAt = now
	}
	var expiresAt time.Time
	switch {
	case resp.ExpiresAt > 0:
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		expiresAt = claimExp
	}

	sess, err := auth.NewSession(user, resp.AccessToken, resp.RefreshToken, issuedAt, expiresAt)
	if err != nil {
		return nil, auth.NewError(op, auth.KindProviderFailure, "invalid session", err)
	}
	if resp.TokenType != "" {
		sess.TokenType = resp.TokenType
	}
	return &auth.Grant{User: user, Session: sess}, nil
}

// tokenTimes reads iat and exp from an access token without verifying it;
// the signature is the provider's concern.
func tokenTimes(token string) (issuedAt, expiresAt time.Time) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return
	}
	if t, err := claims.GetIssuedAt(); err == nil && t != nil {
		issuedAt = t.Time
	}
	if t, err := claims.GetExpirationTime(); err == nil && t != nil {
		expiresAt = t.Time
	}
	return
}

// fingerprint identifies a token in logs without revealing it.
func fingerprint(token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(token))
}
