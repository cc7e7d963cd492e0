package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/outbound"
)

// Operation names accepted by SetFailure.
const (
	OpSignIn  = "sign_in"
	OpSignUp  = "sign_up"
	OpSignOut = "sign_out"
	OpSession = "session"
)

const (
	// DefaultSessionTTL is the lifetime of issued sessions.
	DefaultSessionTTL = 1 * time.Hour
	// DefaultExpiryInterval is how often StartExpiry checks the session.
	DefaultExpiryInterval = 1 * time.Minute
)

type account struct {
	user      auth.User
	hash      string
	confirmed bool
}

// AuthClientOption configures an AuthClient.
type AuthClientOption func(*AuthClient)

// WithSessionTTL sets the lifetime of issued sessions.
func WithSessionTTL(d time.Duration) AuthClientOption {
	return func(c *AuthClient) {
		c.sessionTTL = d
	}
}

// WithRequireConfirmation makes sign-up return a user without a session
// until Confirm is called for that email.
func WithRequireConfirmation(required bool) AuthClientOption {
	return func(c *AuthClient) {
		c.requireConfirmation = required
	}
}

// WithHashParams overrides argon2id.DefaultParams, e.g. for faster tests.
func WithHashParams(p *argon2id.Params) AuthClientOption {
	return func(c *AuthClient) {
		c.hashParams = p
	}
}

// WithSessionPersister keeps the session across AuthClient instances.
func WithSessionPersister(p outbound.SessionPersister) AuthClientOption {
	return func(c *AuthClient) {
		c.persister = p
	}
}

// WithExpiryInterval sets how often StartExpiry checks the session.
func WithExpiryInterval(d time.Duration) AuthClientOption {
	return func(c *AuthClient) {
		c.expiryInterval = d
	}
}

// WithClientLogger sets the logger. Defaults to slog.Default().
func WithClientLogger(logger *slog.Logger) AuthClientOption {
	return func(c *AuthClient) {
		c.logger = logger
	}
}

// AuthClient implements outbound.AuthClient entirely in process. Passwords
// are kept as Argon2id hashes. For development/testing only.
type AuthClient struct {
	sessionTTL          time.Duration
	requireConfirmation bool
	hashParams          *argon2id.Params
	persister           outbound.SessionPersister
	expiryInterval      time.Duration
	logger              *slog.Logger

	mu       sync.Mutex
	accounts map[string]*account // by lower-cased email
	session  *auth.Session
	loaded   bool
	failures map[string]error

	// changeMu serializes session changes so listeners see them in order.
	changeMu    sync.Mutex
	listenersMu sync.Mutex
	listeners   map[uuid.UUID]func(*auth.Session)

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once // Prevent double-close panic on Stop()
}

// NewAuthClient creates an empty in-process provider.
func NewAuthClient(opts ...AuthClientOption) *AuthClient {
	c := &AuthClient{
		sessionTTL:     DefaultSessionTTL,
		hashParams:     argon2id.DefaultParams,
		expiryInterval: DefaultExpiryInterval,
		logger:         slog.Default(),
		accounts:       make(map[string]*account),
		failures:       make(map[string]error),
		listeners:      make(map[uuid.UUID]func(*auth.Session)),
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddUser registers a confirmed account directly, without signing in.
func (c *AuthClient) AddUser(email, password string) (auth.User, error) {
	hash, err := argon2id.CreateHash(password, c.hashParams)
	if err != nil {
		return auth.User{}, fmt.Errorf("hash password: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	key := normalizeEmail(email)
	if _, ok := c.accounts[key]; ok {
		return auth.User{}, auth.NewError(OpSignUp, auth.KindAlreadyRegistered, "User already registered", nil)
	}
	user := auth.User{ID: uuid.NewString(), Email: strings.TrimSpace(email)}
	c.accounts[key] = &account{user: user, hash: hash, confirmed: true}
	return user, nil
}

// Confirm marks the account for email as confirmed.
func (c *AuthClient) Confirm(email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	acct, ok := c.accounts[normalizeEmail(email)]
	if !ok {
		return fmt.Errorf("no account for %q", email)
	}
	acct.confirmed = true
	return nil
}

// SetFailure makes every call to op fail with err until cleared with a nil
// err. Use the Op constants.
func (c *AuthClient) SetFailure(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failures, op)
		return
	}
	c.failures[op] = err
}

func (c *AuthClient) failure(op string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[op]
}

// SignInWithPassword signs in a confirmed account.
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*auth.Grant, error) {
	if err := c.failure(OpSignIn); err != nil {
		return nil, err
	}

	c.mu.Lock()
	var acct account
	stored, ok := c.accounts[normalizeEmail(email)]
	if ok {
		acct = *stored
	}
	c.mu.Unlock()
	if !ok {
		return nil, auth.NewError(OpSignIn, auth.KindInvalidCredentials, "Invalid login credentials", nil)
	}

	match, err := argon2id.ComparePasswordAndHash(password, acct.hash)
	if err != nil {
		return nil, auth.NewError(OpSignIn, auth.KindProviderFailure, "compare password", err)
	}
	if !match {
		return nil, auth.NewError(OpSignIn, auth.KindInvalidCredentials, "Invalid login credentials", nil)
	}
	if !acct.confirmed {
		return nil, auth.NewError(OpSignIn, auth.KindInvalidCredentials, "Email not confirmed", nil)
	}

	sess, err := c.issue(acct.user)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, sess)
	return &auth.Grant{User: acct.user, Session: sess}, nil
}

// SignUp creates an account and, unless confirmation is required, signs it in.
func (c *AuthClient) SignUp(ctx context.Context, email, password string) (*auth.Grant, error) {
	if err := c.failure(OpSignUp); err != nil {
		return nil, err
	}

	hash, err := argon2id.CreateHash(password, c.hashParams)
	if err != nil {
		return nil, auth.NewError(OpSignUp, auth.KindProviderFailure, "hash password", err)
	}

	c.mu.Lock()
	key := normalizeEmail(email)
	if _, exists := c.accounts[key]; exists {
		c.mu.Unlock()
		return nil, auth.NewError(OpSignUp, auth.KindAlreadyRegistered, "User already registered", nil)
	}
	acct := &account{
		user:      auth.User{ID: uuid.NewString(), Email: strings.TrimSpace(email)},
		hash:      hash,
		confirmed: !c.requireConfirmation,
	}
	c.accounts[key] = acct
	user, confirmed := acct.user, acct.confirmed
	c.mu.Unlock()

	c.logger.Debug("account created", "user_id", user.ID, "confirmed", confirmed)
	if !confirmed {
		return &auth.Grant{User: user}, nil
	}

	sess, err := c.issue(user)
	if err != nil {
		return nil, err
	}
	c.setSession(ctx, sess)
	return &auth.Grant{User: user, Session: sess}, nil
}

// SignOut ends the current session.
func (c *AuthClient) SignOut(ctx context.Context) error {
	if err := c.failure(OpSignOut); err != nil {
		return err
	}
	c.setSession(ctx, nil)
	return nil
}

// CurrentSession returns the live session, or nil. An expired session is
// dropped and reported as nil.
func (c *AuthClient) CurrentSession(ctx context.Context) (*auth.Session, error) {
	if err := c.failure(OpSession); err != nil {
		return nil, err
	}
	sess, err := c.load(ctx)
	if err != nil {
		return nil, auth.NewError(OpSession, auth.KindProviderFailure, "load persisted session", err)
	}
	if sess != nil && sess.Expired(time.Now()) {
		c.setSession(ctx, nil)
		return nil, nil
	}
	return sess, nil
}

// OnSessionChange registers listener for every session change.
func (c *AuthClient) OnSessionChange(listener func(*auth.Session)) outbound.Subscription {
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

// Expire ends the current session as if its tokens had lapsed and notifies
// listeners with nil.
func (c *AuthClient) Expire() {
	if c.current() == nil {
		return
	}
	c.logger.Debug("session expired")
	c.setSession(context.Background(), nil)
}

// Revoke ends the current session if it belongs to email, as an
// administrator signing the user out elsewhere would.
func (c *AuthClient) Revoke(email string) bool {
	sess := c.current()
	if sess == nil || normalizeEmail(sess.User.Email) != normalizeEmail(email) {
		return false
	}
	c.setSession(context.Background(), nil)
	return true
}

// StartExpiry starts a background goroutine that expires the session once
// its ExpiresAt has passed. Call Stop() to stop it.
func (c *AuthClient) StartExpiry(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.expiryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				if sess := c.current(); sess != nil && sess.Expired(time.Now()) {
					c.Expire()
				}
			}
		}
	}()
}

// Stop stops the expiry goroutine and waits for it to exit.
// Safe to call multiple times.
func (c *AuthClient) Stop() {
	c.once.Do(func() {
		close(c.stopChan)
	})
	c.wg.Wait()
}

func (c *AuthClient) issue(user auth.User) (*auth.Session, error) {
	now := time.Now()
	sess, err := auth.NewSession(user, "mem-at-"+uuid.NewString(), "mem-rt-"+uuid.NewString(), now, now.Add(c.sessionTTL))
	if err != nil {
		return nil, auth.NewError("issue", auth.KindProviderFailure, "invalid session", err)
	}
	return sess, nil
}

func (c *AuthClient) current() *auth.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *AuthClient) load(ctx context.Context) (*auth.Session, error) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.Lock()
	if c.loaded || c.persister == nil {
		c.loaded = true
		sess := c.session
		c.mu.Unlock()
		return sess, nil
	}
	c.mu.Unlock()

	sess, err := c.persister.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session = sess
	c.loaded = true
	c.mu.Unlock()
	return sess, nil
}

func (c *AuthClient) setSession(ctx context.Context, sess *auth.Session) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()

	c.mu.Lock()
	c.session = sess
	c.loaded = true
	c.mu.Unlock()

	if c.persister != nil {
		var err error
		if sess == nil {
			err = c.persister.Clear(context.WithoutCancel(ctx))
		} else {
			err = c.persister.Save(context.WithoutCancel(ctx), sess)
		}
		if err != nil {
			c.logger.Warn("failed to persist session", "error", err)
		}
	}

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

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Compile-time interface verification.
var _ outbound.AuthClient = (*AuthClient)(nil)
