package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/outbound"
)

// DefaultQueueSize is the default capacity of the write queue.
const DefaultQueueSize = 64

// Drop reasons reported to the Observer.
const (
	dropStaleInit  = "superseded_init"
	dropStaleLocal = "stale_ticket"
	dropFailed     = "failed_result"
	dropNoSession  = "no_session"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithObserver registers an Observer for transitions and dropped writes.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// WithStaleSuppression makes the store discard a local result whose Ticket
// predates the latest applied provider notification.
func WithStaleSuppression(enabled bool) Option {
	return func(s *Store) {
		s.suppressStale = enabled
	}
}

// WithQueueSize sets the capacity of the write queue.
func WithQueueSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// request is one write submitted to the event loop.
type request struct {
	source  Source
	session *auth.Session // SourceInit, SourceExternal
	result  LocalResult   // SourceLocal
	done    chan bool
}

type listenerEntry struct {
	id uint64
	fn func(auth.State)
}

// Store is the single source of truth for the client auth state.
//
// All writes go through one channel consumed by one goroutine, so the order
// in which writes reach that channel is the order in which they are applied.
// Listeners run on that goroutine, once per transition, in transition order.
// A write returns to its caller after the state is updated and before the
// listeners for it have run. Listeners must not call Store mutators or Close
// synchronously.
type Store struct {
	client        outbound.AuthClient
	logger        *slog.Logger
	observer      Observer
	suppressStale bool
	queueSize     int

	mu          sync.RWMutex
	state       auth.State
	externalSeq uint64 // provider notifications applied so far
	sub         outbound.Subscription
	closed      bool

	listenersMu sync.Mutex
	listeners   []listenerEntry
	nextID      uint64

	initOnce sync.Once
	initErr  error

	requests  chan request
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// New creates a Store in the Unknown state and starts its event loop.
// Call Initialize to resolve the initial state and Close to release it.
func New(client outbound.AuthClient, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.requests = make(chan request, s.queueSize)
	s.quit = make(chan struct{})
	s.stopped = make(chan struct{})

	go s.loop()
	return s
}

// Initialize subscribes to provider notifications and then queries the
// provider for the current session. It runs once; later calls return the
// first call's error without touching the state.
//
// The query result is applied only if no other write, external event or
// local result, has resolved the state while it was in flight. A failed query resolves the state to
// Unauthenticated and returns an auth.ErrProviderFailure error.
func (s *Store) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		s.initErr = s.initialize(ctx)
	})
	return s.initErr
}

func (s *Store) initialize(ctx context.Context) error {
	sub := s.client.OnSessionChange(func(sess *auth.Session) {
		if err := s.ApplyExternalEvent(context.Background(), sess); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Warn("failed to apply session notification", "error", err)
		}
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return ErrClosed
	}
	s.sub = sub
	s.mu.Unlock()

	sess, err := s.client.CurrentSession(ctx)
	if err != nil {
		s.logger.Warn("initial session query failed, treating as signed out", "error", err)
		if _, subErr := s.submit(context.Background(), request{source: SourceInit}); subErr != nil {
			return subErr
		}
		return auth.NewError("session", auth.KindProviderFailure, "initial session query failed", err)
	}

	_, err = s.submit(context.Background(), request{source: SourceInit, session: sess})
	return err
}

// ApplyExternalEvent overwrites the state with the provider's view: a
// non-nil session authenticates, nil signs out.
func (s *Store) ApplyExternalEvent(ctx context.Context, sess *auth.Session) error {
	_, err := s.submit(ctx, request{source: SourceExternal, session: sess})
	return err
}

// ApplyLocalResult applies the outcome of a local auth operation. It
// reports whether the state was changed.
func (s *Store) ApplyLocalResult(ctx context.Context, r LocalResult) (bool, error) {
	return s.submit(ctx, request{source: SourceLocal, result: r})
}

// Ticket returns a marker to attach to a local result before starting the
// provider call. Only meaningful with WithStaleSuppression.
func (s *Store) Ticket() Ticket {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Ticket{seq: s.externalSeq, valid: true}
}

// State returns a snapshot of the current state.
func (s *Store) State() auth.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers listener for every transition. The returned function
// removes it and is safe to call more than once.
func (s *Store) Subscribe(listener func(auth.State)) (unsubscribe func()) {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: listener})
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			defer s.listenersMu.Unlock()
			for i, l := range s.listeners {
				if l.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Close unsubscribes from the provider and stops the event loop.
// Safe to call multiple times.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		close(s.quit)
	})
	<-s.stopped
}

// submit enqueues req and waits until the loop has handled it.
func (s *Store) submit(ctx context.Context, req request) (bool, error) {
	req.done = make(chan bool, 1)

	select {
	case <-s.quit:
		return false, ErrClosed
	default:
	}

	select {
	case s.requests <- req:
	case <-s.quit:
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case applied := <-req.done:
		return applied, nil
	case <-s.stopped:
		return false, ErrClosed
	}
}

func (s *Store) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.requests:
			s.handle(req)
		}
	}
}

// handle applies one write. It is only called from the loop goroutine.
func (s *Store) handle(req request) {
	s.mu.Lock()
	prev := s.state
	next, ok, reason := s.reduce(prev, req)
	if !ok {
		s.mu.Unlock()
		req.done <- false
		s.logger.Debug("auth state write dropped", "source", req.source, "reason", reason)
		if s.observer != nil {
			s.observer.ObserveDropped(req.source, reason)
		}
		return
	}
	if req.source == SourceExternal {
		s.externalSeq++
	}
	next.Version = prev.Version + 1
	s.state = next
	s.mu.Unlock()

	req.done <- true

	s.logger.Debug("auth state transition",
		"from", prev.Status.String(),
		"to", next.Status.String(),
		"version", next.Version,
		"source", req.source,
	)
	if s.observer != nil {
		s.observer.ObserveTransition(prev, next, req.source)
	}
	s.notify(next)
}

// reduce computes the state that req produces from cur. Must hold s.mu.
func (s *Store) reduce(cur auth.State, req request) (auth.State, bool, string) {
	switch req.source {
	case SourceInit:
		if cur.Known() {
			return cur, false, dropStaleInit
		}
		return stateFor(req.session), true, ""

	case SourceExternal:
		return stateFor(req.session), true, ""

	case SourceLocal:
		r := req.result
		if s.suppressStale && r.Ticket.valid && r.Ticket.seq < s.externalSeq {
			return cur, false, dropStaleLocal
		}
		switch r.Kind {
		case ResultSignedIn:
			if r.Session == nil {
				return cur, false, dropNoSession
			}
			return auth.Authenticated(r.Session), true, ""
		case ResultSignedOut:
			return auth.Unauthenticated(), true, ""
		default:
			return cur, false, dropFailed
		}
	}
	panic(fmt.Sprintf("session: unknown write source %q", req.source))
}

func stateFor(sess *auth.Session) auth.State {
	if sess == nil {
		return auth.Unauthenticated()
	}
	return auth.Authenticated(sess)
}

func (s *Store) notify(st auth.State) {
	s.listenersMu.Lock()
	listeners := make([]listenerEntry, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		s.safeCall(l.fn, st)
	}
}

// safeCall runs a listener, keeping the loop alive if it panics.
func (s *Store) safeCall(fn func(auth.State), st auth.State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("auth state listener panicked", "panic", r)
		}
	}()
	fn(st)
}
