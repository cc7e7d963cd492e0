package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/lookym/authgate/internal/domain/auth"
	"github.com/lookym/authgate/internal/port/outbound"
)

// fakeClient is a minimal outbound.AuthClient for exercising the store.
type fakeClient struct {
	mu          sync.Mutex
	listeners   map[int]func(*auth.Session)
	nextID      int
	subscribes  int
	current     *auth.Session
	currentErr  error
	block       chan struct{} // when non-nil, CurrentSession waits on it
	queryCalled chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		listeners:   make(map[int]func(*auth.Session)),
		queryCalled: make(chan struct{}, 1),
	}
}

func (f *fakeClient) SignInWithPassword(ctx context.Context, email, password string) (*auth.Grant, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) SignUp(ctx context.Context, email, password string) (*auth.Grant, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) SignOut(ctx context.Context) error {
	return errors.New("not used")
}

func (f *fakeClient) CurrentSession(ctx context.Context) (*auth.Session, error) {
	select {
	case f.queryCalled <- struct{}{}:
	default:
	}
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.currentErr
}

func (f *fakeClient) OnSessionChange(listener func(*auth.Session)) outbound.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.subscribes++
	f.listeners[id] = listener
	return outbound.SubscriptionFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	})
}

func (f *fakeClient) emit(sess *auth.Session) {
	f.mu.Lock()
	ls := make([]func(*auth.Session), 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(sess)
	}
}

func (f *fakeClient) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func testSession(t *testing.T, userID string) *auth.Session {
	t.Helper()
	now := time.Now()
	sess, err := auth.NewSession(auth.User{ID: userID, Email: userID + "@example.com"}, "at-"+userID, "rt-"+userID, now, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return sess
}

// recorder collects every state delivered to a listener.
type recorder struct {
	mu     sync.Mutex
	states []auth.State
}

func (r *recorder) listen(st auth.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) snapshot() []auth.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]auth.State, len(r.states))
	copy(out, r.states)
	return out
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStore_InitialStateUnknown(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := New(newFakeClient())
	defer store.Close()

	if got := store.State(); got.Status != auth.StatusUnknown || got.Version != 0 {
		t.Errorf("State() = %+v, want Unknown at version 0", got)
	}
}

func TestStore_Initialize(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name       string
		current    bool
		wantStatus auth.Status
	}{
		{name: "persisted session authenticates", current: true, wantStatus: auth.StatusAuthenticated},
		{name: "no session signs out", current: false, wantStatus: auth.StatusUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			if tt.current {
				client.current = testSession(t, "u1")
			}
			store := New(client)
			defer store.Close()

			if err := store.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize() error = %v", err)
			}
			got := store.State()
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", got.Status, tt.wantStatus)
			}
			if got.Version != 1 {
				t.Errorf("Version = %d, want 1", got.Version)
			}
		})
	}
}

func TestStore_StaysUnknownWhileQueryPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	client.block = make(chan struct{})
	store := New(client)
	defer store.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- store.Initialize(context.Background()) }()

	<-client.queryCalled
	if got := store.State().Status; got != auth.StatusUnknown {
		t.Errorf("Status while pending = %v, want unknown", got)
	}

	close(client.block)
	if err := <-errCh; err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := store.State().Status; got != auth.StatusUnauthenticated {
		t.Errorf("Status after init = %v, want unauthenticated", got)
	}
}

func TestStore_NotificationDuringInitWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	client.block = make(chan struct{})
	store := New(client)
	defer store.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- store.Initialize(context.Background()) }()
	<-client.queryCalled

	// The subscription exists before the query, so this event is not lost.
	client.emit(testSession(t, "remote"))
	close(client.block) // query answers "no session", but it is older

	if err := <-errCh; err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	got := store.State()
	if got.Status != auth.StatusAuthenticated || got.Session.User.ID != "remote" {
		t.Errorf("State() = %v/%v, want authenticated as remote", got.Status, got.User())
	}
}

func TestStore_LocalSignInDuringInitWins(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	client.block = make(chan struct{})
	store := New(client)
	defer store.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- store.Initialize(context.Background()) }()
	<-client.queryCalled

	applied, err := store.ApplyLocalResult(context.Background(), SignedIn(testSession(t, "local")))
	if err != nil || !applied {
		t.Fatalf("ApplyLocalResult() = %v, %v, want applied", applied, err)
	}
	close(client.block) // query answers "no session"

	if err := <-errCh; err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	got := store.State()
	if got.Status != auth.StatusAuthenticated || got.Session.User.ID != "local" {
		t.Errorf("State() = %v/%v, want authenticated as local", got.Status, got.User())
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1 (init result dropped)", got.Version)
	}
}

func TestStore_InitializeTwice(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	client.current = testSession(t, "u1")
	store := New(client)
	defer store.Close()

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("first Initialize() error = %v", err)
	}
	before := store.State()

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}

	if client.subscribes != 1 {
		t.Errorf("OnSessionChange called %d times, want 1", client.subscribes)
	}
	after := store.State()
	if after.Status != auth.StatusAuthenticated || after.Version != before.Version {
		t.Errorf("second Initialize() changed state: before %+v after %+v", before, after)
	}
}

func TestStore_InitializeQueryError(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	client.currentErr = errors.New("storage unreadable")
	store := New(client)
	defer store.Close()

	err := store.Initialize(context.Background())
	if !errors.Is(err, auth.ErrProviderFailure) {
		t.Fatalf("Initialize() error = %v, want ErrProviderFailure", err)
	}
	if got := store.State().Status; got != auth.StatusUnauthenticated {
		t.Errorf("Status = %v, want unauthenticated", got)
	}
}

func TestStore_ApplyLocalResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	u1 := testSession(t, "u1")
	tests := []struct {
		name        string
		start       *auth.Session // nil = unauthenticated
		result      LocalResult
		wantApplied bool
		wantStatus  auth.Status
		wantUser    string
	}{
		{
			name:        "sign-in success authenticates",
			result:      SignedIn(u1),
			wantApplied: true,
			wantStatus:  auth.StatusAuthenticated,
			wantUser:    "u1",
		},
		{
			name:        "sign-in failure leaves unauthenticated",
			result:      Failed(auth.ErrInvalidCredentials),
			wantApplied: false,
			wantStatus:  auth.StatusUnauthenticated,
		},
		{
			name:        "failure leaves authenticated untouched",
			start:       u1,
			result:      Failed(auth.ErrNetworkFailure),
			wantApplied: false,
			wantStatus:  auth.StatusAuthenticated,
			wantUser:    "u1",
		},
		{
			name:        "sign-up without session leaves state",
			result:      SignedIn(nil),
			wantApplied: false,
			wantStatus:  auth.StatusUnauthenticated,
		},
		{
			name:        "sign-out clears",
			start:       u1,
			result:      SignedOut(),
			wantApplied: true,
			wantStatus:  auth.StatusUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New(newFakeClient())
			defer store.Close()
			ctx := context.Background()

			if err := store.ApplyExternalEvent(ctx, tt.start); err != nil {
				t.Fatalf("ApplyExternalEvent() error = %v", err)
			}
			before := store.State()

			applied, err := store.ApplyLocalResult(ctx, tt.result)
			if err != nil {
				t.Fatalf("ApplyLocalResult() error = %v", err)
			}
			if applied != tt.wantApplied {
				t.Errorf("applied = %v, want %v", applied, tt.wantApplied)
			}

			got := store.State()
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %v, want %v", got.Status, tt.wantStatus)
			}
			if tt.wantUser != "" && (got.User() == nil || got.User().ID != tt.wantUser) {
				t.Errorf("User() = %v, want %s", got.User(), tt.wantUser)
			}
			if !tt.wantApplied && got != before {
				t.Errorf("State changed on unapplied result: before %+v after %+v", before, got)
			}
		})
	}
}

func TestStore_ExternalSignOutWhileAuthenticated(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	client.current = testSession(t, "u1")
	store := New(client)
	defer store.Close()

	rec := &recorder{}
	unsubscribe := store.Subscribe(rec.listen)
	defer unsubscribe()

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	client.emit(nil)

	if got := store.State().Status; got != auth.StatusUnauthenticated {
		t.Errorf("Status = %v, want unauthenticated", got)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
	states := rec.snapshot()
	if states[0].Status != auth.StatusAuthenticated || states[1].Status != auth.StatusUnauthenticated {
		t.Errorf("transitions = %v -> %v, want authenticated -> unauthenticated", states[0].Status, states[1].Status)
	}
}

// TestStore_LastWriteWinsByArrival applies random sequences of writes and
// checks the final state equals the effect of the last applied write.
func TestStore_LastWriteWinsByArrival(t *testing.T) {
	defer goleak.VerifyNone(t)

	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		store := New(newFakeClient())
		rec := &recorder{}
		store.Subscribe(rec.listen)
		ctx := context.Background()

		want := auth.State{}
		applied := 0
		for i := 0; i < 50; i++ {
			sess := testSession(t, fmt.Sprintf("u%d", i))
			switch rng.Intn(5) {
			case 0:
				_ = store.ApplyExternalEvent(ctx, sess)
				want, applied = auth.Authenticated(sess), applied+1
			case 1:
				_ = store.ApplyExternalEvent(ctx, nil)
				want, applied = auth.Unauthenticated(), applied+1
			case 2:
				_, _ = store.ApplyLocalResult(ctx, SignedIn(sess))
				want, applied = auth.Authenticated(sess), applied+1
			case 3:
				_, _ = store.ApplyLocalResult(ctx, SignedOut())
				want, applied = auth.Unauthenticated(), applied+1
			case 4:
				_, _ = store.ApplyLocalResult(ctx, Failed(auth.ErrNetworkFailure))
			}
		}

		got := store.State()
		if got.Status != want.Status || got.Session != want.Session {
			t.Fatalf("run %d: final state %v/%v, want %v/%v", run, got.Status, got.User(), want.Status, want.User())
		}
		if got.Version != uint64(applied) {
			t.Fatalf("run %d: Version = %d, want %d", run, got.Version, applied)
		}
		waitFor(t, func() bool { return len(rec.snapshot()) == applied })
		store.Close()
	}
}

func TestStore_ConcurrentWritersDeliveredInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := New(newFakeClient())
	defer store.Close()

	rec := &recorder{}
	store.Subscribe(rec.listen)

	const writers, perWriter = 8, 25
	sessions := make([]*auth.Session, writers)
	for w := range sessions {
		sessions[w] = testSession(t, fmt.Sprintf("w%d", w))
	}

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if i%2 == 0 {
					_ = store.ApplyExternalEvent(context.Background(), sessions[w])
				} else {
					_, _ = store.ApplyLocalResult(context.Background(), SignedOut())
				}
			}
		}(w)
	}
	wg.Wait()

	total := writers * perWriter
	if got := store.State().Version; got != uint64(total) {
		t.Fatalf("Version = %d, want %d (lost update)", got, total)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == total })
	for i, st := range rec.snapshot() {
		if st.Version != uint64(i+1) {
			t.Fatalf("transition %d has version %d, want %d", i, st.Version, i+1)
		}
	}
}

func TestStore_StaleSuppression(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name       string
		suppress   bool
		wantStatus auth.Status
	}{
		{name: "stale sign-in applied by arrival order", suppress: false, wantStatus: auth.StatusAuthenticated},
		{name: "stale sign-in dropped with suppression", suppress: true, wantStatus: auth.StatusUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := New(newFakeClient(), WithStaleSuppression(tt.suppress))
			defer store.Close()
			ctx := context.Background()

			// A slow sign-in starts, then the user is signed out elsewhere
			// before it completes.
			ticket := store.Ticket()
			_ = store.ApplyExternalEvent(ctx, nil)
			_, _ = store.ApplyLocalResult(ctx, SignedIn(testSession(t, "u1")).WithTicket(ticket))

			if got := store.State().Status; got != tt.wantStatus {
				t.Errorf("Status = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

type countingObserver struct {
	mu          sync.Mutex
	transitions int
	dropped     map[string]int
}

func (o *countingObserver) ObserveTransition(from, to auth.State, source Source) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions++
}

func (o *countingObserver) ObserveDropped(source Source, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func TestStore_Observer(t *testing.T) {
	defer goleak.VerifyNone(t)

	obs := &countingObserver{dropped: make(map[string]int)}
	store := New(newFakeClient(), WithObserver(obs))
	defer store.Close()
	ctx := context.Background()

	_, _ = store.ApplyLocalResult(ctx, SignedIn(testSession(t, "u1")))
	_, _ = store.ApplyLocalResult(ctx, Failed(auth.ErrInvalidCredentials))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.transitions != 1 {
		t.Errorf("transitions = %d, want 1", obs.transitions)
	}
	if obs.dropped[dropFailed] != 1 {
		t.Errorf("dropped[%s] = %d, want 1", dropFailed, obs.dropped[dropFailed])
	}
}

func TestStore_UnsubscribeIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := New(newFakeClient())
	defer store.Close()

	rec := &recorder{}
	unsubscribe := store.Subscribe(rec.listen)
	unsubscribe()
	unsubscribe()

	_ = store.ApplyExternalEvent(context.Background(), nil)
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("listener called %d times after unsubscribe, want 0", n)
	}
}

func TestStore_ListenerPanicKeepsLoopAlive(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := New(newFakeClient())
	defer store.Close()

	store.Subscribe(func(auth.State) { panic("boom") })
	rec := &recorder{}
	store.Subscribe(rec.listen)

	ctx := context.Background()
	_ = store.ApplyExternalEvent(ctx, nil)
	_ = store.ApplyExternalEvent(ctx, testSession(t, "u1"))

	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
}

func TestStore_Close(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := newFakeClient()
	store := New(client)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if client.listenerCount() != 1 {
		t.Fatalf("listenerCount = %d, want 1", client.listenerCount())
	}

	store.Close()
	store.Close()

	if client.listenerCount() != 0 {
		t.Errorf("listenerCount after Close = %d, want 0", client.listenerCount())
	}
	if err := store.ApplyExternalEvent(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Errorf("ApplyExternalEvent() after Close error = %v, want ErrClosed", err)
	}
	if _, err := store.ApplyLocalResult(context.Background(), SignedOut()); !errors.Is(err, ErrClosed) {
		t.Errorf("ApplyLocalResult() after Close error = %v, want ErrClosed", err)
	}
}
