package portalauth

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// fakeGateway routes each call to an optional hook. Unset hooks fail with a
// network error so a test only wires what it exercises.
type fakeGateway struct {
	ProviderHub

	signUp  func(ctx context.Context, email, password, displayName string) (*Session, error)
	signIn  func(ctx context.Context, email, password string) (*Session, error)
	signOut func(ctx context.Context) error
	current func(ctx context.Context) (*Session, error)
	discard func(ctx context.Context, stale, kept *Session) error

	signOutCalls atomic.Int32
	closed       atomic.Bool
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if g.signUp == nil {
		return nil, WrapNetwork(nil, "sign-up not configured")
	}
	return g.signUp(ctx, email, password, displayName)
}

func (g *fakeGateway) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	if g.signIn == nil {
		return nil, WrapNetwork(nil, "sign-in not configured")
	}
	return g.signIn(ctx, email, password)
}

func (g *fakeGateway) SignOut(ctx context.Context) error {
	g.signOutCalls.Add(1)
	if g.signOut == nil {
		return nil
	}
	return g.signOut(ctx)
}

func (g *fakeGateway) GetCurrentSession(ctx context.Context) (*Session, error) {
	if g.current == nil {
		return nil, nil
	}
	return g.current(ctx)
}

func (g *fakeGateway) Discard(ctx context.Context, stale, kept *Session) error {
	if g.discard == nil {
		return nil
	}
	return g.discard(ctx, stale, kept)
}

func (g *fakeGateway) OnSessionChange(listener ProviderListener) Unsubscribe {
	return g.Add(listener)
}

func (g *fakeGateway) Close() error {
	g.closed.Store(true)
	return nil
}

func testSession(id string) *Session {
	return &Session{
		ID:          id,
		DisplayName: "User " + id,
		Email:       id + "@clinic.test",
		AccessToken: "token-" + id,
		ExpiresAt:   time.Now().Add(time.Hour).Truncate(time.Second),
	}
}

func newTestEngine(t *testing.T, g Gateway, mutate ...func(*Builder)) *Engine {
	t.Helper()

	b := New().WithGateway(g).WithLatencyHistograms(true)
	for _, m := range mutate {
		m(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func newBootstrappedEngine(t *testing.T, g Gateway, mutate ...func(*Builder)) *Engine {
	t.Helper()

	engine := newTestEngine(t, g, mutate...)
	if err := engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return engine
}

// recorder collects listener deliveries.
type recorder struct {
	ch chan *Session
}

func newRecorder(buffer int) *recorder {
	return &recorder{ch: make(chan *Session, buffer)}
}

func (r *recorder) listen(s *Session) {
	r.ch <- s
}

func (r *recorder) next(t *testing.T) *Session {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("expected a listener notification")
		return nil
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.ch:
		t.Fatalf("unexpected notification: %+v", s)
	case <-time.After(30 * time.Millisecond):
	}
}

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
