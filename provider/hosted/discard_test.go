package hosted

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/session"
)

// withoutDiscard hides Gateway.Discard from the engine.
type withoutDiscard struct {
	portalauth.Gateway
}

func refreshingConfig(p *fakeProvider) Config {
	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	cfg.MinRefreshDelay = 30 * time.Millisecond
	return cfg
}

func newHostedEngine(t *testing.T, g portalauth.Gateway) *portalauth.Engine {
	t.Helper()
	engine, err := portalauth.New().WithGateway(g).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.Bootstrap(context.Background()))
	return engine
}

// signInOvertakenBySignOut starts a slow sign-in, signs out while the
// password grant is still in flight and returns the sign-in error.
func signInOvertakenBySignOut(t *testing.T, p *fakeProvider, engine *portalauth.Engine) error {
	t.Helper()
	p.set(func(p *fakeProvider) { p.grantDelay = 150 * time.Millisecond })

	done := make(chan error, 1)
	go func() {
		_, err := engine.SignIn(context.Background(), "ana@clinic.test", "pw123456")
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, engine.SignOut(context.Background()))
	return <-done
}

func TestSupersededSignInLeavesNothingBehind(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)
	store := session.NewMemoryStore(nil)
	g := newGateway(t, refreshingConfig(p), WithPersistence(store))
	engine := newHostedEngine(t, g)

	err := signInOvertakenBySignOut(t, p, engine)
	require.ErrorIs(t, err, portalauth.ErrSuperseded)
	assert.Equal(t, portalauth.StateAnonymous, engine.State())

	assert.Zero(t, store.Len(), "superseded session must not be persisted")
	assert.Equal(t, []string{"local"}, p.scopes())

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, p.refreshCalls.Load(), "superseded session must not be refreshed")
	assert.Equal(t, portalauth.StateAnonymous, engine.State())

	restarted := newGateway(t, p.config(), WithPersistence(store))
	cur, err := restarted.GetCurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestRefreshOfSignedOutSessionIsIgnored(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)
	g := newGateway(t, refreshingConfig(p))
	engine := newHostedEngine(t, withoutDiscard{g})
	events, unsub := collectProviderEvents(g)
	defer unsub()

	err := signInOvertakenBySignOut(t, p, engine)
	require.ErrorIs(t, err, portalauth.ErrSuperseded)

	// The engine listener was registered first, so it has handled the
	// event by the time this one sees it.
	ev := nextEvent(t, events)
	require.Equal(t, portalauth.EventTokenRefreshed, ev.Type)
	assert.Equal(t, portalauth.StateAnonymous, engine.State())
	assert.Nil(t, engine.Current())
}

func TestDiscardRestoresDisplacedSession(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)
	store := session.NewMemoryStore(nil)
	g := newGateway(t, p.config(), WithPersistence(store))
	ctx := context.Background()

	kept, err := g.SignInWithPassword(ctx, "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	stale, err := g.SignInWithPassword(ctx, "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	require.NotEqual(t, kept.AccessToken, stale.AccessToken)

	require.NoError(t, g.Discard(ctx, stale, kept))

	rec, err := store.Load(ctx, defaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, kept.AccessToken, rec.AccessToken)
	assert.Equal(t, []string{"local"}, p.scopes())
}

func TestDiscardIgnoresSessionNoLongerCurrent(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)
	store := session.NewMemoryStore(nil)
	g := newGateway(t, p.config(), WithPersistence(store))
	ctx := context.Background()

	stale, err := g.SignInWithPassword(ctx, "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	current, err := g.SignInWithPassword(ctx, "ana@clinic.test", "pw123456")
	require.NoError(t, err)

	require.NoError(t, g.Discard(ctx, stale, current))

	rec, err := store.Load(ctx, defaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, current.AccessToken, rec.AccessToken)
}
