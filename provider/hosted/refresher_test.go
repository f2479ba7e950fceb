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

func collectProviderEvents(g *Gateway) (<-chan portalauth.ProviderEvent, portalauth.Unsubscribe) {
	events := make(chan portalauth.ProviderEvent, 64)
	unsub := g.OnSessionChange(func(_ context.Context, ev portalauth.ProviderEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	return events, unsub
}

func nextEvent(t *testing.T, events <-chan portalauth.ProviderEvent) portalauth.ProviderEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for provider event")
		return portalauth.ProviderEvent{}
	}
}

func TestRefresherRenewsBeforeExpiry(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)
	store := session.NewMemoryStore(nil)

	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	g := newGateway(t, cfg, WithPersistence(store))
	events, unsub := collectProviderEvents(g)
	defer unsub()

	first, err := g.SignInWithPassword(context.Background(), "ana@clinic.test", "pw123456")
	require.NoError(t, err)

	ev := nextEvent(t, events)
	require.Equal(t, portalauth.EventTokenRefreshed, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, first.ID, ev.Session.ID)
	assert.NotEqual(t, first.AccessToken, ev.Session.AccessToken)

	rec, err := store.Load(context.Background(), defaultStorageKey)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.RefreshToken)
}

func TestRefresherEndsSessionWhenGrantRejected(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)
	store := session.NewMemoryStore(nil)

	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	g := newGateway(t, cfg, WithPersistence(store))
	events, unsub := collectProviderEvents(g)
	defer unsub()

	p.set(func(p *fakeProvider) { p.rejectRefresh = true })
	_, err := g.SignInWithPassword(context.Background(), "ana@clinic.test", "pw123456")
	require.NoError(t, err)

	ev := nextEvent(t, events)
	assert.Equal(t, portalauth.EventSignedOut, ev.Type)
	assert.Nil(t, ev.Session)
	assert.Zero(t, store.Len())
}

func TestRefresherRetriesTransientFailures(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)

	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	g := newGateway(t, cfg)
	events, unsub := collectProviderEvents(g)
	defer unsub()

	_, err := g.SignInWithPassword(context.Background(), "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	p.set(func(p *fakeProvider) { p.status, p.rawBody = 503, `{"msg":"down"}` })

	time.Sleep(100 * time.Millisecond)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event while provider is down: %v", ev.Type)
	default:
	}

	p.set(func(p *fakeProvider) { p.status = 0 })
	ev := nextEvent(t, events)
	assert.Equal(t, portalauth.EventTokenRefreshed, ev.Type)
}

func TestSignOutStopsRefresher(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)

	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	cfg.MinRefreshDelay = 50 * time.Millisecond
	g := newGateway(t, cfg)

	_, err := g.SignInWithPassword(context.Background(), "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	require.NoError(t, g.SignOut(context.Background()))

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, p.refreshCalls.Load())
}

func TestCloseStopsRefresher(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)

	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	cfg.MinRefreshDelay = 50 * time.Millisecond
	g := newGateway(t, cfg)

	_, err := g.SignInWithPassword(context.Background(), "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	require.NoError(t, g.Close())

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, p.refreshCalls.Load())
}

func TestRefreshedTokenReachesEngineStore(t *testing.T) {
	p := newFakeProvider(t, time.Hour)
	p.addUser("ana@clinic.test", "pw123456", nil)

	cfg := p.config()
	cfg.Refresh = true
	cfg.RefreshMargin = 2 * time.Hour
	cfg.MinRefreshDelay = 30 * time.Millisecond
	g, err := New(cfg)
	require.NoError(t, err)

	engine, err := portalauth.New().WithGateway(g).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	require.NoError(t, engine.Bootstrap(context.Background()))

	changed := make(chan struct{}, 16)
	engine.Subscribe(func(*portalauth.Session) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	// A refresh only renews a session the store holds, so it cannot land
	// before the sign-in.
	signedIn, err := engine.SignIn(context.Background(), "ana@clinic.test", "pw123456")
	require.NoError(t, err)
	require.NotNil(t, signedIn)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-changed:
		case <-deadline:
			t.Fatal("refreshed token never reached the store")
		}
		cur := engine.Current()
		if cur != nil && cur.AccessToken != signedIn.AccessToken {
			assert.Equal(t, signedIn.ID, cur.ID)
			assert.Equal(t, portalauth.StateAuthenticated, engine.State())
			return
		}
	}
}
