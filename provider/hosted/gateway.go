package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/jwt"
	"github.com/MrEthical07/portalauth/session"
)

// Name is reported by Gateway.Name.
const Name = "hosted"

// Option customizes a Gateway.
type Option func(*Gateway)

// WithHTTPClient sets the transport. Timeouts come from Config.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithPersistence sets where provider tokens are kept between runs. The
// default is an in-memory store.
func WithPersistence(p session.Persistence) Option {
	return func(g *Gateway) { g.store = p }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway is the live portalauth.Gateway.
type Gateway struct {
	config     Config
	httpClient *http.Client
	client     *client
	store      session.Persistence
	tokens     *jwt.Manager
	logger     *slog.Logger
	hub        portalauth.ProviderHub

	mu      sync.Mutex
	current *session.Record
	// prev is the record current replaced, kept so that Discard can put back
	// a session the engine still holds.
	prev *session.Record
	// gen is bumped whenever current is replaced, so a refresh started
	// against an older record drops its result.
	gen    uint64
	timer  *time.Timer
	closed bool

	refreshCtx    context.Context
	cancelRefresh context.CancelFunc
	inflight      sync.WaitGroup
}

// New validates cfg and returns a Gateway.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	g := &Gateway{config: cfg}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	if g.store == nil {
		g.store = session.NewMemoryStore(cfg.Now)
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Secret: []byte(cfg.JWTSecret),
		Leeway: 30 * time.Second,
		Now:    cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	g.tokens = tokens
	g.client = newClient(g.httpClient, cfg)
	g.refreshCtx, g.cancelRefresh = context.WithCancel(context.Background())
	return g, nil
}

func (g *Gateway) Name() string { return Name }

// SignUp creates an account. When the provider holds the session back until
// the address is confirmed, the result is ErrConfirmationPending.
func (g *Gateway) SignUp(ctx context.Context, email, password, displayName string) (*portalauth.Session, error) {
	resp, err := g.client.signUp(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, portalauth.NewAuthError(portalauth.KindConfirmationPending,
			"email_not_confirmed", "Check your e-mail to confirm your account")
	}
	return g.establish(ctx, &resp.tokenResponse)
}

// SignInWithPassword exchanges credentials for a session.
func (g *Gateway) SignInWithPassword(ctx context.Context, email, password string) (*portalauth.Session, error) {
	resp, err := g.client.passwordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return g.establish(ctx, resp)
}

// SignOut forgets the session locally, then revokes it at the provider. A
// token the provider no longer recognizes counts as revoked.
func (g *Gateway) SignOut(ctx context.Context) error {
	g.mu.Lock()
	rec := g.current
	g.replaceLocked(nil)
	g.mu.Unlock()

	if err := g.store.Delete(ctx, g.config.StorageKey); err != nil {
		g.logger.Warn("hosted: could not delete persisted session", slog.Any("error", err))
	}
	if rec == nil || rec.AccessToken == "" {
		return nil
	}

	err := g.client.logout(ctx, rec.AccessToken, "")
	if err != nil && errors.Is(err, portalauth.ErrInvalidCredentials) {
		return nil
	}
	if err != nil {
		return portalauth.WrapNetwork(err, "remote sign-out failed")
	}
	return nil
}

// Discard forgets stale, a sign-in result the engine did not apply. If stale
// is still the current record it is replaced by kept when kept is the record
// it displaced, and cleared otherwise; the persisted record follows. The
// stale access token is then revoked at the provider for this session only.
func (g *Gateway) Discard(ctx context.Context, stale, kept *portalauth.Session) error {
	if stale == nil || stale.AccessToken == "" {
		return nil
	}

	g.mu.Lock()
	matched := sameSession(g.current, stale)
	var restore *session.Record
	if matched && kept != nil && sameSession(g.prev, kept) {
		restore = g.prev.Clone()
	}
	if matched {
		g.replaceLocked(restore)
	}
	g.mu.Unlock()

	if matched {
		var err error
		if restore != nil {
			err = g.store.Save(ctx, g.config.StorageKey, restore, g.config.RecordTTL)
		} else {
			err = g.store.Delete(ctx, g.config.StorageKey)
		}
		if err != nil {
			g.logger.Warn("hosted: could not update persisted session after discard", slog.Any("error", err))
		}
	}

	if kept != nil && kept.AccessToken == stale.AccessToken {
		return nil
	}
	err := g.client.logout(ctx, stale.AccessToken, "local")
	if err != nil && !errors.Is(err, portalauth.ErrInvalidCredentials) {
		return portalauth.WrapNetwork(err, "could not revoke superseded session")
	}
	return nil
}

func sameSession(rec *session.Record, sess *portalauth.Session) bool {
	return rec != nil && sess != nil && rec.UserID == sess.ID && rec.AccessToken == sess.AccessToken
}

// GetCurrentSession recovers the persisted session. A record close to expiry
// is refreshed first; one whose refresh token was rejected is deleted and
// reported as no session.
func (g *Gateway) GetCurrentSession(ctx context.Context) (*portalauth.Session, error) {
	rec, err := g.store.Load(ctx, g.config.StorageKey)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return nil, nil
	case errors.Is(err, session.ErrCorrupt):
		g.logger.Warn("hosted: discarded unreadable persisted session", slog.Any("error", err))
		return nil, nil
	case err != nil:
		return nil, portalauth.WrapNetwork(err, "could not load persisted session")
	}

	if rec.RefreshToken != "" && rec.ExpiresWithin(g.config.Now(), g.config.RefreshMargin) {
		return g.recoverByRefresh(ctx, rec)
	}

	user, err := g.client.user(ctx, rec.AccessToken)
	if err != nil {
		if errors.Is(err, portalauth.ErrInvalidCredentials) && rec.RefreshToken != "" {
			return g.recoverByRefresh(ctx, rec)
		}
		if errors.Is(err, portalauth.ErrInvalidCredentials) {
			g.forget(ctx)
			return nil, nil
		}
		return nil, err
	}
	if user.ID == "" {
		return nil, portalauth.WrapNetwork(nil, "provider returned an incomplete user")
	}
	if user.ID != rec.UserID {
		g.forget(ctx)
		return nil, portalauth.WrapNetwork(nil, "provider returned a different user for the persisted session")
	}

	if user.Email != "" {
		rec.Email = user.Email
	}
	if len(user.UserMetadata) > 0 {
		rec.Metadata = append([]byte(nil), user.UserMetadata...)
		if meta, err := decodeMetadata(user.UserMetadata); err == nil {
			rec.DisplayName = displayNameFrom(meta)
		}
	}

	sess, err := sessionFromRecord(rec)
	if err != nil {
		return nil, err
	}
	g.adopt(ctx, rec, false)
	return sess, nil
}

// OnSessionChange registers listener for refresh outcomes.
func (g *Gateway) OnSessionChange(listener portalauth.ProviderListener) portalauth.Unsubscribe {
	return g.hub.Add(listener)
}

// Close stops the refresher and waits for an in-flight refresh to return.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	g.cancelRefresh()
	g.inflight.Wait()
	return nil
}

func (g *Gateway) recoverByRefresh(ctx context.Context, rec *session.Record) (*portalauth.Session, error) {
	resp, err := g.client.refreshGrant(ctx, rec.RefreshToken)
	if err != nil {
		if errors.Is(err, portalauth.ErrInvalidCredentials) {
			g.logger.Info("hosted: persisted refresh token rejected; starting signed out")
			g.forget(ctx)
			return nil, nil
		}
		return nil, err
	}
	return g.establish(ctx, resp)
}

// establish converts a token response, persists it and schedules its
// refresh.
func (g *Gateway) establish(ctx context.Context, resp *tokenResponse) (*portalauth.Session, error) {
	rec, err := g.recordFrom(resp)
	if err != nil {
		return nil, err
	}
	sess, err := sessionFromRecord(rec)
	if err != nil {
		return nil, err
	}
	g.adopt(ctx, rec, true)
	return sess, nil
}

func (g *Gateway) adopt(ctx context.Context, rec *session.Record, persist bool) {
	if persist {
		if err := g.store.Save(ctx, g.config.StorageKey, rec, g.config.RecordTTL); err != nil {
			g.logger.Warn("hosted: could not persist session; it will not survive a restart",
				slog.Any("error", err),
			)
		}
	}
	g.mu.Lock()
	g.replaceLocked(rec)
	g.mu.Unlock()
}

func (g *Gateway) forget(ctx context.Context) {
	g.mu.Lock()
	g.replaceLocked(nil)
	g.mu.Unlock()
	if err := g.store.Delete(ctx, g.config.StorageKey); err != nil {
		g.logger.Warn("hosted: could not delete persisted session", slog.Any("error", err))
	}
}

// replaceLocked swaps the current record and reschedules the refresher.
// Caller holds g.mu.
func (g *Gateway) replaceLocked(rec *session.Record) {
	g.gen++
	g.prev = g.current
	g.current = rec.Clone()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if rec == nil || g.closed || !g.config.Refresh || rec.RefreshToken == "" || rec.ExpiresAt == 0 {
		return
	}
	delay := rec.Expiry().Sub(g.config.Now()) - g.config.RefreshMargin
	g.scheduleLocked(delay, g.gen)
}

func (g *Gateway) recordFrom(resp *tokenResponse) (*session.Record, error) {
	if resp == nil || resp.AccessToken == "" || resp.User == nil || resp.User.ID == "" {
		return nil, portalauth.WrapNetwork(nil, "provider returned an incomplete session")
	}

	claims, err := g.claims(resp.AccessToken)
	if err != nil {
		return nil, portalauth.WrapNetwork(err, "provider returned an unreadable access token")
	}
	if claims.Subject != resp.User.ID {
		return nil, portalauth.WrapNetwork(nil, "access token subject does not match user")
	}

	now := g.config.Now()
	var expiresAt time.Time
	switch {
	case resp.ExpiresAt > 0:
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		expiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	default:
		expiresAt = claims.Expiry()
	}

	rec := &session.Record{
		SchemaVersion: session.CurrentSchemaVersion,
		UserID:        resp.User.ID,
		Email:         firstNonEmpty(resp.User.Email, claims.Email),
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		CreatedAt:     now.Unix(),
	}
	if !expiresAt.IsZero() {
		rec.ExpiresAt = expiresAt.Unix()
	}
	if raw := bytes.TrimSpace(resp.User.UserMetadata); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		meta, err := decodeMetadata(raw)
		if err != nil {
			return nil, portalauth.WrapNetwork(err, "provider returned malformed user metadata")
		}
		rec.Metadata = append([]byte(nil), raw...)
		rec.DisplayName = displayNameFrom(meta)
	}
	return rec, nil
}

func (g *Gateway) claims(token string) (*jwt.AccessClaims, error) {
	if g.tokens.CanVerify() {
		return g.tokens.ParseAccess(token)
	}
	return jwt.Inspect(token)
}

func sessionFromRecord(rec *session.Record) (*portalauth.Session, error) {
	if rec == nil || rec.UserID == "" {
		return nil, portalauth.WrapNetwork(nil, "persisted session has no user")
	}
	sess := &portalauth.Session{
		ID:          rec.UserID,
		DisplayName: rec.DisplayName,
		Email:       rec.Email,
		AccessToken: rec.AccessToken,
		ExpiresAt:   rec.Expiry(),
	}
	if len(rec.Metadata) > 0 {
		meta, err := decodeMetadata(rec.Metadata)
		if err != nil {
			return nil, portalauth.WrapNetwork(err, "persisted user metadata is malformed")
		}
		sess.Metadata = meta
	}
	return sess, nil
}

func decodeMetadata(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func displayNameFrom(meta map[string]any) string {
	for _, key := range []string{"full_name", "display_name", "name"} {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
