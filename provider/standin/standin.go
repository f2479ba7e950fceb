package standin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/jwt"
	"github.com/MrEthical07/portalauth/password"
)

// Name is reported by Gateway.Name.
const Name = "standin"

// TokenTTL is the lifetime of minted access tokens.
const TokenTTL = time.Hour

// signingKey is public on purpose: stand-in tokens authorize nothing.
var signingKey = []byte("portalauth-standin-signing-key-not-a-secret")

// Account seeds the registry.
type Account struct {
	Email       string
	Password    string
	DisplayName string
	Metadata    map[string]any
}

type account struct {
	id          string
	email       string
	displayName string
	hash        string
	metadata    map[string]any
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	accounts    []Account
	failSignOut bool
	latency     time.Duration
	now         func() time.Time
}

// WithAccounts pre-registers accounts.
func WithAccounts(accounts ...Account) Option {
	return func(o *options) { o.accounts = append(o.accounts, accounts...) }
}

// WithSignOutFailure makes SignOut report a network error after clearing
// local state, as a live provider would when offline.
func WithSignOutFailure(fail bool) Option {
	return func(o *options) { o.failSignOut = fail }
}

// WithLatency delays every call by d, or until ctx ends.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithClock overrides time.Now for token issuance.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Gateway is the deterministic offline stand-in. Accounts live in memory and
// are keyed by lower-cased e-mail; identifiers are derived from the e-mail so
// the same address always gets the same ID. It never fires provider events.
type Gateway struct {
	mu       sync.Mutex
	accounts map[string]*account
	current  *portalauth.Session

	hasher      *password.Hasher
	tokens      *jwt.Manager
	failSignOut bool
	latency     time.Duration

	hub portalauth.ProviderHub
}

// New returns a stand-in gateway. Seed accounts failing sign-up validation
// are reported as an error.
func New(opts ...Option) (*Gateway, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	hasher, err := password.New(password.StandinParams(), password.PortalPolicy)
	if err != nil {
		return nil, err
	}
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL: TokenTTL,
		Secret:    signingKey,
		Issuer:    Name,
		Now:       o.now,
	})
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		accounts:    make(map[string]*account),
		hasher:      hasher,
		tokens:      tokens,
		failSignOut: o.failSignOut,
		latency:     o.latency,
	}
	for _, a := range o.accounts {
		if _, err := g.register(a.Email, a.Password, a.DisplayName, a.Metadata); err != nil {
			return nil, fmt.Errorf("seed account %q: %w", a.Email, err)
		}
	}
	return g, nil
}

func (g *Gateway) Name() string { return Name }

// SignUp registers a new account and signs it in.
func (g *Gateway) SignUp(ctx context.Context, email, pw, displayName string) (*portalauth.Session, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	acct, err := g.register(email, pw, displayName, nil)
	if err != nil {
		return nil, err
	}
	return g.establish(acct)
}

// SignInWithPassword checks the credentials against the registry. Unknown
// e-mail and wrong password fail identically.
func (g *Gateway) SignInWithPassword(ctx context.Context, email, pw string) (*portalauth.Session, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	g.mu.Lock()
	acct, ok := g.accounts[normalizeEmail(email)]
	g.mu.Unlock()
	if !ok {
		return nil, invalidCredentials()
	}

	match, err := g.hasher.Verify(pw, acct.hash)
	if err != nil || !match {
		return nil, invalidCredentials()
	}
	return g.establish(acct)
}

// SignOut clears the current session. With WithSignOutFailure it then
// reports a network error.
func (g *Gateway) SignOut(ctx context.Context) error {
	waitErr := g.wait(ctx)

	g.mu.Lock()
	g.current = nil
	g.mu.Unlock()

	if waitErr != nil {
		return waitErr
	}
	if g.failSignOut {
		return portalauth.WrapNetwork(nil, "simulated sign-out failure")
	}
	return nil
}

// Discard replaces the current session with kept when it is still stale, the
// result of a sign-in the engine did not apply.
func (g *Gateway) Discard(_ context.Context, stale, kept *portalauth.Session) error {
	if stale == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && g.current.ID == stale.ID && g.current.AccessToken == stale.AccessToken {
		g.current = kept.Clone()
	}
	return nil
}

// GetCurrentSession returns the session established by the last successful
// sign-in or sign-up, or nil.
func (g *Gateway) GetCurrentSession(ctx context.Context) (*portalauth.Session, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current.Clone(), nil
}

// OnSessionChange registers listener. The stand-in has no provider side, so
// it is never called.
func (g *Gateway) OnSessionChange(listener portalauth.ProviderListener) portalauth.Unsubscribe {
	return g.hub.Add(listener)
}

// Accounts reports the number of registered accounts.
func (g *Gateway) Accounts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.accounts)
}

// IDFor returns the identifier the stand-in assigns to email.
func IDFor(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+normalizeEmail(email))).String()
}

type signUpInput struct {
	Email       string
	Password    string
	DisplayName string
}

func (in signUpInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, validation.Required, validation.Length(6, 72)),
		validation.Field(&in.DisplayName, validation.Length(0, 200)),
	)
}

func (g *Gateway) register(email, pw, displayName string, metadata map[string]any) (*account, error) {
	in := signUpInput{
		Email:       strings.TrimSpace(email),
		Password:    pw,
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := in.Validate(); err != nil {
		return nil, &portalauth.AuthError{
			Kind:    portalauth.KindValidation,
			Code:    "validation_failed",
			Message: err.Error(),
			Cause:   err,
		}
	}

	key := normalizeEmail(in.Email)
	g.mu.Lock()
	_, exists := g.accounts[key]
	g.mu.Unlock()
	if exists {
		return nil, portalauth.NewAuthError(portalauth.KindConflict, "user_already_exists", "User already registered")
	}

	hash, err := g.hasher.Hash(pw)
	if err != nil {
		return nil, portalauth.NewAuthError(portalauth.KindValidation, "weak_password", err.Error())
	}

	meta := map[string]any{}
	for k, v := range metadata {
		meta[k] = v
	}
	if in.DisplayName != "" {
		meta["display_name"] = in.DisplayName
	}

	acct := &account{
		id:          IDFor(key),
		email:       in.Email,
		displayName: in.DisplayName,
		hash:        hash,
		metadata:    meta,
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.accounts[key]; exists {
		return nil, portalauth.NewAuthError(portalauth.KindConflict, "user_already_exists", "User already registered")
	}
	g.accounts[key] = acct
	return acct, nil
}

func (g *Gateway) establish(acct *account) (*portalauth.Session, error) {
	token, expiresAt, err := g.tokens.Mint(acct.id, acct.email, acct.metadata)
	if err != nil {
		return nil, portalauth.WrapNetwork(err, "could not issue access token")
	}

	sess := &portalauth.Session{
		ID:          acct.id,
		DisplayName: acct.displayName,
		Email:       acct.email,
		Metadata:    acct.metadata,
		AccessToken: token,
		ExpiresAt:   expiresAt,
	}

	g.mu.Lock()
	g.current = sess.Clone()
	g.mu.Unlock()
	return sess, nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if g.latency <= 0 {
		if err := ctx.Err(); err != nil {
			return portalauth.WrapNetwork(err, "request cancelled")
		}
		return nil
	}

	timer := time.NewTimer(g.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return portalauth.WrapNetwork(ctx.Err(), "request cancelled")
	}
}

func invalidCredentials() error {
	return portalauth.NewAuthError(portalauth.KindInvalidCredentials, "invalid_credentials", "Invalid login credentials")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
