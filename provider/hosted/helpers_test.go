package hosted

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/portalauth/jwt"
)

const (
	testAPIKey    = "anon-test-key"
	testJWTSecret = "provider-test-secret"
)

type fakeUser struct {
	id       string
	email    string
	password string
	meta     map[string]any
}

// fakeProvider is a minimal GoTrue-compatible auth server.
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server
	tokens *jwt.Manager

	mu            sync.Mutex
	users         map[string]*fakeUser
	refresh       map[string]string
	confirm       bool
	failLogout    bool
	rejectRefresh bool
	status        int
	rawBody       string
	grantDelay    time.Duration
	logoutScopes  []string

	rotation      atomic.Int64
	refreshCalls  atomic.Int64
	logoutCalls   atomic.Int64
	userCalls     atomic.Int64
	missingAPIKey atomic.Int64
}

func newFakeProvider(t *testing.T, accessTTL time.Duration) *fakeProvider {
	t.Helper()
	tokens, err := jwt.NewManager(jwt.Config{AccessTTL: accessTTL, Secret: []byte(testJWTSecret)})
	require.NoError(t, err)

	p := &fakeProvider{
		t:       t,
		tokens:  tokens,
		users:   make(map[string]*fakeUser),
		refresh: make(map[string]string),
	}
	p.server = httptest.NewServer(http.HandlerFunc(p.serve))
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) config() Config {
	return Config{
		URL:             p.server.URL,
		APIKey:          testAPIKey,
		RequestTimeout:  2 * time.Second,
		MinRefreshDelay: 20 * time.Millisecond,
		RetryInterval:   20 * time.Millisecond,
	}
}

func (p *fakeProvider) addUser(email, password string, meta map[string]any) *fakeUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := &fakeUser{
		id:       fmt.Sprintf("user-%d", len(p.users)+1),
		email:    email,
		password: password,
		meta:     meta,
	}
	p.users[email] = u
	return u
}

// issueRefresh registers a refresh token for u outside any grant.
func (p *fakeProvider) issueRefresh(u *fakeUser) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	token := fmt.Sprintf("refresh-%s-%d", u.id, p.rotation.Add(1))
	p.refresh[token] = u.email
	return token
}

func (p *fakeProvider) set(fn func(p *fakeProvider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakeProvider) scopes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logoutScopes...)
}

func (p *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != testAPIKey {
		p.missingAPIKey.Add(1)
	}

	p.mu.Lock()
	status, raw := p.status, p.rawBody
	p.mu.Unlock()
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(raw))
		return
	}

	switch {
	case r.URL.Path == "/auth/v1/signup":
		p.signUp(w, r)
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		p.passwordGrant(w, r)
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		p.refreshGrant(w, r)
	case r.URL.Path == "/auth/v1/logout":
		p.logoutCalls.Add(1)
		p.mu.Lock()
		fail := p.failLogout
		p.logoutScopes = append(p.logoutScopes, r.URL.Query().Get("scope"))
		p.mu.Unlock()
		if fail {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"msg": "upstream unavailable"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case r.URL.Path == "/auth/v1/user":
		p.currentUser(w, r)
	default:
		http.NotFound(w, r)
	}
}

type credsBody struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	Data         map[string]any `json:"data"`
	RefreshToken string         `json:"refresh_token"`
}

func (p *fakeProvider) signUp(w http.ResponseWriter, r *http.Request) {
	var in credsBody
	_ = json.NewDecoder(r.Body).Decode(&in)

	p.mu.Lock()
	_, exists := p.users[in.Email]
	confirm := p.confirm
	p.mu.Unlock()

	switch {
	case exists:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	case len(in.Password) < 6:
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "weak_password", "msg": "Password should be at least 6 characters."})
		return
	}

	u := p.addUser(in.Email, in.Password, in.Data)
	if confirm {
		writeJSON(w, http.StatusOK, userJSON(u))
		return
	}
	p.writeTokens(w, u)
}

func (p *fakeProvider) passwordGrant(w http.ResponseWriter, r *http.Request) {
	var in credsBody
	_ = json.NewDecoder(r.Body).Decode(&in)

	p.mu.Lock()
	u, ok := p.users[in.Email]
	delay := p.grantDelay
	p.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !ok || u.password != in.Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
		return
	}
	p.writeTokens(w, u)
}

func (p *fakeProvider) refreshGrant(w http.ResponseWriter, r *http.Request) {
	p.refreshCalls.Add(1)
	var in credsBody
	_ = json.NewDecoder(r.Body).Decode(&in)

	p.mu.Lock()
	email, ok := p.refresh[in.RefreshToken]
	reject := p.rejectRefresh
	if ok {
		delete(p.refresh, in.RefreshToken)
	}
	u := p.users[email]
	p.mu.Unlock()

	if !ok || reject || u == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found"})
		return
	}
	p.writeTokens(w, u)
}

func (p *fakeProvider) currentUser(w http.ResponseWriter, r *http.Request) {
	p.userCalls.Add(1)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := p.tokens.ParseAccess(token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}

	p.mu.Lock()
	var found *fakeUser
	for _, u := range p.users {
		if u.id == claims.Subject {
			found = u
		}
	}
	p.mu.Unlock()
	if found == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"msg": "User not found"})
		return
	}
	writeJSON(w, http.StatusOK, userJSON(found))
}

func (p *fakeProvider) writeTokens(w http.ResponseWriter, u *fakeUser) {
	access, expiresAt, err := p.tokens.Mint(u.id, u.email, map[string]any{"rotation": p.rotation.Load()})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": err.Error()})
		return
	}
	refresh := p.issueRefresh(u)
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    int64(time.Until(expiresAt).Seconds()),
		"expires_at":    expiresAt.Unix(),
		"refresh_token": refresh,
		"user":          userJSON(u),
	})
}

func userJSON(u *fakeUser) map[string]any {
	meta := u.meta
	if meta == nil {
		meta = map[string]any{}
	}
	return map[string]any{
		"id":            u.id,
		"aud":           "authenticated",
		"email":         u.email,
		"user_metadata": meta,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
