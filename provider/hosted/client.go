package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrEthical07/portalauth"
)

const maxResponseBytes = 1 << 20

// client speaks the provider's auth REST API. Every method returns
// *portalauth.AuthError failures.
type client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
}

func newClient(httpClient *http.Client, cfg Config) *client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &client{
		http:    httpClient,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.RequestTimeout,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return c
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         *userPayload `json:"user"`
}

type userPayload struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	UserMetadata json.RawMessage `json:"user_metadata"`
}

// signUpResponse is a token response, or a bare user when the provider
// requires e-mail confirmation first.
type signUpResponse struct {
	tokenResponse
	userPayload
}

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

func (c *client) signUp(ctx context.Context, email, password, displayName string) (*signUpResponse, error) {
	body := credentials{Email: email, Password: password}
	if displayName != "" {
		body.Data = map[string]any{"full_name": displayName}
	}
	var out signUpResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) passwordGrant(ctx context.Context, email, password string) (*tokenResponse, error) {
	var out tokenResponse
	q := url.Values{"grant_type": {"password"}}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", credentials{Email: email, Password: password}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) refreshGrant(ctx context.Context, refreshToken string) (*tokenResponse, error) {
	var out tokenResponse
	q := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", q, "", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// logout revokes accessToken. An empty scope leaves the provider default,
// which ends every session of the user; "local" ends only this one.
func (c *client) logout(ctx context.Context, accessToken, scope string) error {
	var query url.Values
	if scope != "" {
		query = url.Values{"scope": {scope}}
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", query, accessToken, nil, nil)
}

func (c *client) user(ctx context.Context, accessToken string) (*userPayload, error) {
	var out userPayload
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return portalauth.WrapNetwork(err, "request cancelled while waiting for rate limiter")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return portalauth.WrapNetwork(err, "could not encode request")
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return portalauth.WrapNetwork(err, "could not build request")
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.http.Do(req)
	if err != nil {
		return portalauth.WrapNetwork(err, "could not reach identity provider")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return portalauth.WrapNetwork(err, "could not read provider response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		if out != nil {
			return portalauth.WrapNetwork(nil, "empty provider response")
		}
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return portalauth.WrapNetwork(err, "malformed provider response")
	}
	return nil
}
