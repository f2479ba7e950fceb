package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoVerifyKey is returned by ParseAccess on a manager without a secret.
var ErrNoVerifyKey = errors.New("no verification key configured")

// Config controls token minting and verification.
type Config struct {
	AccessTTL time.Duration
	// Secret is the HS256 key. Required for Mint and ParseAccess.
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
	// Now overrides time.Now for issuing and validating tokens.
	Now func() time.Time
}

// Manager mints and verifies access tokens. It is safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims mirrors the provider's access-token payload.
type AccessClaims struct {
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	AAL          string         `json:"aal,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates cfg. A manager without a secret can still Inspect.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg}, nil
}

// CanVerify reports whether the manager holds a verification key.
func (j *Manager) CanVerify() bool {
	return len(j.config.Secret) > 0
}

// Mint issues a token for subject valid for AccessTTL.
func (j *Manager) Mint(subject, email string, metadata map[string]any) (string, time.Time, error) {
	if len(j.config.Secret) == 0 {
		return "", time.Time{}, errors.New("hs256 requires a secret")
	}
	if j.config.AccessTTL <= 0 {
		return "", time.Time{}, errors.New("minting requires a positive TTL")
	}
	if subject == "" {
		return "", time.Time{}, errors.New("subject required")
	}

	now := j.config.Now()
	expiresAt := now.Add(j.config.AccessTTL).Truncate(time.Second)
	claims := AccessClaims{
		Email:        email,
		Role:         "authenticated",
		AAL:          "aal1",
		UserMetadata: metadata,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    j.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess verifies signature, algorithm, expiry and, when configured,
// issuer and audience.
func (j *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	if len(j.config.Secret) == 0 {
		return nil, ErrNoVerifyKey
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.config.Now),
		jwt.WithExpirationRequired(),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &AccessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return j.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Inspect decodes the claims without checking the signature. Use it only on
// tokens received directly from the provider over TLS.
func Inspect(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Expiry returns the exp claim, or the zero time when absent.
func (c *AccessClaims) Expiry() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
