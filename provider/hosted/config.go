package hosted

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config holds the hosted gateway settings. Zero durations take the defaults
// below.
type Config struct {
	URL    string
	APIKey string
	// JWTSecret enables signature verification of access tokens. Without it
	// claims are decoded unverified.
	JWTSecret string

	RequestTimeout    time.Duration
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int

	// StorageKey names the persisted record.
	StorageKey string
	// RecordTTL bounds how long a persisted record outlives its last write.
	RecordTTL time.Duration

	Refresh         bool
	RefreshMargin   time.Duration
	RetryInterval   time.Duration
	MinRefreshDelay time.Duration

	// Now overrides time.Now.
	Now func() time.Time
}

const (
	defaultRequestTimeout  = 10 * time.Second
	defaultStorageKey      = "auth-token"
	defaultRecordTTL       = 30 * 24 * time.Hour
	defaultRefreshMargin   = 60 * time.Second
	defaultRetryInterval   = 15 * time.Second
	defaultMinRefreshDelay = time.Second
)

func (c *Config) applyDefaults() {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if strings.TrimSpace(c.StorageKey) == "" {
		c.StorageKey = defaultStorageKey
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = defaultRecordTTL
	}
	if c.RefreshMargin <= 0 {
		c.RefreshMargin = defaultRefreshMargin
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.MinRefreshDelay <= 0 {
		c.MinRefreshDelay = defaultMinRefreshDelay
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("hosted: API key required")
	}
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil || u.Host == "" {
		return errors.New("hosted: URL must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("hosted: URL scheme must be http or https")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("hosted: RequestsPerSecond must be >= 0")
	}
	return nil
}
