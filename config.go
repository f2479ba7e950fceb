package portalauth

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is read once at startup and treated as immutable afterwards.
type Config struct {
	Provider    ProviderConfig    `yaml:"provider"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Audit       AuditConfig       `yaml:"audit"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

/*
====================================
PROVIDER CONFIG
====================================
*/

// ProviderConfig locates the hosted identity provider. Leaving URL or APIKey
// empty selects the offline stand-in gateway.
type ProviderConfig struct {
	URL               string        `yaml:"url"`
	APIKey            string        `yaml:"api_key"`
	JWTSecret         string        `yaml:"jwt_secret"` // optional; enables access-token verification
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables pacing
	Burst             int           `yaml:"burst"`
}

// Configured reports whether both the endpoint and the public key are set.
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.URL) != "" && strings.TrimSpace(p.APIKey) != ""
}

// Missing names the absent provider settings, for the startup warning.
func (p ProviderConfig) Missing() []string {
	var missing []string
	if strings.TrimSpace(p.URL) == "" {
		missing = append(missing, EnvProviderURL)
	}
	if strings.TrimSpace(p.APIKey) == "" {
		missing = append(missing, EnvProviderAPIKey)
	}
	return missing
}

/*
====================================
PERSISTENCE CONFIG
====================================
*/

// PersistenceConfig controls where the hosted gateway keeps provider tokens
// between process runs. Without RedisAddr an in-memory store is used.
type PersistenceConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix"`
	StorageKey    string `yaml:"storage_key"`
}

/*
====================================
LIFECYCLE CONFIG
====================================
*/

// BootstrapConfig bounds the startup session load.
type BootstrapConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// RefreshConfig drives the hosted gateway's background token refresh.
type RefreshConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Margin        time.Duration `yaml:"margin"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig toggles counters and the gateway latency histogram.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline used by New and the loaders.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Provider: ProviderConfig{
			RequestTimeout:    10 * time.Second,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Persistence: PersistenceConfig{
			KeyPrefix:  "portalauth",
			StorageKey: "auth-token",
		},
		Bootstrap: BootstrapConfig{
			Timeout: 10 * time.Second,
		},
		Refresh: RefreshConfig{
			Enabled:       true,
			Margin:        60 * time.Second,
			RetryInterval: 15 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Provider
	if raw := strings.TrimSpace(c.Provider.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return errors.New("Provider URL must be an absolute URL")
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("Provider URL scheme must be http or https")
		}
	}
	if c.Provider.RequestTimeout <= 0 {
		return errors.New("Provider RequestTimeout must be > 0")
	}
	if c.Provider.RequestsPerSecond < 0 {
		return errors.New("Provider RequestsPerSecond must be >= 0")
	}
	if c.Provider.RequestsPerSecond > 0 && c.Provider.Burst < 1 {
		return errors.New("Provider Burst must be >= 1 when pacing is enabled")
	}

	// Persistence
	if strings.TrimSpace(c.Persistence.KeyPrefix) == "" {
		return errors.New("Persistence KeyPrefix must not be empty")
	}
	if strings.TrimSpace(c.Persistence.StorageKey) == "" {
		return errors.New("Persistence StorageKey must not be empty")
	}
	if c.Persistence.RedisDB < 0 {
		return errors.New("Persistence RedisDB must be >= 0")
	}

	// Lifecycle
	if c.Bootstrap.Timeout <= 0 {
		return errors.New("Bootstrap Timeout must be > 0")
	}
	if c.Refresh.Enabled {
		if c.Refresh.Margin <= 0 {
			return errors.New("Refresh Margin must be > 0 when refresh is enabled")
		}
		if c.Refresh.RetryInterval <= 0 {
			return errors.New("Refresh RetryInterval must be > 0 when refresh is enabled")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	return nil
}
