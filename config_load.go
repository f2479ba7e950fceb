package portalauth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadConfigFromEnv. The SUPABASE_* names are
// accepted as fallbacks for the two provider settings.
const (
	EnvProviderURL       = "PORTAL_AUTH_URL"
	EnvProviderAPIKey    = "PORTAL_AUTH_ANON_KEY"
	EnvProviderJWTSecret = "PORTAL_AUTH_JWT_SECRET"
	EnvRedisAddr         = "PORTAL_REDIS_ADDR"
	EnvRedisPassword     = "PORTAL_REDIS_PASSWORD"
	EnvRedisDB           = "PORTAL_REDIS_DB"
	EnvBootstrapTimeout  = "PORTAL_BOOTSTRAP_TIMEOUT"
	EnvRequestTimeout    = "PORTAL_AUTH_REQUEST_TIMEOUT"

	envFallbackURL    = "SUPABASE_URL"
	envFallbackAPIKey = "SUPABASE_ANON_KEY"
)

// LoadConfigFromEnv overlays environment settings on DefaultConfig. A nil
// getenv reads the process environment.
func LoadConfigFromEnv(getenv func(string) string) (Config, error) {
	cfg := defaultConfig()
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads YAML settings from path, then applies environment
// overrides. Keys absent from the file keep their defaults.
func LoadConfigFile(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if v := firstNonEmpty(get(EnvProviderURL), get(envFallbackURL)); v != "" {
		cfg.Provider.URL = v
	}
	if v := firstNonEmpty(get(EnvProviderAPIKey), get(envFallbackAPIKey)); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := get(EnvProviderJWTSecret); v != "" {
		cfg.Provider.JWTSecret = v
	}
	if v := get(EnvRedisAddr); v != "" {
		cfg.Persistence.RedisAddr = v
	}
	if v := get(EnvRedisPassword); v != "" {
		cfg.Persistence.RedisPassword = v
	}
	if v := get(EnvRedisDB); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRedisDB, err)
		}
		cfg.Persistence.RedisDB = db
	}
	if v := get(EnvBootstrapTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBootstrapTimeout, err)
		}
		cfg.Bootstrap.Timeout = d
	}
	if v := get(EnvRequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRequestTimeout, err)
		}
		cfg.Provider.RequestTimeout = d
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
