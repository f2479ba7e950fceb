package portalauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults valid",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "provider https url valid",
			mutate: func(c *Config) {
				c.Provider.URL = "https://abc.supabase.co"
				c.Provider.APIKey = "anon"
			},
			wantValid: true,
		},
		{
			name: "provider url without host invalid",
			mutate: func(c *Config) {
				c.Provider.URL = "not-a-url"
			},
			wantValid: false,
		},
		{
			name: "provider url ftp scheme invalid",
			mutate: func(c *Config) {
				c.Provider.URL = "ftp://abc.supabase.co"
			},
			wantValid: false,
		},
		{
			name: "request timeout zero invalid",
			mutate: func(c *Config) {
				c.Provider.RequestTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "negative pacing invalid",
			mutate: func(c *Config) {
				c.Provider.RequestsPerSecond = -1
			},
			wantValid: false,
		},
		{
			name: "pacing without burst invalid",
			mutate: func(c *Config) {
				c.Provider.RequestsPerSecond = 5
				c.Provider.Burst = 0
			},
			wantValid: false,
		},
		{
			name: "blank key prefix invalid",
			mutate: func(c *Config) {
				c.Persistence.KeyPrefix = "  "
			},
			wantValid: false,
		},
		{
			name: "blank storage key invalid",
			mutate: func(c *Config) {
				c.Persistence.StorageKey = ""
			},
			wantValid: false,
		},
		{
			name: "negative redis db invalid",
			mutate: func(c *Config) {
				c.Persistence.RedisDB = -1
			},
			wantValid: false,
		},
		{
			name: "bootstrap timeout zero invalid",
			mutate: func(c *Config) {
				c.Bootstrap.Timeout = 0
			},
			wantValid: false,
		},
		{
			name: "refresh margin zero invalid when enabled",
			mutate: func(c *Config) {
				c.Refresh.Margin = 0
			},
			wantValid: false,
		},
		{
			name: "refresh margin ignored when disabled",
			mutate: func(c *Config) {
				c.Refresh.Enabled = false
				c.Refresh.Margin = 0
				c.Refresh.RetryInterval = 0
			},
			wantValid: true,
		},
		{
			name: "audit buffer zero invalid when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfigFromEnv(envMap(map[string]string{
		EnvProviderURL:      "https://abc.supabase.co",
		EnvProviderAPIKey:   "anon-key",
		EnvRedisAddr:        "127.0.0.1:6379",
		EnvRedisDB:          "2",
		EnvBootstrapTimeout: "3s",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if !cfg.Provider.Configured() {
		t.Fatal("expected provider to be configured")
	}
	if cfg.Persistence.RedisAddr != "127.0.0.1:6379" || cfg.Persistence.RedisDB != 2 {
		t.Fatalf("unexpected persistence config: %+v", cfg.Persistence)
	}
	if cfg.Bootstrap.Timeout != 3*time.Second {
		t.Fatalf("expected 3s bootstrap timeout, got %s", cfg.Bootstrap.Timeout)
	}
}

func TestLoadConfigFromEnvFallbackNames(t *testing.T) {
	cfg, err := LoadConfigFromEnv(envMap(map[string]string{
		"SUPABASE_URL":      "https://fallback.supabase.co",
		"SUPABASE_ANON_KEY": "fallback-key",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.Provider.URL != "https://fallback.supabase.co" || cfg.Provider.APIKey != "fallback-key" {
		t.Fatalf("expected fallback provider settings, got %+v", cfg.Provider)
	}

	cfg, err = LoadConfigFromEnv(envMap(map[string]string{
		EnvProviderURL: "https://primary.supabase.co",
		"SUPABASE_URL": "https://fallback.supabase.co",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.Provider.URL != "https://primary.supabase.co" {
		t.Fatalf("expected primary name to win, got %q", cfg.Provider.URL)
	}
}

func TestLoadConfigFromEnvMissingProvider(t *testing.T) {
	cfg, err := LoadConfigFromEnv(envMap(map[string]string{
		EnvProviderURL: "https://abc.supabase.co",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.Provider.Configured() {
		t.Fatal("expected provider without key to be unconfigured")
	}
	missing := cfg.Provider.Missing()
	if len(missing) != 1 || missing[0] != EnvProviderAPIKey {
		t.Fatalf("expected only the key to be missing, got %v", missing)
	}
}

func TestLoadConfigFromEnvRejectsBadValues(t *testing.T) {
	bad := []map[string]string{
		{EnvBootstrapTimeout: "soon"},
		{EnvRedisDB: "zero"},
		{EnvRequestTimeout: "-"},
		{EnvBootstrapTimeout: "-1s"},
	}
	for _, env := range bad {
		if _, err := LoadConfigFromEnv(envMap(env)); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	data := []byte(`provider:
  url: https://file.supabase.co
  api_key: file-key
  requests_per_second: 4
  burst: 2
refresh:
  margin: 2m
audit:
  enabled: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFile(path, envMap(map[string]string{
		EnvProviderAPIKey: "env-key",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	if cfg.Provider.URL != "https://file.supabase.co" {
		t.Fatalf("expected url from file, got %q", cfg.Provider.URL)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Fatalf("expected environment to override file, got %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.RequestsPerSecond != 4 || cfg.Provider.Burst != 2 {
		t.Fatalf("unexpected pacing: %+v", cfg.Provider)
	}
	if cfg.Refresh.Margin != 2*time.Minute {
		t.Fatalf("expected 2m margin, got %s", cfg.Refresh.Margin)
	}
	if !cfg.Refresh.Enabled || cfg.Refresh.RetryInterval != 15*time.Second {
		t.Fatalf("expected unset refresh keys to keep defaults, got %+v", cfg.Refresh)
	}
	if !cfg.Audit.Enabled || cfg.Audit.BufferSize != 256 {
		t.Fatalf("unexpected audit config: %+v", cfg.Audit)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("provider: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfigFile(path, envMap(nil)); err == nil {
		t.Fatal("expected parse error")
	}
}
