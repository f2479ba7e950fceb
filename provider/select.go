package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/provider/hosted"
	"github.com/MrEthical07/portalauth/provider/standin"
	"github.com/MrEthical07/portalauth/session"
)

// Option customizes Select.
type Option func(*options)

type options struct {
	redis      redis.UniversalClient
	httpClient *http.Client
	standin    []standin.Option
}

// WithRedisClient supplies a caller-owned Redis client for persistence. It
// takes precedence over Persistence.RedisAddr and is not closed by the
// gateway.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(o *options) { o.redis = c }
}

// WithHTTPClient sets the hosted gateway's transport.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithStandinOptions passes options to the stand-in when it is selected.
func WithStandinOptions(opts ...standin.Option) Option {
	return func(o *options) { o.standin = append(o.standin, opts...) }
}

// Select returns the hosted gateway when the provider endpoint and key are
// configured, and the offline stand-in otherwise. Falling back logs exactly
// one warning naming the missing settings.
func Select(cfg portalauth.Config, logger *slog.Logger, opts ...Option) (portalauth.Gateway, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if !cfg.Provider.Configured() {
		logger.Warn("portalauth: identity provider not configured; using offline stand-in",
			slog.String("missing", strings.Join(cfg.Provider.Missing(), ",")),
		)
		g, err := standin.New(o.standin...)
		if err != nil {
			return nil, fmt.Errorf("select stand-in gateway: %w", err)
		}
		return g, nil
	}

	store, owned := persistence(cfg.Persistence, o.redis)
	g, err := hosted.New(hostedConfig(cfg),
		hosted.WithPersistence(store),
		hosted.WithHTTPClient(o.httpClient),
		hosted.WithLogger(logger),
	)
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, fmt.Errorf("select hosted gateway: %w", err)
	}
	logger.Info("portalauth: using hosted identity provider",
		slog.String("url", cfg.Provider.URL),
		slog.Bool("redis", cfg.Persistence.RedisAddr != "" || o.redis != nil),
	)
	if owned != nil {
		return &ownedRedisGateway{Gateway: g, redis: owned}, nil
	}
	return g, nil
}

func hostedConfig(cfg portalauth.Config) hosted.Config {
	return hosted.Config{
		URL:               cfg.Provider.URL,
		APIKey:            cfg.Provider.APIKey,
		JWTSecret:         cfg.Provider.JWTSecret,
		RequestTimeout:    cfg.Provider.RequestTimeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
		StorageKey:        cfg.Persistence.StorageKey,
		Refresh:           cfg.Refresh.Enabled,
		RefreshMargin:     cfg.Refresh.Margin,
		RetryInterval:     cfg.Refresh.RetryInterval,
	}
}

// persistence returns the record store and, when Select created the Redis
// client itself, that client so it can be closed with the gateway.
func persistence(cfg portalauth.PersistenceConfig, client redis.UniversalClient) (session.Persistence, *redis.Client) {
	if client != nil {
		return session.NewRedisStore(client, cfg.KeyPrefix), nil
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return session.NewMemoryStore(nil), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return session.NewRedisStore(rdb, cfg.KeyPrefix), rdb
}

// ownedRedisGateway closes the Redis client Select opened.
type ownedRedisGateway struct {
	*hosted.Gateway
	redis *redis.Client
}

func (g *ownedRedisGateway) Close() error {
	return errors.Join(g.Gateway.Close(), g.redis.Close())
}
