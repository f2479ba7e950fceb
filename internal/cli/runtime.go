package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/provider"
	"github.com/MrEthical07/portalauth/provider/standin"
)

// runtime is one bootstrapped engine plus everything it owns.
type runtime struct {
	engine  *portalauth.Engine
	logger  *slog.Logger
	closers []func() error
}

func (r *runtime) Close() error {
	var errs []error
	if r.engine != nil {
		errs = append(errs, r.engine.Close())
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, format string) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", format)
	}
}

func (s *settings) loadConfig() (portalauth.Config, error) {
	if s.configPath != "" {
		return portalauth.LoadConfigFile(s.configPath, s.getenv)
	}
	return portalauth.LoadConfigFromEnv(s.getenv)
}

// parseSeeds reads email:password[:display name] entries.
func parseSeeds(seeds []string) ([]standin.Account, error) {
	accounts := make([]standin.Account, 0, len(seeds))
	for _, raw := range seeds {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid --seed %q: want email:password[:display name]", raw)
		}
		acct := standin.Account{Email: parts[0], Password: parts[1]}
		if len(parts) == 3 {
			acct.DisplayName = parts[2]
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// open selects the gateway, builds the engine and bootstraps it. A failed
// bootstrap is logged and the runtime starts anonymous.
func (s *settings) open(cmd *cobra.Command, histograms bool) (*runtime, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), s.logFormat)
	if err != nil {
		return nil, err
	}
	cfg, err := s.loadConfig()
	if err != nil {
		return nil, err
	}
	accounts, err := parseSeeds(s.seeds)
	if err != nil {
		return nil, err
	}

	rt := &runtime{logger: logger}
	if s.redisEmbedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		rt.closers = append(rt.closers, func() error {
			mr.Close()
			return nil
		})
		cfg.Persistence.RedisAddr = mr.Addr()
	}

	gateway, err := provider.Select(cfg, logger,
		provider.WithStandinOptions(standin.WithAccounts(accounts...)),
	)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	builder := portalauth.New().
		WithConfig(cfg).
		WithGateway(gateway).
		WithLogger(logger)
	if histograms {
		builder = builder.WithMetricsEnabled(true).WithLatencyHistograms(true)
	}
	if s.audit {
		builder = builder.WithAuditSink(portalauth.NewJSONWriterSink(cmd.ErrOrStderr()))
	}
	engine, err := builder.Build()
	if err != nil {
		if c, ok := gateway.(io.Closer); ok {
			_ = c.Close()
		}
		_ = rt.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	rt.engine = engine

	if err := engine.Bootstrap(cmd.Context()); err != nil {
		logger.Warn("portalctl: continuing without a restored session", slog.Any("error", err))
	}
	return rt, nil
}
