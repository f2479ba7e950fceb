package portalauth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/portalauth/internal/audit"
)

// Builder assembles an Engine at the composition root.
//
// Builder instances are configured during initialization and then used once;
// a second Build call fails.
type Builder struct {
	config    Config
	gateway   Gateway
	logger    *slog.Logger
	auditSink AuditSink
	store     *Store
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithGateway sets the gateway variant chosen at startup. Required.
func (b *Builder) WithGateway(g Gateway) *Builder {
	b.gateway = g
	return b
}

// WithLogger sets the structured logger. Without one the Engine logs nowhere.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit destination and enables the audit dispatcher.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	if sink != nil {
		b.config.Audit.Enabled = true
	}
	return b
}

// WithStore lets a caller supply the Store, typically so it can be shared
// with code constructed before the Engine.
func (b *Builder) WithStore(s *Store) *Builder {
	b.store = s
	return b
}

// WithClock overrides time.Now for audit timestamps and expiry checks.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the gateway latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Engine. Bootstrap must be
// called on the result before consumers read session state.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.gateway == nil {
		return nil, ErrNilGateway
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store := b.store
	if store == nil {
		store = NewStore()
	}

	engine := &Engine{
		config:      cfg,
		store:       store,
		gateway:     b.gateway,
		gatewayName: b.gateway.Name(),
		logger:      logger.With(slog.String("component", "portalauth")),
		metrics:     NewMetrics(cfg.Metrics),
		clock:       b.clock,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	// -------- STORE HOOKS --------
	store.onStale = func(seq, applied uint64) {
		engine.metricInc(MetricStaleResultDiscarded)
		engine.logger.Debug("portalauth: discarded superseded result",
			slog.Uint64("sequence", seq),
			slog.Uint64("applied", applied),
		)
	}
	store.onPanic = func(recovered any) {
		engine.metricInc(MetricListenerPanic)
		engine.logger.Error("portalauth: session listener panicked",
			slog.Any("panic", recovered),
		)
	}
	store.Subscribe(func(*Session) {
		engine.metricInc(MetricSessionChanged)
	})

	b.built = true

	return engine, nil
}
