package portalauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/portalauth/internal/audit"
)

// ErrSuperseded is returned by SignUp and SignIn when the operation succeeded
// at the provider but a newer operation had already been applied to the
// store, so its session was discarded.
var ErrSuperseded = errors.New("result superseded by a newer operation")

// Engine is the process-wide session lifecycle manager. It owns the Store,
// mediates every Gateway call, and stamps each call with a sequence number so
// that stale results never overwrite newer state.
//
// Build one per process with [Builder.Build] and pass it to every consumer.
type Engine struct {
	config      Config
	store       *Store
	gateway     Gateway
	gatewayName string
	logger      *slog.Logger
	audit       *audit.Dispatcher
	metrics     *Metrics
	clock       func() time.Time

	bootstrapped     atomic.Bool
	closed           atomic.Bool
	signOutsInFlight atomic.Int64

	mu            sync.Mutex
	providerUnsub Unsubscribe
}

type outcome struct {
	session *Session
	err     error
}

// Store returns the engine's session store.
func (e *Engine) Store() *Store {
	if e == nil {
		return nil
	}
	return e.store
}

// Current returns a copy of the signed-in session, or nil.
func (e *Engine) Current() *Session {
	if e == nil || e.store == nil {
		return nil
	}
	return e.store.Current()
}

// State returns the store state.
func (e *Engine) State() SessionState {
	if e == nil || e.store == nil {
		return StateUninitialized
	}
	return e.store.State()
}

// Subscribe registers listener on the store.
func (e *Engine) Subscribe(listener Listener) Unsubscribe {
	if e == nil || e.store == nil {
		return func() {}
	}
	return e.store.Subscribe(listener)
}

// WaitReady blocks until Bootstrap has published the first value.
func (e *Engine) WaitReady(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	return e.store.WaitReady(ctx)
}

// GatewayName names the gateway variant chosen at startup.
func (e *Engine) GatewayName() string {
	if e == nil {
		return ""
	}
	return e.gatewayName
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

// MetricsSnapshot returns the current counters for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events lost to dispatcher backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// SignUp registers an account and, on success, publishes its session.
func (e *Engine) SignUp(ctx context.Context, email, password, displayName string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	seq := e.store.Issue()
	out, err := e.await(ctx, "sign_up", func(callCtx context.Context) outcome {
		sess, err := e.gateway.SignUp(callCtx, email, password, displayName)
		return e.completeSignIn(callCtx, auditEventSignUp, seq, sess, err)
	})
	if err != nil {
		return nil, err
	}
	return out.session, out.err
}

// SignIn authenticates with e-mail and password and, on success, publishes
// the session.
func (e *Engine) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	seq := e.store.Issue()
	out, err := e.await(ctx, "sign_in", func(callCtx context.Context) outcome {
		sess, err := e.gateway.SignInWithPassword(callCtx, email, password)
		return e.completeSignIn(callCtx, auditEventSignIn, seq, sess, err)
	})
	if err != nil {
		return nil, err
	}
	return out.session, out.err
}

// SignOut clears the local session before it asks the provider to end it, so
// the store is anonymous once SignOut returns unless a newer operation has
// since signed someone in. A failed remote invalidation, or a caller context
// that ends first, is returned as a network error; the remote call still runs
// to completion in the background.
func (e *Engine) SignOut(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	seq := e.store.Issue()
	e.signOutsInFlight.Add(1)
	prev := e.store.Current()
	if !e.store.Apply(seq, nil) {
		e.recordStale(ctx, auditEventSignOut, seq)
	}
	e.metricInc(MetricSignOut)

	out, err := e.await(ctx, "sign_out", func(callCtx context.Context) outcome {
		defer e.signOutsInFlight.Add(-1)
		remoteErr := e.gateway.SignOut(callCtx)
		if remoteErr != nil {
			remoteErr = AsAuthError(remoteErr)
			e.metricInc(MetricSignOutRemoteFailure)
			e.logger.Warn("portalauth: remote sign-out failed; local session cleared",
				slog.String("gateway", e.gatewayName),
				slog.Uint64("sequence", seq),
				slog.Any("error", remoteErr),
			)
		}
		e.emitAudit(callCtx, auditEventSignOut, seq, prev, remoteErr, nil)
		return outcome{err: remoteErr}
	})
	if err != nil {
		return err
	}
	return out.err
}

func (e *Engine) completeSignIn(ctx context.Context, eventType string, seq uint64, sess *Session, err error) outcome {
	success, failure := MetricSignInSuccess, MetricSignInFailure
	if eventType == auditEventSignUp {
		success, failure = MetricSignUpSuccess, MetricSignUpFailure
	}

	if err == nil && (sess == nil || sess.ID == "") {
		err = WrapNetwork(nil, "provider returned no session")
	}
	if err != nil {
		ae := AsAuthError(err)
		e.metricInc(failure)
		e.logger.Info("portalauth: "+eventType+" failed",
			slog.String("gateway", e.gatewayName),
			slog.String("kind", ae.Kind.String()),
			slog.String("code", ae.Code),
		)
		e.emitAudit(ctx, eventType, seq, nil, ae, nil)
		return outcome{err: ae}
	}

	e.metricInc(success)
	if !e.store.Apply(seq, sess) {
		e.recordStale(ctx, eventType, seq)
		e.emitAudit(ctx, eventType, seq, sess, nil, func() map[string]string {
			return map[string]string{"applied": "false"}
		})
		e.discard(ctx, eventType, sess)
		return outcome{session: sess.Clone(), err: ErrSuperseded}
	}
	e.emitAudit(ctx, eventType, seq, sess, nil, nil)
	return outcome{session: sess.Clone()}
}

// discard lets a gateway that keeps provider state forget a result the store
// did not apply.
func (e *Engine) discard(ctx context.Context, op string, stale *Session) {
	d, ok := e.gateway.(SessionDiscarder)
	if !ok {
		return
	}
	if err := d.Discard(ctx, stale, e.store.Current()); err != nil {
		e.logger.Warn("portalauth: could not discard superseded session",
			slog.String("gateway", e.gatewayName),
			slog.String("operation", op),
			slog.Any("error", err),
		)
	}
}

// recordStale audits a discarded result. The store hooks installed by Build
// count it and log it.
func (e *Engine) recordStale(ctx context.Context, op string, seq uint64) {
	e.emitAudit(ctx, auditEventStaleDiscarded, seq, nil, nil, func() map[string]string {
		return map[string]string{"operation": op}
	})
}

// await runs fn on its own goroutine with a context detached from the
// caller's cancellation. If the caller gives up first, await returns a
// network error wrapping ctx.Err(); fn still completes and its result is
// applied under the usual sequence rule.
func (e *Engine) await(ctx context.Context, op string, fn func(context.Context) outcome) (outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	callCtx := context.WithoutCancel(ctx)
	done := make(chan outcome, 1)
	go func() {
		done <- e.guard(callCtx, op, fn)
	}()

	select {
	case out := <-done:
		return out, nil
	case <-ctx.Done():
		return outcome{}, WrapNetwork(ctx.Err(), "request abandoned before the provider answered")
	}
}

// guard times a gateway call and converts a panic into a network error.
func (e *Engine) guard(ctx context.Context, op string, fn func(context.Context) outcome) (out outcome) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.Observe(MetricGatewayLatency, time.Since(start))
		}
		if r := recover(); r != nil {
			e.logger.Error("portalauth: gateway call panicked",
				slog.String("operation", op),
				slog.String("gateway", e.gatewayName),
				slog.Any("panic", r),
			)
			out = outcome{err: WrapNetwork(fmt.Errorf("panic: %v", r), "unexpected provider failure")}
		}
	}()
	return fn(ctx)
}

func (e *Engine) handleProviderEvent(ctx context.Context, ev ProviderEvent) {
	if e == nil || e.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	seq := e.store.Issue()
	e.metricInc(MetricProviderEvent)

	var applied bool
	switch ev.Type {
	case EventSignedOut:
		applied = e.store.Apply(seq, nil)
	default:
		// A refresh may only renew the session the store already holds. It
		// must not sign a user back in after a sign-out, whether that
		// sign-out is in flight or finished.
		if e.signOutsInFlight.Load() > 0 {
			e.metricInc(MetricStaleResultDiscarded)
			break
		}
		applied = e.store.ApplyRefresh(seq, ev.Session)
	}
	if !applied {
		e.recordStale(ctx, auditEventProviderChange, seq)
		return
	}
	next := ev.Session
	if ev.Type == EventSignedOut {
		next = nil
	}
	e.logger.Debug("portalauth: provider session change",
		slog.String("event", ev.Type.String()),
		slog.Uint64("sequence", seq),
	)
	e.emitAudit(ctx, auditEventProviderChange, seq, next, nil, func() map[string]string {
		return map[string]string{"event": ev.Type.String()}
	})
}

func (e *Engine) ready() error {
	if e == nil || e.gateway == nil || e.store == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

// Close deregisters the provider listener, closes the gateway when it owns
// background work, and drains the audit dispatcher. It is idempotent.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.mu.Lock()
	unsub := e.providerUnsub
	e.providerUnsub = nil
	e.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	var err error
	if c, ok := e.gateway.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil {
			err = fmt.Errorf("close gateway %s: %w", e.gatewayName, cerr)
		}
	}
	if e.audit != nil {
		e.audit.Close()
	}
	return err
}
