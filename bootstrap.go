package portalauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Bootstrap loads the persisted session exactly once and then subscribes to
// provider-originated changes.
//
// The initial load is bounded by Config.Bootstrap.Timeout. On any failure the
// store is still initialized (as Anonymous) so that consumers waiting on
// WaitReady are released, and the error is returned for the caller to log.
// The provider subscription is registered in both cases.
//
// A second call returns ErrAlreadyBootstrapped without touching the store.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.bootstrapped.CompareAndSwap(false, true) {
		return ErrAlreadyBootstrapped
	}
	if ctx == nil {
		ctx = context.Background()
	}

	seq := e.store.Issue()
	sess, err := e.loadInitial(ctx, seq)
	if err != nil {
		ae := AsAuthError(err)
		e.store.Apply(seq, nil)
		e.metricInc(MetricBootstrapFailure)
		e.logger.Warn("portalauth: bootstrap could not load session; starting anonymous",
			slog.String("gateway", e.gatewayName),
			slog.Any("error", ae),
		)
		e.emitAudit(ctx, auditEventBootstrap, seq, nil, ae, nil)
		err = fmt.Errorf("bootstrap: %w", ae)
	} else {
		e.store.Apply(seq, sess)
		e.metricInc(MetricBootstrapSuccess)
		e.logger.Debug("portalauth: bootstrap complete",
			slog.String("gateway", e.gatewayName),
			slog.Bool("authenticated", sess != nil),
		)
		e.emitAudit(ctx, auditEventBootstrap, seq, sess, nil, nil)
	}

	unsub := e.gateway.OnSessionChange(e.handleProviderEvent)
	e.mu.Lock()
	if e.closed.Load() {
		e.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return err
	}
	e.providerUnsub = unsub
	e.mu.Unlock()

	return err
}

// loadInitial calls GetCurrentSession and gives up after the bootstrap
// timeout. A late answer is dropped by the store because its sequence number
// has already been applied.
func (e *Engine) loadInitial(ctx context.Context, seq uint64) (*Session, error) {
	timeout := e.config.Bootstrap.Timeout
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		done <- e.guard(callCtx, auditEventBootstrap, func(c context.Context) outcome {
			sess, err := e.gateway.GetCurrentSession(c)
			return outcome{session: sess, err: err}
		})
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.session != nil && out.session.Expired(e.now()) {
			e.logger.Debug("portalauth: persisted session already expired",
				slog.Uint64("sequence", seq),
			)
			return nil, nil
		}
		return out.session, nil
	case <-callCtx.Done():
		return nil, WrapNetwork(callCtx.Err(), fmt.Sprintf("session load timed out after %s", timeout.Round(time.Millisecond)))
	}
}
