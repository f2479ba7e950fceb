package hosted

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/session"
)

// scheduleLocked arms the refresh timer for generation gen. Caller holds g.mu.
func (g *Gateway) scheduleLocked(delay time.Duration, gen uint64) {
	if delay < g.config.MinRefreshDelay {
		delay = g.config.MinRefreshDelay
	}
	g.timer = time.AfterFunc(delay, func() { g.refresh(gen) })
}

// refresh renews the access token of generation gen. The result is dropped
// if the session was replaced or cleared while the request was in flight.
func (g *Gateway) refresh(gen uint64) {
	g.mu.Lock()
	if g.closed || g.gen != gen || g.current == nil {
		g.mu.Unlock()
		return
	}
	rec := g.current.Clone()
	g.inflight.Add(1)
	g.mu.Unlock()
	defer g.inflight.Done()

	ctx := g.refreshCtx
	resp, err := g.client.refreshGrant(ctx, rec.RefreshToken)
	var next *session.Record
	if err == nil {
		next, err = g.recordFrom(resp)
	}
	if err == nil {
		g.applyRefresh(ctx, gen, next)
		return
	}

	if errors.Is(err, portalauth.ErrInvalidCredentials) {
		g.mu.Lock()
		if g.gen != gen {
			g.mu.Unlock()
			return
		}
		g.replaceLocked(nil)
		g.mu.Unlock()

		if delErr := g.store.Delete(ctx, g.config.StorageKey); delErr != nil {
			g.logger.Warn("hosted: could not delete persisted session", slog.Any("error", delErr))
		}
		g.logger.Info("hosted: refresh token rejected; session ended", slog.Any("error", err))
		g.hub.Emit(ctx, portalauth.ProviderEvent{Type: portalauth.EventSignedOut})
		return
	}

	g.logger.Warn("hosted: token refresh failed; will retry",
		slog.Duration("retry_in", g.config.RetryInterval),
		slog.Any("error", err),
	)
	g.mu.Lock()
	if !g.closed && g.gen == gen {
		g.scheduleLocked(g.config.RetryInterval, gen)
	}
	g.mu.Unlock()
}

func (g *Gateway) applyRefresh(ctx context.Context, gen uint64, rec *session.Record) {
	sess, err := sessionFromRecord(rec)
	if err != nil {
		g.logger.Warn("hosted: refreshed session unusable", slog.Any("error", err))
		return
	}

	g.mu.Lock()
	if g.closed || g.gen != gen {
		g.mu.Unlock()
		return
	}
	g.replaceLocked(rec)
	g.mu.Unlock()

	if err := g.store.Save(ctx, g.config.StorageKey, rec, g.config.RecordTTL); err != nil {
		g.logger.Warn("hosted: could not persist refreshed session", slog.Any("error", err))
	}
	g.logger.Debug("hosted: access token refreshed", slog.Time("expires_at", sess.ExpiresAt))
	g.hub.Emit(ctx, portalauth.ProviderEvent{Type: portalauth.EventTokenRefreshed, Session: sess})
}
