package portalauth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/portalauth/internal/audit"
)

const (
	auditEventSignUp         = "sign_up"
	auditEventSignIn         = "sign_in"
	auditEventSignOut        = "sign_out"
	auditEventBootstrap      = "bootstrap"
	auditEventProviderChange = "provider_session_change"
	auditEventStaleDiscarded = "stale_result_discarded"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	seq uint64,
	sess *Session,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: eventType,
		Gateway:   e.gatewayName,
		Sequence:  seq,
		Success:   err == nil,
		Metadata:  metadata,
	}
	if sess != nil {
		event.UserID = sess.ID
		event.Email = sess.Email
	}
	if err != nil {
		ae := AsAuthError(err)
		event.ErrorKind = ae.Kind.String()
		event.Error = ae.Message
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) now() time.Time {
	if e != nil && e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
