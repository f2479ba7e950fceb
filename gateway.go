package portalauth

import (
	"context"
	"sync"
)

// ProviderEventType names a session change that originated at the identity
// provider rather than from a local call.
type ProviderEventType uint8

const (
	EventTokenRefreshed ProviderEventType = iota + 1
	EventSignedOut
	EventUserUpdated
)

func (t ProviderEventType) String() string {
	switch t {
	case EventTokenRefreshed:
		return "token_refreshed"
	case EventSignedOut:
		return "signed_out"
	case EventUserUpdated:
		return "user_updated"
	default:
		return "unknown"
	}
}

// ProviderEvent is delivered to OnSessionChange listeners. Session is nil for
// EventSignedOut.
type ProviderEvent struct {
	Type    ProviderEventType
	Session *Session
}

// ProviderListener receives provider-originated session events.
type ProviderListener func(ctx context.Context, ev ProviderEvent)

// Gateway is the capability boundary to the identity provider. There are two
// implementations: a live network-backed one and a deterministic offline
// stand-in. One is picked at process start and never swapped.
//
// Expected failures are returned as *AuthError values; implementations never
// panic into callers.
type Gateway interface {
	// Name identifies the variant in logs.
	Name() string
	// SignUp creates an account and returns its session. Fails with
	// ErrValidation, ErrConflict, ErrConfirmationPending or ErrNetwork.
	SignUp(ctx context.Context, email, password, displayName string) (*Session, error)
	// SignInWithPassword fails with ErrInvalidCredentials or ErrNetwork.
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	// SignOut always clears local provider state. A failed remote
	// invalidation is reported as ErrNetwork after the local clear.
	SignOut(ctx context.Context) error
	// GetCurrentSession returns the persisted session, or nil if none.
	// It is idempotent.
	GetCurrentSession(ctx context.Context) (*Session, error)
	// OnSessionChange registers for provider-originated events.
	OnSessionChange(listener ProviderListener) Unsubscribe
}

// SessionDiscarder is implemented by gateways that keep provider state for
// the sessions they return. The engine calls Discard with a sign-in or
// sign-up result it did not apply, together with the session the store holds
// instead (nil when signed out). The gateway drops whatever it kept for
// stale, so that neither a refresh nor the next bootstrap brings it back,
// and leaves kept alone.
type SessionDiscarder interface {
	Discard(ctx context.Context, stale, kept *Session) error
}

// ProviderHub is a listener registry for gateway implementations that fire
// provider events. The zero value is ready to use.
type ProviderHub struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []hubEntry
}

type hubEntry struct {
	id uint64
	fn ProviderListener
}

// Add registers fn and returns its idempotent deregistration.
func (h *ProviderHub) Add(fn ProviderListener) Unsubscribe {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.listeners = append(h.listeners, hubEntry{id: id, fn: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, e := range h.listeners {
				if e.id == id {
					h.listeners = append(h.listeners[:i:i], h.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit delivers ev to every listener in registration order. Each listener
// receives its own copy of the session.
func (h *ProviderHub) Emit(ctx context.Context, ev ProviderEvent) {
	h.mu.Lock()
	entries := make([]hubEntry, len(h.listeners))
	copy(entries, h.listeners)
	h.mu.Unlock()

	for _, e := range entries {
		e.fn(ctx, ProviderEvent{Type: ev.Type, Session: ev.Session.Clone()})
	}
}

// Len reports the number of registered listeners.
func (h *ProviderHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
