package portalauth

import "time"

// Session is the record of a currently authenticated principal.
//
// Session values handed out by this package are copies; mutating one never
// affects the store.
type Session struct {
	ID          string
	DisplayName string
	Email       string
	Metadata    map[string]any

	AccessToken string
	ExpiresAt   time.Time
}

// Clone returns a deep copy of s. Nested maps and slices inside Metadata are
// copied as well.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Metadata = cloneMetadata(s.Metadata)
	return &out
}

// Expired reports whether the session carries an expiry that has passed.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func cloneMetadata(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMetadata(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		return v
	}
}

// SessionState is the store's coarse state.
type SessionState uint8

const (
	StateUninitialized SessionState = iota
	StateAnonymous
	StateAuthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "uninitialized"
	}
}

// Listener receives the new current value after every change. A nil session
// means nobody is signed in.
type Listener func(s *Session)

// Unsubscribe deregisters a listener. Calling it more than once is a no-op.
type Unsubscribe func()
