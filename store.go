package portalauth

import (
	"context"
	"sync"
	"sync/atomic"
)

// Store is the single source of truth for who, if anyone, is signed in.
//
// Every write is stamped with a sequence number. A write is applied only if
// its sequence is newer than the last applied one, so results are applied in
// issue order even when their operations complete out of order.
//
// Listeners run outside the store lock, in the order changes were applied.
// A listener may call Set or Subscribe; the resulting change is delivered
// once the current delivery round finishes. When two goroutines apply changes
// concurrently, the goroutine already delivering also delivers the other's
// change.
type Store struct {
	issued atomic.Uint64

	mu        sync.Mutex
	state     SessionState
	current   *Session
	applied   uint64
	ready     chan struct{}
	listeners []storeEntry
	nextID    uint64
	pending   []*Session
	draining  bool

	discarded atomic.Uint64
	notified  atomic.Uint64
	panics    atomic.Uint64

	onStale func(seq, applied uint64)
	onPanic func(recovered any)
}

type storeEntry struct {
	id uint64
	fn Listener
}

// NewStore returns an Uninitialized store.
func NewStore() *Store {
	return &Store{ready: make(chan struct{})}
}

// Current returns a copy of the current session, or nil when nobody is signed
// in or the store is still uninitialized.
func (s *Store) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// State returns the coarse store state.
func (s *Store) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the state, a copy of the session and the sequence number
// of the write that produced them, read atomically.
func (s *Store) Snapshot() (SessionState, *Session, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current.Clone(), s.applied
}

// Issue reserves the next sequence number. Callers stamp an operation with it
// when the operation starts and pass it to Apply when it completes.
func (s *Store) Issue() uint64 {
	return s.issued.Add(1)
}

// Set replaces the current value using a freshly issued sequence number.
func (s *Store) Set(next *Session) {
	s.Apply(s.Issue(), next)
}

// Apply stores next if seq is newer than the last applied write and reports
// whether it did. A changed value, or the very first write, is queued for
// subscribers. Delivery normally completes before Apply returns; when another
// goroutine is already delivering, that goroutine delivers this change too
// and Apply may return before the listeners have seen it.
func (s *Store) Apply(seq uint64, next *Session) bool {
	return s.apply(seq, next, false)
}

// ApplyRefresh is Apply for a renewed copy of the signed-in session. next is
// stored only while the store holds a session with the same ID; otherwise
// the write is discarded as stale and the last applied sequence is kept.
func (s *Store) ApplyRefresh(seq uint64, next *Session) bool {
	if next == nil {
		return false
	}
	return s.apply(seq, next, true)
}

func (s *Store) apply(seq uint64, next *Session, sameUser bool) bool {
	s.mu.Lock()
	if seq <= s.applied || (sameUser && (s.current == nil || s.current.ID != next.ID)) {
		applied := s.applied
		s.mu.Unlock()
		s.discarded.Add(1)
		if s.onStale != nil {
			s.onStale(seq, applied)
		}
		return false
	}

	prev, prevState := s.current, s.state
	next = next.Clone()
	s.applied = seq
	s.current = next
	if next == nil {
		s.state = StateAnonymous
	} else {
		s.state = StateAuthenticated
	}

	if prevState == StateUninitialized {
		close(s.ready)
	} else if !sessionChanged(prev, next) {
		s.mu.Unlock()
		return true
	}

	s.pending = append(s.pending, next)
	if s.draining {
		s.mu.Unlock()
		return true
	}
	s.draining = true
	s.drainLocked()
	s.draining = false
	s.mu.Unlock()
	return true
}

// drainLocked delivers queued changes. It is entered and left with mu held
// and releases it around listener calls.
func (s *Store) drainLocked() {
	for len(s.pending) > 0 {
		value := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		entries := make([]storeEntry, len(s.listeners))
		copy(entries, s.listeners)

		s.mu.Unlock()
		for _, e := range entries {
			s.invoke(e.fn, value.Clone())
		}
		s.notified.Add(1)
		s.mu.Lock()
	}
	s.pending = nil
}

func (s *Store) invoke(fn Listener, value *Session) {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			if s.onPanic != nil {
				s.onPanic(r)
			}
		}
	}()
	fn(value)
}

// Subscribe registers listener for every subsequent change. The returned
// function deregisters it and may be called any number of times.
func (s *Store) Subscribe(listener Listener) Unsubscribe {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, storeEntry{id: id, fn: listener})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, e := range s.listeners {
				if e.id == id {
					s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Ready is closed once the store leaves Uninitialized.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady blocks until the store is initialized or ctx ends.
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Discarded counts writes rejected as stale.
func (s *Store) Discarded() uint64 { return s.discarded.Load() }

// Notifications counts delivered change rounds.
func (s *Store) Notifications() uint64 { return s.notified.Load() }

// ListenerPanics counts listener panics recovered by the store.
func (s *Store) ListenerPanics() uint64 { return s.panics.Load() }

// sessionChanged compares identity and token generation. Metadata is opaque
// and does not participate.
func sessionChanged(prev, next *Session) bool {
	if (prev == nil) != (next == nil) {
		return true
	}
	if prev == nil {
		return false
	}
	return prev.ID != next.ID ||
		prev.Email != next.Email ||
		prev.DisplayName != next.DisplayName ||
		prev.AccessToken != next.AccessToken ||
		!prev.ExpiresAt.Equal(next.ExpiresAt)
}
