package instrument

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionClosed is returned by Invoke on a session that was already closed.
var ErrSessionClosed = errors.New("instrument: session is closed")

// Session is a caller's exclusive, short-lived lease on one handle. It is
// constructed only by the pool. Close releases the handle exactly once,
// regardless of how many times Invoke was called or how it failed; callers
// should defer it immediately after a successful Acquire.
type Session struct {
	id     string
	pool   *Pool
	handle *Handle

	mu     sync.Mutex
	fatal  bool
	closed bool
	once   sync.Once
}

func newSession(p *Pool, h *Handle) *Session {
	return &Session{
		id:     uuid.NewString(),
		pool:   p,
		handle: h,
	}
}

// ID returns the session's identity for log correlation.
func (s *Session) ID() string {
	return s.id
}

// HandleID returns the identity of the leased handle.
func (s *Session) HandleID() string {
	return s.handle.id
}

// Invoke forwards one named operation call to the leased handle and records
// the outcome for the pool's eviction decision. The pool never auto-retries
// invocations; they may have side effects on the application's state.
func (s *Session) Invoke(ctx context.Context, op string, args ...interface{}) (interface{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.mu.Unlock()

	result, err := s.handle.invoke(ctx, op, args...)
	if err != nil && KindOf(err) == KindFatal {
		s.mu.Lock()
		s.fatal = true
		s.mu.Unlock()
	}
	return result, err
}

// Close releases the leased handle back to the pool. Safe to call multiple
// times; only the first call releases.
func (s *Session) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		fatal := s.fatal
		s.mu.Unlock()
		s.pool.release(s.handle, fatal)
	})
}
