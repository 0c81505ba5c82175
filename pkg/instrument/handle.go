package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// handleState tracks the lifecycle of one automation connection.
type handleState int

const (
	stateUnopened handleState = iota
	stateOpen
	stateVerified
	stateBroken
	stateClosed
)

func (s handleState) String() string {
	switch s {
	case stateUnopened:
		return "unopened"
	case stateOpen:
		return "open"
	case stateVerified:
		return "verified"
	case stateBroken:
		return "broken"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handle wraps one connection to the automation endpoint with lifecycle
// tracking. Invocations on a handle are strictly serialized; the endpoint is
// not assumed to support concurrent calls on one connection.
type Handle struct {
	id     string
	dialer Dialer

	// invokeMu serializes Invoke/Ping traffic on the connection.
	invokeMu sync.Mutex

	// stateMu guards everything below.
	stateMu     sync.Mutex
	conn        Conn
	state       handleState
	needsVerify bool
	createdAt   time.Time
	lastUsedAt  time.Time
}

func newHandle(dialer Dialer) *Handle {
	return &Handle{
		id:        uuid.NewString(),
		dialer:    dialer,
		state:     stateUnopened,
		createdAt: time.Now(),
	}
}

// ID returns the handle's identity, stable from open to close.
func (h *Handle) ID() string {
	return h.id
}

// open establishes the underlying connection. Failures are classified as
// KindConnect.
func (h *Handle) open(ctx context.Context) error {
	conn, err := h.dialer.Dial(ctx)
	if err != nil {
		if KindOf(err) == KindConnect {
			return err
		}
		return NewError(KindConnect, "", err)
	}

	h.stateMu.Lock()
	h.conn = conn
	h.state = stateOpen
	h.stateMu.Unlock()
	return nil
}

// verify confirms the connection is live and the application responsive.
// Failures are classified as KindVerify, distinct from KindConnect, so the
// pool can apply a different backoff policy.
func (h *Handle) verify(ctx context.Context) error {
	h.stateMu.Lock()
	conn := h.conn
	h.stateMu.Unlock()
	if conn == nil {
		return NewError(KindVerify, "", errNotOpen)
	}

	h.invokeMu.Lock()
	err := conn.Ping(ctx)
	h.invokeMu.Unlock()

	if err != nil {
		if KindOf(err) == KindVerify {
			return err
		}
		return NewError(KindVerify, "", err)
	}

	h.stateMu.Lock()
	h.state = stateVerified
	h.needsVerify = false
	h.stateMu.Unlock()
	return nil
}

// invoke forwards one named operation call. A fatal classification marks the
// handle broken; a caller cancellation mid-call flags it for re-verification
// on its next lease, since the endpoint offers no safe mid-call interrupt.
func (h *Handle) invoke(ctx context.Context, op string, args ...interface{}) (interface{}, error) {
	h.stateMu.Lock()
	conn := h.conn
	state := h.state
	h.lastUsedAt = time.Now()
	h.stateMu.Unlock()

	if conn == nil || state == stateBroken || state == stateClosed {
		return nil, NewError(KindFatal, op, errNotOpen)
	}

	h.invokeMu.Lock()
	result, err := conn.Invoke(ctx, op, args...)
	h.invokeMu.Unlock()

	if err != nil {
		switch {
		case KindOf(err) == KindFatal:
			h.markBroken()
		case ctx.Err() != nil:
			h.flagVerify()
		}
		return nil, err
	}
	return result, nil
}

// close releases the underlying connection. Idempotent.
func (h *Handle) close() {
	h.stateMu.Lock()
	conn := h.conn
	h.conn = nil
	h.state = stateClosed
	h.stateMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// markBroken moves the handle to the broken state. A broken handle is never
// leased again; the pool closes and replaces it.
func (h *Handle) markBroken() {
	h.stateMu.Lock()
	if h.state != stateClosed {
		h.state = stateBroken
	}
	h.stateMu.Unlock()
}

func (h *Handle) broken() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state == stateBroken
}

// flagVerify requests a liveness check before the handle's next lease.
func (h *Handle) flagVerify() {
	h.stateMu.Lock()
	h.needsVerify = true
	h.stateMu.Unlock()
}

func (h *Handle) verifyFlagged() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.needsVerify
}
