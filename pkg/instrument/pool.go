package instrument

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config holds pool configuration. All values are fixed for the lifetime of
// the pool.
type Config struct {
	MaxInstances   int           // maximum concurrent handles (N)
	RetryAttempts  int           // connection attempts per open (R)
	ConnectTimeout time.Duration // per-attempt open+verify budget (T)
	BackoffBase    time.Duration // first retry delay, doubled each attempt
	BackoffCap     time.Duration // retry delay ceiling
	ShutdownGrace  time.Duration // how long Shutdown waits for leased handles
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		MaxInstances:   5,
		RetryAttempts:  5,
		ConnectTimeout: 10 * time.Second,
		BackoffBase:    100 * time.Millisecond,
		BackoffCap:     800 * time.Millisecond,
		ShutdownGrace:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxInstances <= 0 {
		c.MaxInstances = def.MaxInstances
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = def.BackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = def.BackoffCap
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	return c
}

// Stats is a snapshot of pool state.
type Stats struct {
	Size      int    `json:"size"`
	Idle      int    `json:"idle"`
	Leased    int    `json:"leased"`
	Waiters   int    `json:"waiters"`
	Acquired  uint64 `json:"acquired"`
	Timeouts  uint64 `json:"timeouts"`
	Evictions uint64 `json:"evictions"`
}

// Pool owns a bounded collection of handles and serves acquire/release
// requests from concurrent callers. Bookkeeping (lease, release, evict, grow)
// is serialized under one mutex; the slow operations (open, verify, invoke)
// run outside it so a stalled automation call never blocks unrelated
// acquisitions.
type Pool struct {
	cfg    Config
	dialer Dialer
	logger zerolog.Logger

	mu      sync.Mutex
	idle    []*Handle
	leased  map[string]*Handle
	size    int // handles alive or being opened; always <= cfg.MaxInstances
	waiters *list.List
	closed  bool

	drain chan struct{}

	acquired  atomic.Uint64
	timeouts  atomic.Uint64
	evictions atomic.Uint64
}

// New creates a pool. No connections are opened until the first Acquire.
func New(dialer Dialer, cfg Config, logger zerolog.Logger) *Pool {
	return &Pool{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		logger:  logger.With().Str("component", "pool").Logger(),
		leased:  make(map[string]*Handle),
		waiters: list.New(),
		drain:   make(chan struct{}, 1),
	}
}

// Acquire returns an exclusive session on an open, verified handle. It blocks
// until a handle is available or ctx expires. On timeout it returns
// ErrPoolExhausted; if the application cannot be reached after exhausting
// retries it returns an *UnavailableError.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		// Reuse an idle handle. Idle handles are always verified before
		// being leased; a stale connection must never reach a caller.
		if len(p.idle) > 0 {
			h := p.idle[0]
			p.idle = p.idle[1:]
			p.leased[h.id] = h
			p.mu.Unlock()

			if err := h.verify(ctx); err != nil {
				if ctx.Err() != nil {
					// The caller ran out of time, not the handle.
					h.flagVerify()
					p.requeue(h)
					p.timeouts.Add(1)
					return nil, ErrPoolExhausted
				}
				p.logger.Warn().Str("handle", h.id).Err(err).Msg("idle handle failed verification, evicting")
				p.discard(h)
				continue
			}
			p.acquired.Add(1)
			return newSession(p, h), nil
		}

		// Grow the pool.
		if p.size < p.cfg.MaxInstances {
			p.size++
			p.mu.Unlock()

			h, err := p.openWithRetry(ctx)
			if err != nil {
				p.mu.Lock()
				p.size--
				closed := p.closed
				w := p.popWaiterLocked()
				p.mu.Unlock()
				if w != nil {
					w <- nil
				}
				if closed {
					// A Shutdown waiting on the drain channel counts this
					// slot; it must learn the slot is gone.
					p.signalDrain()
				}
				if ctx.Err() != nil {
					p.timeouts.Add(1)
					return nil, ErrPoolExhausted
				}
				return nil, err
			}

			p.mu.Lock()
			if p.closed {
				p.size--
				p.mu.Unlock()
				h.close()
				p.signalDrain()
				return nil, ErrPoolClosed
			}
			p.leased[h.id] = h
			p.mu.Unlock()
			p.acquired.Add(1)
			return newSession(p, h), nil
		}

		// Pool is full and every handle is leased: join the FIFO wait queue.
		ch := make(chan *Handle, 1)
		elem := p.waiters.PushBack(ch)
		p.mu.Unlock()

		select {
		case h := <-ch:
			if h == nil {
				// A slot was freed or the pool is closing; re-evaluate.
				continue
			}
			if h.verifyFlagged() {
				if err := h.verify(ctx); err != nil {
					if ctx.Err() != nil {
						h.flagVerify()
						p.requeue(h)
						p.timeouts.Add(1)
						return nil, ErrPoolExhausted
					}
					p.logger.Warn().Str("handle", h.id).Err(err).Msg("handed-off handle failed verification, evicting")
					p.discard(h)
					continue
				}
			}
			p.acquired.Add(1)
			return newSession(p, h), nil

		case <-ctx.Done():
			p.mu.Lock()
			p.waiters.Remove(elem)
			p.mu.Unlock()
			// A handle may have been delivered while we were timing out.
			select {
			case h := <-ch:
				if h != nil {
					p.requeue(h)
				}
			default:
			}
			p.timeouts.Add(1)
			return nil, ErrPoolExhausted
		}
	}
}

// openWithRetry opens and verifies a fresh handle, retrying with exponential
// backoff. It owns one size slot; the caller returns it on failure.
func (p *Pool) openWithRetry(ctx context.Context) (*Handle, error) {
	attempts := p.cfg.RetryAttempts
	var last error

	for i := 0; i < attempts; i++ {
		h := newHandle(p.dialer)
		attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		err := h.open(attemptCtx)
		if err == nil {
			err = h.verify(attemptCtx)
		}
		cancel()

		if err == nil {
			p.logger.Debug().Str("handle", h.id).Int("attempt", i+1).Msg("handle opened")
			return h, nil
		}
		h.close()
		last = err
		p.logger.Warn().
			Str("handle", h.id).
			Int("attempt", i+1).
			Int("max_attempts", attempts).
			Err(err).
			Msg("connection attempt failed")

		if serr := sleepCtx(ctx, backoffDelay(i, p.cfg.BackoffBase, p.cfg.BackoffCap)); serr != nil {
			return nil, serr
		}
	}
	return nil, &UnavailableError{Attempts: attempts, Last: last}
}

// release returns a handle from a closing session. Fatal outcomes evict the
// handle; the pool replenishes lazily on the next Acquire that finds room.
func (p *Pool) release(h *Handle, fatal bool) {
	if fatal || h.broken() {
		h.markBroken()
		p.logger.Info().Str("handle", h.id).Msg("evicting handle after fatal failure")
		p.discard(h)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.dropLeasedLocked(h)
		p.mu.Unlock()
		h.close()
		p.signalDrain()
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		// Hand off directly; the handle stays leased.
		p.mu.Unlock()
		w <- h
		return
	}
	delete(p.leased, h.id)
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// dropLeasedLocked removes a handle from the books if it is still tracked.
// After a forced shutdown the handle may already be gone; releasing it again
// must not corrupt the size accounting. Callers hold p.mu.
func (p *Pool) dropLeasedLocked(h *Handle) {
	if _, ok := p.leased[h.id]; ok {
		delete(p.leased, h.id)
		p.size--
	}
}

// requeue puts back a handle that was delivered to a waiter which had
// already timed out.
func (p *Pool) requeue(h *Handle) {
	p.mu.Lock()
	if p.closed {
		p.dropLeasedLocked(h)
		p.mu.Unlock()
		h.close()
		p.signalDrain()
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		p.mu.Unlock()
		w <- h
		return
	}
	delete(p.leased, h.id)
	p.idle = append(p.idle, h)
	p.mu.Unlock()
}

// discard closes a handle and removes it from the pool, then wakes one
// waiter so it can grow into the freed slot.
func (p *Pool) discard(h *Handle) {
	p.mu.Lock()
	p.dropLeasedLocked(h)
	closed := p.closed
	w := p.popWaiterLocked()
	p.mu.Unlock()

	p.evictions.Add(1)
	h.close()
	if w != nil {
		w <- nil
	}
	if closed {
		p.signalDrain()
	}
}

// popWaiterLocked removes and returns the oldest waiter. Callers hold p.mu.
func (p *Pool) popWaiterLocked() chan *Handle {
	front := p.waiters.Front()
	if front == nil {
		return nil
	}
	p.waiters.Remove(front)
	return front.Value.(chan *Handle)
}

func (p *Pool) signalDrain() {
	select {
	case p.drain <- struct{}{}:
	default:
	}
}

// Shutdown closes every handle and rejects all subsequent Acquire calls with
// ErrPoolClosed. Idle handles are closed immediately; leased handles are
// closed as their sessions release, or forcibly once the grace period (or
// ctx) expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	p.size -= len(idle)

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(chan *Handle) <- nil
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, h := range idle {
		h.close()
	}

	grace := time.NewTimer(p.cfg.ShutdownGrace)
	defer grace.Stop()

	for {
		p.mu.Lock()
		remaining := p.size
		p.mu.Unlock()
		if remaining == 0 {
			p.logger.Info().Msg("pool shut down")
			return nil
		}

		select {
		case <-p.drain:
		case <-grace.C:
			p.forceClose()
			p.logger.Warn().Int("handles", remaining).Msg("pool shutdown grace expired, handles force-closed")
			return nil
		case <-ctx.Done():
			p.forceClose()
			return ctx.Err()
		}
	}
}

func (p *Pool) forceClose() {
	p.mu.Lock()
	leased := make([]*Handle, 0, len(p.leased))
	for _, h := range p.leased {
		leased = append(leased, h)
	}
	p.leased = make(map[string]*Handle)
	p.size = 0
	p.mu.Unlock()

	for _, h := range leased {
		h.close()
	}
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Size:    p.size,
		Idle:    len(p.idle),
		Leased:  len(p.leased),
		Waiters: p.waiters.Len(),
	}
	p.mu.Unlock()
	s.Acquired = p.acquired.Load()
	s.Timeouts = p.timeouts.Load()
	s.Evictions = p.evictions.Load()
	return s
}
