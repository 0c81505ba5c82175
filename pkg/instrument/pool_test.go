package instrument

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(t *testing.T, dialer Dialer, cfg Config) *Pool {
	t.Helper()
	p := New(dialer, cfg, zerolog.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	return p
}

func waitForStats(t *testing.T, p *Pool, pred func(Stats) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if pred(p.Stats()) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("pool never reached expected state: %+v", p.Stats())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 2})

	t.Run("should lease a verified handle", func(t *testing.T) {
		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer sess.Close()

		assert.NotEmpty(t, sess.ID())
		assert.Equal(t, 1, dialer.dialCount())
		// open is followed by a verify ping
		assert.Equal(t, 1, dialer.conn(0).pingCount())

		result, err := sess.Invoke(context.Background(), "StartTest")
		require.NoError(t, err)
		assert.Equal(t, "ok:StartTest", result)
	})

	t.Run("should reuse the released handle", func(t *testing.T) {
		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		handleID := sess.HandleID()
		sess.Close()

		sess2, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer sess2.Close()

		assert.Equal(t, handleID, sess2.HandleID())
		assert.Equal(t, 1, dialer.dialCount())
	})
}

func TestPool_LeaseCap(t *testing.T) {
	const maxInstances = 3
	const callers = 20

	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: maxInstances})

	var mu sync.Mutex
	inUse := make(map[string]bool)
	maxSeen := 0

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			sess, err := pool.Acquire(ctx)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer sess.Close()

			mu.Lock()
			// no two concurrent sessions may share one handle
			if inUse[sess.HandleID()] {
				t.Errorf("handle %s leased twice concurrently", sess.HandleID())
			}
			inUse[sess.HandleID()] = true
			if len(inUse) > maxSeen {
				maxSeen = len(inUse)
			}
			mu.Unlock()

			_, _ = sess.Invoke(context.Background(), "Channel", 1)
			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			delete(inUse, sess.HandleID())
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, maxInstances)
	assert.LessOrEqual(t, dialer.dialCount(), maxInstances)
	assert.Equal(t, uint64(callers), pool.Stats().Acquired)
}

func TestPool_ExhaustedTimeout(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 1})

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	t.Run("zero timeout returns immediately", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()

		start := time.Now()
		_, err := pool.Acquire(ctx)
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("timed-out waiter leaves no queue entry", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := pool.Acquire(ctx)
		assert.ErrorIs(t, err, ErrPoolExhausted)
		assert.Equal(t, 0, pool.Stats().Waiters)
		assert.Equal(t, uint64(2), pool.Stats().Timeouts)
	})
}

func TestPool_FIFOWaitQueue(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 1})

	holder, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	order := make(chan int, 2)
	ready := func(n int) {
		waitForStats(t, pool, func(s Stats) bool { return s.Waiters >= n })
	}

	var wg sync.WaitGroup
	for _, n := range []int{1, 2} {
		n := n
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("waiter %d: %v", n, err)
				return
			}
			order <- n
			sess.Close()
		}()
		ready(n)
	}

	holder.Close()
	wg.Wait()
	close(order)

	var got []int
	for n := range order {
		got = append(got, n)
	}
	assert.Equal(t, []int{1, 2}, got, "waiters must be served in arrival order")
}

func TestPool_RetryBackoff(t *testing.T) {
	dialer := &fakeDialer{
		dialErrs: []error{
			NewError(KindConnect, "", errDown),
			NewError(KindConnect, "", errDown),
			NewError(KindConnect, "", errDown),
		},
	}
	pool := testPool(t, dialer, Config{
		MaxInstances:  1,
		RetryAttempts: 3,
		BackoffBase:   100 * time.Millisecond,
		BackoffCap:    800 * time.Millisecond,
	})

	start := time.Now()
	_, err := pool.Acquire(context.Background())
	elapsed := time.Since(start)

	var unavail *UnavailableError
	require.ErrorAs(t, err, &unavail)
	assert.Equal(t, 3, unavail.Attempts)
	assert.ErrorIs(t, err, errDown)

	// delays roughly 100ms + 200ms + 400ms
	assert.GreaterOrEqual(t, elapsed, 650*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	// the failed grow must not leak its slot
	assert.Equal(t, 0, pool.Stats().Size)
}

func TestPool_BackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capD := 800 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, backoffDelay(0, base, capD))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(1, base, capD))
	assert.Equal(t, 400*time.Millisecond, backoffDelay(2, base, capD))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(3, base, capD))
	assert.Equal(t, 800*time.Millisecond, backoffDelay(10, base, capD))
	assert.Equal(t, time.Duration(0), backoffDelay(5, 0, capD))
}

func TestPool_FatalEviction(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 1})

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	brokenHandle := sess.HandleID()

	dialer.conn(0).invokeFn = func(op string, args []interface{}) (interface{}, error) {
		return nil, NewError(KindFatal, op, errors.New("rpc server unavailable"))
	}
	_, err = sess.Invoke(context.Background(), "StartTest")
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	sess.Close()

	assert.Equal(t, 1, dialer.conn(0).closeCount())
	assert.Equal(t, uint64(1), pool.Stats().Evictions)
	assert.Equal(t, 0, pool.Stats().Size)

	// pool replenishes lazily with a fresh handle
	sess2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer sess2.Close()
	assert.NotEqual(t, brokenHandle, sess2.HandleID())
	assert.Equal(t, 2, dialer.dialCount())
}

func TestPool_IdleVerifyFailureEvicts(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 2})

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	sess.Close()

	// next verify on the idle handle fails
	dialer.conn(0).mu.Lock()
	dialer.conn(0).pingErrs = []error{NewError(KindVerify, "", errors.New("busy"))}
	dialer.conn(0).mu.Unlock()

	sess2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer sess2.Close()

	assert.Equal(t, 2, dialer.dialCount(), "a replacement handle should have been opened")
	assert.Equal(t, 1, dialer.conn(0).closeCount())
	assert.Equal(t, uint64(1), pool.Stats().Evictions)
}

func TestPool_CancelledInvokeFlagsVerify(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 1})

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	pingsAfterLease := dialer.conn(0).pingCount()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Invoke(ctx, "ReportField", "TestName")
	require.Error(t, err)
	sess.Close()

	// next lease re-verifies the abandoned handle
	sess2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer sess2.Close()
	assert.Greater(t, dialer.conn(0).pingCount(), pingsAfterLease)
}

func TestPool_Shutdown(t *testing.T) {
	t.Run("closes idle handles and rejects acquires", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := New(dialer, Config{MaxInstances: 2}, zerolog.Nop())

		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		sess.Close()

		require.NoError(t, pool.Shutdown(context.Background()))
		assert.Equal(t, 1, dialer.conn(0).closeCount())

		_, err = pool.Acquire(context.Background())
		assert.ErrorIs(t, err, ErrPoolClosed)
	})

	t.Run("waits for leased handles", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := New(dialer, Config{MaxInstances: 1, ShutdownGrace: 2 * time.Second}, zerolog.Nop())

		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() {
			done <- pool.Shutdown(context.Background())
		}()

		time.Sleep(20 * time.Millisecond)
		sess.Close()

		require.NoError(t, <-done)
		assert.Equal(t, 1, dialer.conn(0).closeCount())
		assert.Equal(t, 0, pool.Stats().Size)
	})

	t.Run("force-closes leased handles after grace", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := New(dialer, Config{MaxInstances: 1, ShutdownGrace: 30 * time.Millisecond}, zerolog.Nop())

		_, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		require.NoError(t, pool.Shutdown(context.Background()))
		assert.Equal(t, 1, dialer.conn(0).closeCount())
	})

	t.Run("wakes waiters with ErrPoolClosed", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := New(dialer, Config{MaxInstances: 1, ShutdownGrace: 50 * time.Millisecond}, zerolog.Nop())

		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		defer sess.Close()

		waiterErr := make(chan error, 1)
		go func() {
			_, err := pool.Acquire(context.Background())
			waiterErr <- err
		}()
		waitForStats(t, pool, func(s Stats) bool { return s.Waiters == 1 })

		require.NoError(t, pool.Shutdown(context.Background()))
		assert.ErrorIs(t, <-waiterErr, ErrPoolClosed)
	})

	t.Run("returns promptly when an in-flight grow fails", func(t *testing.T) {
		release := make(chan struct{})
		dialer := DialerFunc(func(context.Context) (Conn, error) {
			<-release
			return nil, errDown
		})
		pool := New(dialer, Config{
			MaxInstances:  1,
			RetryAttempts: 1,
			BackoffBase:   time.Millisecond,
			BackoffCap:    time.Millisecond,
			ShutdownGrace: 2 * time.Second,
		}, zerolog.Nop())

		acquireErr := make(chan error, 1)
		go func() {
			_, err := pool.Acquire(context.Background())
			acquireErr <- err
		}()
		waitForStats(t, pool, func(s Stats) bool { return s.Size == 1 })

		done := make(chan error, 1)
		start := time.Now()
		go func() {
			done <- pool.Shutdown(context.Background())
		}()

		// Shutdown is now waiting on the dial that owns the only slot.
		time.Sleep(20 * time.Millisecond)
		close(release)

		require.NoError(t, <-done)
		assert.Less(t, time.Since(start), time.Second, "shutdown waited out the grace period")
		require.Error(t, <-acquireErr)
		assert.Equal(t, 0, pool.Stats().Size)
	})
}
