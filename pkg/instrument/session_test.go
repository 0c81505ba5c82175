package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_ReleaseExactlyOnce(t *testing.T) {
	t.Run("zero invokes", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := testPool(t, dialer, Config{MaxInstances: 1})

		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		sess.Close()
		sess.Close()
		sess.Close()

		stats := pool.Stats()
		assert.Equal(t, 0, stats.Leased)
		assert.Equal(t, 1, stats.Idle)
	})

	t.Run("many invokes", func(t *testing.T) {
		dialer := &fakeDialer{}
		pool := testPool(t, dialer, Config{MaxInstances: 1})

		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, err := sess.Invoke(context.Background(), "IsRunning")
			require.NoError(t, err)
		}
		sess.Close()
		sess.Close()

		stats := pool.Stats()
		assert.Equal(t, 0, stats.Leased)
		assert.Equal(t, 1, stats.Idle)
	})

	t.Run("failing invoke", func(t *testing.T) {
		dialer := &fakeDialer{
			setup: func(c *fakeConn) {
				c.invokeFn = func(op string, args []interface{}) (interface{}, error) {
					return nil, NewError(KindTransient, op, errors.New("device busy"))
				}
			},
		}
		pool := testPool(t, dialer, Config{MaxInstances: 1})

		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)

		_, err = sess.Invoke(context.Background(), "StartTest")
		require.Error(t, err)
		assert.Equal(t, KindTransient, KindOf(err))

		sess.Close()
		sess.Close()

		// transient failures do not evict the handle
		stats := pool.Stats()
		assert.Equal(t, 1, stats.Idle)
		assert.Equal(t, uint64(0), stats.Evictions)
	})
}

func TestSession_InvokeAfterClose(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 1})

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	sess.Close()

	_, err = sess.Invoke(context.Background(), "IsReady")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSession_TransientThenFreshSession(t *testing.T) {
	dialer := &fakeDialer{}
	pool := testPool(t, dialer, Config{MaxInstances: 1})

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	dialer.conn(0).invokeFn = func(op string, args []interface{}) (interface{}, error) {
		return nil, NewError(KindTransient, op, errors.New("busy"))
	}
	_, err = sess.Invoke(context.Background(), "ReportField", "TestName")
	require.Error(t, err)
	sess.Close()

	// the caller's retry path: a fresh session on the same healthy handle
	dialer.conn(0).invokeFn = nil
	sess2, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer sess2.Close()

	result, err := sess2.Invoke(context.Background(), "ReportField", "TestName")
	require.NoError(t, err)
	assert.Equal(t, "ok:ReportField", result)
	assert.Equal(t, 1, dialer.dialCount())
}
