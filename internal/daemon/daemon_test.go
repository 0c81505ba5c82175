package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibelab/vvbridge/internal/config"
	"github.com/vibelab/vvbridge/internal/logger"
	"github.com/vibelab/vvbridge/pkg/instrument"
)

type nopConn struct{}

func (nopConn) Invoke(context.Context, string, ...interface{}) (interface{}, error) {
	return nil, nil
}
func (nopConn) Ping(context.Context) error { return nil }
func (nopConn) Close() error               { return nil }

func testDaemon(t *testing.T) *Daemon {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Profiles.ProfileDir = t.TempDir()
	cfg.Instrument.ShutdownGrace = 1

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	dialer := instrument.DialerFunc(func(context.Context) (instrument.Conn, error) {
		return nopConn{}, nil
	})
	d, err := newWithDialer(cfg, log, dialer)
	require.NoError(t, err)
	return d
}

func TestNewWiresComponents(t *testing.T) {
	d := testDaemon(t)
	defer d.closeComponents()

	assert.NotNil(t, d.pool)
	assert.NotNil(t, d.catalog)
	assert.NotNil(t, d.metrics)
	assert.NotNil(t, d.gateway)
}

func TestStopDrainsPool(t *testing.T) {
	d := testDaemon(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	sess, err := d.pool.Acquire(ctx)
	require.NoError(t, err)
	sess.Close()

	require.NoError(t, d.Stop())
	assert.Equal(t, 0, d.pool.Stats().Size)
}

func TestNewWithoutProfileDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Profiles.ProfileDir = ""

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	dialer := instrument.DialerFunc(func(context.Context) (instrument.Conn, error) {
		return nopConn{}, nil
	})
	d, err := newWithDialer(cfg, log, dialer)
	require.NoError(t, err)
	defer d.closeComponents()

	assert.Nil(t, d.catalog)
}
