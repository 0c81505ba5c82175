package instrument

import (
	"context"
	"errors"
	"sync"
)

// fakeConn is a scriptable automation connection for tests.
type fakeConn struct {
	mu       sync.Mutex
	pingErrs []error // consumed in order; nil entries mean success
	invokeFn func(op string, args []interface{}) (interface{}, error)
	pings    int
	invokes  int
	closes   int
}

func (c *fakeConn) Invoke(ctx context.Context, op string, args ...interface{}) (interface{}, error) {
	c.mu.Lock()
	c.invokes++
	fn := c.invokeFn
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn == nil {
		return "ok:" + op, nil
	}
	return fn(op, args)
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	if len(c.pingErrs) == 0 {
		return nil
	}
	err := c.pingErrs[0]
	c.pingErrs = c.pingErrs[1:]
	return err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// fakeDialer hands out fakeConns, optionally failing the first few dials.
type fakeDialer struct {
	mu       sync.Mutex
	dialErrs []error // consumed in order before successful dials
	conns    []*fakeConn
	setup    func(*fakeConn)
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		return nil, err
	}
	conn := &fakeConn{}
	if d.setup != nil {
		d.setup(conn)
	}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

var errDown = errors.New("application not running")
