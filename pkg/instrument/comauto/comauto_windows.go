//go:build windows

package comauto

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"github.com/rs/zerolog"

	"github.com/vibelab/vvbridge/pkg/instrument"
)

// pingOp is a cheap status query used to confirm the automation server is
// still answering calls.
const pingOp = "IsRunning"

var errConnClosed = errors.New("comauto: connection closed")

// Dialer creates COM automation connections for a registered ProgID.
type Dialer struct {
	progID string
	logger zerolog.Logger
}

// NewDialer returns a Dialer for the given automation ProgID, typically
// "VibrationVIEW.Application".
func NewDialer(progID string, logger zerolog.Logger) *Dialer {
	return &Dialer{
		progID: progID,
		logger: logger.With().Str("component", "comauto").Str("progid", progID).Logger(),
	}
}

// Dial creates the automation object on a dedicated OS thread and returns a
// Conn that funnels all calls through it. COM single-threaded apartments tie
// the object to the thread that created it, so the thread stays locked for
// the life of the connection.
func (d *Dialer) Dial(ctx context.Context) (instrument.Conn, error) {
	c := &conn{
		calls:  make(chan callReq),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	ready := make(chan error, 1)
	go c.run(d.progID, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, instrument.NewError(instrument.KindConnect, "dial", err)
		}
		return c, nil
	case <-ctx.Done():
		// The worker finishes creating the object on its own time; tear it
		// down once it reports in.
		go func() {
			if err := <-ready; err == nil {
				c.Close()
			}
		}()
		return nil, instrument.NewError(instrument.KindConnect, "dial", ctx.Err())
	}
}

type callReq struct {
	op    string
	args  []interface{}
	reply chan callResult
}

type callResult struct {
	value interface{}
	err   error
}

// conn owns one IDispatch living in a single-threaded apartment. The run
// goroutine is the only code that touches COM.
type conn struct {
	calls  chan callReq
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func (c *conn) run(progID string, ready chan<- error) {
	// The apartment is bound to this thread until CoUninitialize.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		// S_FALSE means the apartment already exists on this thread, which
		// go-ole surfaces as an error.
		var oe *ole.OleError
		if !errors.As(err, &oe) || uint32(oe.Code()) != 0x00000001 {
			ready <- err
			return
		}
	}
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		ole.CoUninitialize()
		ready <- err
		return
	}
	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		ole.CoUninitialize()
		ready <- err
		return
	}
	ready <- nil
	c.logger.Debug().Msg("automation object created")

	for {
		select {
		case req := <-c.calls:
			req.reply <- dispatch(disp, req)
		case <-c.stop:
			disp.Release()
			ole.CoUninitialize()
			close(c.done)
			c.logger.Debug().Msg("automation object released")
			return
		}
	}
}

func dispatch(disp *ole.IDispatch, req callReq) callResult {
	v, err := oleutil.CallMethod(disp, req.op, req.args...)
	if err != nil {
		return callResult{err: wrapCallError(req.op, err)}
	}
	defer v.Clear()
	if sa := v.ToArray(); sa != nil {
		return callResult{value: sa.ToValueArray()}
	}
	return callResult{value: v.Value()}
}

// Invoke forwards op to the apartment thread and waits for the result. A
// cancelled context abandons the wait; the reply channel is buffered so the
// worker never blocks on an abandoned call.
func (c *conn) Invoke(ctx context.Context, op string, args ...interface{}) (interface{}, error) {
	req := callReq{op: op, args: args, reply: make(chan callResult, 1)}
	select {
	case c.calls <- req:
	case <-c.done:
		return nil, instrument.NewError(instrument.KindFatal, op, errConnClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping confirms the automation server still answers calls.
func (c *conn) Ping(ctx context.Context) error {
	_, err := c.Invoke(ctx, pingOp)
	return err
}

// Close shuts down the apartment thread and waits for COM teardown.
func (c *conn) Close() error {
	c.once.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

// wrapCallError classifies an automation call failure. VibrationVIEW raises
// dispatch exceptions whose SCODE carries the real error, so the EXCEPINFO
// code wins over the outer DISP_E_EXCEPTION.
func wrapCallError(op string, err error) error {
	hr, ok := scodeOf(err)
	if !ok {
		return instrument.NewError(instrument.KindTransient, op, err)
	}
	kind := kindForHRESULT(hr)
	if msg := hresultMessage(hr); msg != "" {
		err = fmt.Errorf("%s (0x%08x): %w", msg, hr, err)
	}
	return instrument.NewError(kind, op, err)
}

func scodeOf(err error) (uint32, bool) {
	var oe *ole.OleError
	if !errors.As(err, &oe) {
		return 0, false
	}
	hr := uint32(oe.Code())
	if hr == hrDispException {
		switch sub := oe.SubError().(type) {
		case *ole.EXCEPINFO:
			return uint32(sub.SCODE()), true
		case ole.EXCEPINFO:
			return uint32(sub.SCODE()), true
		}
	}
	return hr, true
}
