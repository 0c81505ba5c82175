//go:build !windows

package comauto

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vibelab/vvbridge/pkg/instrument"
)

var errUnsupported = errors.New("comauto: COM automation requires Windows")

// Dialer creates COM automation connections for a registered ProgID. On
// non-Windows platforms every Dial fails; the gateway can still start for
// development against a stub dialer.
type Dialer struct {
	progID string
}

// NewDialer returns a Dialer for the given automation ProgID.
func NewDialer(progID string, _ zerolog.Logger) *Dialer {
	return &Dialer{progID: progID}
}

// Dial always fails on this platform.
func (d *Dialer) Dial(_ context.Context) (instrument.Conn, error) {
	return nil, instrument.NewError(instrument.KindConnect, "dial", errUnsupported)
}
