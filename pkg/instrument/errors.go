package instrument

import (
	"errors"
	"fmt"
)

// Kind classifies a failure from the automation endpoint.
type Kind int

const (
	// KindConnect means the endpoint was unreachable or refused the connection.
	KindConnect Kind = iota
	// KindVerify means the connection exists but the application did not
	// respond to a liveness check.
	KindVerify
	// KindTransient means the call failed but may succeed on a fresh handle.
	KindTransient
	// KindInvalidArgument means the call was rejected; retrying cannot help.
	KindInvalidArgument
	// KindFatal means the handle is unusable and must be discarded.
	KindFatal
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindVerify:
		return "verify"
	case KindTransient:
		return "transient"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error wraps a failure from the automation endpoint with its classification.
type Error struct {
	Kind Kind
	Op   string // operation name, empty for open/verify failures
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("instrument: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("instrument: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification and the operation it failed in.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification from err. Errors that did not come from
// the endpoint adapter are treated as transient so that callers may retry on
// a fresh handle.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindTransient
}

// errNotOpen reports use of a handle without a live connection.
var errNotOpen = errors.New("handle has no open connection")

var (
	// ErrPoolClosed is returned by Acquire after Shutdown.
	ErrPoolClosed = errors.New("instrument: pool is closed")

	// ErrPoolExhausted is returned when no handle became available within
	// the caller's timeout.
	ErrPoolExhausted = errors.New("instrument: no handle available within timeout")
)

// UnavailableError reports that the application could not be reached after
// exhausting connection retries. It carries the last underlying failure for
// diagnostics.
type UnavailableError struct {
	Attempts int
	Last     error
}

// Error implements the error interface
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("instrument: application unavailable after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap returns the last underlying failure
func (e *UnavailableError) Unwrap() error {
	return e.Last
}
