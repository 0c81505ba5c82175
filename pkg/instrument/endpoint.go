package instrument

import "context"

// Conn is one live connection to the automation endpoint. Implementations
// map every failure into an *Error so the pool can tell transient trouble
// from a dead handle. A Conn is not safe for concurrent use; the Handle
// owning it serializes all calls.
type Conn interface {
	// Invoke forwards one named operation call to the application.
	Invoke(ctx context.Context, op string, args ...interface{}) (interface{}, error)

	// Ping issues a lightweight status call to confirm the application is
	// live and responsive.
	Ping(ctx context.Context) error

	// Close releases the connection. It must be safe to call multiple times
	// and must not fail on an already-broken connection.
	Close() error
}

// Dialer opens connections to the automation endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}
