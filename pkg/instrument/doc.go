// Package instrument manages a bounded pool of automation connections to a
// vibration-control application.
//
// The application is a single desktop process whose automation interface is
// expensive to connect to and not safe to call concurrently on one
// connection. The pool hands out exclusive, auto-released leases (Sessions)
// over a fixed set of connection Handles, verifies handles before reuse,
// retries failed connection attempts with exponential backoff, and evicts
// handles whose last invocation reported a fatal failure.
package instrument
