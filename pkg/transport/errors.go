package transport

import (
	"errors"
	"fmt"
)

// ErrDesync marks a protocol desynchronization: the two endpoints have
// lost agreement on protocol state, as opposed to a transient I/O
// fault. It is not retriable; the caller's only remedy is to tear down
// the connection and reconnect. Test with errors.Is.
var ErrDesync = errors.New("protocol desynchronization")

// desyncf wraps ErrDesync with a description of the broken invariant.
func desyncf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrDesync}, args...)...)
}

// ErrNoData reports that the receive timeout passed before the first
// byte of a packet arrived. A responder polling for requests treats it
// as an idle stream and tries again; once a packet has started to
// arrive, a stall is reported as an ordinary error instead.
var ErrNoData = errors.New("no packet arrived before the deadline")
