package transport

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

// DefaultTimeout bounds each send and each receive on a Connection
// whose caller did not configure its own timeout.
const DefaultTimeout = 5 * time.Second

// Connection carries CXL transaction traffic over an established byte
// stream and correlates requests with their responses. It owns the
// per-connection packet Catalog but never reconnects the underlying
// stream; a failed Connection is closed and dialed anew.
//
// A Connection is synchronous and single-threaded by contract: every
// send and wait call blocks until completion, timeout or stream
// failure, and at most one transaction may be in flight at a time.
// Callers sharing a Connection between goroutines must serialize whole
// transactions themselves, the way remote.Port does.
type Connection struct {
	stream  Stream
	timeout time.Duration
	catalog Catalog
	scratch [cxlpkt.MaxPacketSize]byte
}

// New wraps an established Stream into a Connection. A non-positive
// timeout selects DefaultTimeout.
func New(stream Stream, timeout time.Duration) *Connection {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Connection{
		stream:  stream,
		timeout: timeout,
	}
}

// Dial opens a TCP connection to host and port and wraps it into a
// Connection. The host may be a literal address or a name; names are
// resolved. Dialing failures are reported to the caller, who decides
// whether to retry.
func Dial(host string, port int, timeout time.Duration) (*Connection, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %v", host, err)
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial("tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %v: %v", addr, err)
	}

	log.WithFields(log.Fields{
		"remote":  conn.RemoteAddr(),
		"timeout": timeout,
	}).Debug("Established transport connection")

	return New(conn.(*net.TCPConn), timeout), nil
}

// Timeout returns the per-operation send/receive timeout.
func (c *Connection) Timeout() time.Duration {
	return c.timeout
}

// Close closes the underlying stream if it supports closing. Streams
// handed to New by the caller may be closed by the caller instead.
func (c *Connection) Close() error {
	if closer, ok := c.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// nextTag returns the tag for the next outbound request. CXL.mem
// completions carry no tag on the wire, so responses cannot be matched
// to more than one outstanding request; the Connection's contract of
// one in-flight transaction makes a single tag sufficient, and tag
// zero is used throughout.
func (c *Connection) nextTag() uint16 {
	return 0
}

// ReleaseTag marks a tag's catalog slot empty after its response has
// been consumed, completing the transaction. It returns false for a
// tag outside the valid range.
func (c *Connection) ReleaseTag(tag uint16) bool {
	return c.catalog.Release(tag)
}

// marshaler is satisfied by every cxlpkt packet kind.
type marshaler interface {
	Marshal(w io.Writer) error
}

// writePacket serializes one packet and sends it as a single write
// under the configured send timeout. One write per packet keeps a
// packet in one WebSocket message and avoids a trickle of tiny TCP
// segments.
func (c *Connection) writePacket(pkt marshaler) error {
	var buf bytes.Buffer
	if err := pkt.Marshal(&buf); err != nil {
		return fmt.Errorf("failed to serialize packet: %v", err)
	}

	if err := c.stream.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}

	if _, err := c.stream.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send packet: %v", err)
	}

	return nil
}
