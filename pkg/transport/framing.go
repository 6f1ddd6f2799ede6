package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

// Stream is the bidirectional byte stream a Connection runs on. Both
// *net.TCPConn and the WebSocket wrapper satisfy it.
type Stream interface {
	io.Reader
	io.Writer

	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// readExact accumulates exactly want bytes from the stream into the
// front of buf, issuing partial reads until the deadline passes or the
// peer fails. A zero deadline blocks until the stream delivers or
// fails. A want exceeding buf's capacity is refused up front, so no
// read can run past the buffer bound.
func readExact(s Stream, buf []byte, want int, deadline time.Time) error {
	if want > len(buf) {
		return fmt.Errorf("wanted %d bytes exceed the %d byte buffer", want, len(buf))
	}

	if err := s.SetReadDeadline(deadline); err != nil {
		return err
	}

	var total int
	for total < want {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("deadline exceeded after %d of %d bytes", total, want)
		}

		n, err := s.Read(buf[total:want])
		if n > 0 {
			total += n
		}
		if err != nil {
			if total == 0 && os.IsTimeout(err) {
				return ErrNoData
			}
			return fmt.Errorf("read failed after %d of %d bytes: %v", total, want, err)
		}
	}

	return nil
}

// ReceivePacket assembles one complete packet from the stream into
// scratch and returns the filled prefix. The read happens in two
// phases, first the fixed-size system header and then the remainder of
// the announced payload, because the packet's length is self-described
// only once the header has arrived. Announced lengths not fitting
// scratch are rejected before any body byte is read. A non-positive
// timeout blocks until the stream delivers or fails.
func ReceivePacket(s Stream, scratch []byte, timeout time.Duration) ([]byte, error) {
	if err := readExact(s, scratch, cxlpkt.SystemHeaderSize, phaseDeadline(timeout)); err != nil {
		if errors.Is(err, ErrNoData) {
			return nil, ErrNoData
		}
		return nil, fmt.Errorf("failed to receive system header: %v", err)
	}

	sh, err := cxlpkt.DecodeSystemHeader(scratch)
	if err != nil {
		return nil, err
	}

	length := int(sh.PayloadLength)
	if length < cxlpkt.SystemHeaderSize {
		return nil, fmt.Errorf("announced length %d is shorter than the system header", length)
	}
	if length > len(scratch) {
		return nil, fmt.Errorf("announced length %d exceeds the %d byte receive buffer", length, len(scratch))
	}

	log.WithFields(log.Fields{
		"type":   sh.PayloadType,
		"length": length,
	}).Debug("Receiving packet payload")

	// The remainder gets a fresh deadline: the header's arrival proves
	// the peer is sending, no matter how late in the poll it landed.
	if err := readExact(s, scratch[cxlpkt.SystemHeaderSize:length], length-cxlpkt.SystemHeaderSize, phaseDeadline(timeout)); err != nil {
		return nil, fmt.Errorf("failed to receive packet payload: %v", err)
	}

	return scratch[:length], nil
}

func phaseDeadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
