package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

func TestReceivePacketAssemblesSplitWrites(t *testing.T) {
	local, remote := net.Pipe()
	defer func() { _ = local.Close() }()
	defer func() { _ = remote.Close() }()

	pkt := cxlpkt.NewM2SReqPacket(0x1000)
	var buf = new(bytes.Buffer)
	if err := pkt.Marshal(buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()

	// Dribble the packet over the wire byte by byte.
	go func() {
		for _, b := range raw {
			if _, err := remote.Write([]byte{b}); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	scratch := make([]byte, cxlpkt.MaxPacketSize)
	received, err := ReceivePacket(local, scratch, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(received, raw) {
		t.Fatalf("Received packet differs: %x, %x", received, raw)
	}
}

func TestReceivePacketDeadline(t *testing.T) {
	local, remote := net.Pipe()
	defer func() { _ = local.Close() }()
	defer func() { _ = remote.Close() }()

	const timeout = 250 * time.Millisecond

	// The peer never sends; the receive must fail no earlier than the
	// timeout and within a bounded margin after it.
	start := time.Now()
	scratch := make([]byte, cxlpkt.MaxPacketSize)
	if _, err := ReceivePacket(local, scratch, timeout); err == nil {
		t.Fatal("Receiving from a silent peer did not fail")
	} else if !errors.Is(err, ErrNoData) {
		t.Fatalf("Silent peer produced %v instead of ErrNoData", err)
	}

	elapsed := time.Since(start)
	if elapsed < timeout {
		t.Fatalf("Failed after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+time.Second {
		t.Fatalf("Failed after %v, long past the %v timeout", elapsed, timeout)
	}
}

func TestReceivePacketRejectsOversizedLengths(t *testing.T) {
	// Announced lengths around and beyond the receive buffer must be
	// rejected without a write past the buffer bound.
	for _, length := range []int{0, 1, cxlpkt.SystemHeaderSize - 1,
		cxlpkt.MaxPacketSize + 1, cxlpkt.MaxPacketSize * 2, 0xFFFF} {

		local, remote := net.Pipe()

		header := make([]byte, cxlpkt.SystemHeaderSize)
		binary.LittleEndian.PutUint16(header[0:2], uint16(cxlpkt.CXLio))
		binary.LittleEndian.PutUint16(header[2:4], uint16(length))

		go func() {
			_, _ = remote.Write(header)
		}()

		scratch := make([]byte, cxlpkt.MaxPacketSize)
		if _, err := ReceivePacket(local, scratch, time.Second); err == nil {
			t.Fatalf("Announced length %d was not rejected", length)
		}

		_ = local.Close()
		_ = remote.Close()
	}
}

func TestReadExactOverflowGuard(t *testing.T) {
	local, remote := net.Pipe()
	defer func() { _ = local.Close() }()
	defer func() { _ = remote.Close() }()

	buf := make([]byte, 8)
	if err := readExact(local, buf, 16, time.Now().Add(time.Second)); err == nil {
		t.Fatal("Wanting more bytes than the buffer holds did not fail")
	}
}

func TestReadExactPeerClose(t *testing.T) {
	local, remote := net.Pipe()
	defer func() { _ = local.Close() }()

	go func() {
		_, _ = remote.Write([]byte{0x01, 0x02})
		_ = remote.Close()
	}()

	buf := make([]byte, 8)
	if err := readExact(local, buf, 8, time.Now().Add(time.Second)); err == nil {
		t.Fatal("Reading from a closed peer did not fail")
	}
}
