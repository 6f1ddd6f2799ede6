package transport

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

// SendSidebandConnectionRequest announces a port to the peer. The
// returned tag selects the WaitForSidebandAccept call matching this
// request.
func (c *Connection) SendSidebandConnectionRequest(port uint32) (uint16, error) {
	tag := c.nextTag()

	pkt := cxlpkt.NewSidebandConnectionRequestPacket(port)
	log.WithField("port", port).Debug("Sending sideband connection request")

	return tag, c.writePacket(pkt)
}

// SendMemRead issues a CXL.mem read of one access unit at a host
// physical address.
func (c *Connection) SendMemRead(hpa uint64) (uint16, error) {
	tag := c.nextTag()

	pkt := cxlpkt.NewM2SReqPacket(hpa)
	log.WithField("hpa", fmt.Sprintf("%#x", hpa)).Debug("Sending CXL.mem read")

	return tag, c.writePacket(pkt)
}

// SendMemWrite issues a CXL.mem write of one access unit at a host
// physical address. data must hold exactly cxlpkt.MemAccessUnit bytes.
func (c *Connection) SendMemWrite(hpa uint64, data []byte) (uint16, error) {
	tag := c.nextTag()

	pkt, err := cxlpkt.NewM2SRwDPacket(hpa, data)
	if err != nil {
		return tag, err
	}

	log.WithField("hpa", fmt.Sprintf("%#x", hpa)).Debug("Sending CXL.mem write")

	return tag, c.writePacket(pkt)
}

// SendIoMemRead issues a CXL.io memory-mapped read of 4 or 8 bytes at a
// host physical address. The size must be a multiple of four.
func (c *Connection) SendIoMemRead(hpa uint64, size int) (uint16, error) {
	tag := c.nextTag()

	pkt, err := cxlpkt.NewIoMemReadPacket(hpa, size, uint8(tag))
	if err != nil {
		return tag, err
	}

	log.WithFields(log.Fields{
		"hpa":  fmt.Sprintf("%#x", hpa),
		"size": size,
	}).Debug("Sending CXL.io memory read")

	return tag, c.writePacket(pkt)
}

// SendIoMemWrite issues a CXL.io memory-mapped write. The size strictly
// selects the 32-bit or 64-bit packet variant and must be 4 or 8.
func (c *Connection) SendIoMemWrite(hpa uint64, val uint64, size int) (uint16, error) {
	tag := c.nextTag()

	pkt, err := cxlpkt.NewIoMemWritePacket(hpa, val, size, uint8(tag))
	if err != nil {
		return tag, err
	}

	log.WithFields(log.Fields{
		"hpa":  fmt.Sprintf("%#x", hpa),
		"size": size,
	}).Debug("Sending CXL.io memory write")

	return tag, c.writePacket(pkt)
}

// SendCfgRead issues a configuration space read for the function
// addressed by bdf. Contract violations, like an access crossing a
// dword boundary, are rejected before any byte leaves the host.
func (c *Connection) SendCfgRead(bdf uint16, offset uint32, size int, type0 bool) (uint16, error) {
	tag := c.nextTag()

	pkt, err := cxlpkt.NewCfgReadPacket(bdf, offset, size, type0, uint8(tag))
	if err != nil {
		return tag, err
	}

	log.WithFields(log.Fields{
		"bdf":    fmt.Sprintf("%#x", bdf),
		"offset": fmt.Sprintf("%#x", offset),
		"size":   size,
	}).Debug("Sending config space read")

	return tag, c.writePacket(pkt)
}

// SendCfgWrite issues a configuration space write for the function
// addressed by bdf.
func (c *Connection) SendCfgWrite(bdf uint16, offset uint32, val uint32, size int, type0 bool) (uint16, error) {
	tag := c.nextTag()

	pkt, err := cxlpkt.NewCfgWritePacket(bdf, offset, val, size, type0, uint8(tag))
	if err != nil {
		return tag, err
	}

	log.WithFields(log.Fields{
		"bdf":    fmt.Sprintf("%#x", bdf),
		"offset": fmt.Sprintf("%#x", offset),
		"size":   size,
	}).Debug("Sending config space write")

	return tag, c.writePacket(pkt)
}

// waitFor drains the stream until the tag's catalog entry holds a
// packet whose size matches one of the expected kinds, then decodes it.
// The entry stays populated until the caller releases the tag. A
// populated entry matching none of the expected sizes means the two
// ends disagree about the wire format, reported as ErrDesync. Receive
// failures abandon the wait; they are not retried here.
func (c *Connection) waitFor(tag uint16, sizes ...int) (cxlpkt.Packet, error) {
	for {
		entry, ok := c.catalog.Get(tag)
		if !ok {
			return nil, fmt.Errorf("tag %d is outside the tag space", tag)
		}

		if !entry.Empty() {
			matched := false
			for _, size := range sizes {
				if entry.Size() == size {
					matched = true
					break
				}
			}
			if !matched {
				return nil, desyncf("tag %d holds %d bytes, expected one of %v", tag, entry.Size(), sizes)
			}

			pkt, err := cxlpkt.Decode(entry.Bytes())
			if err != nil {
				return nil, desyncf("tag %d holds an undecodable packet: %v", tag, err)
			}
			return pkt, nil
		}

		raw, err := ReceivePacket(c.stream, c.scratch[:], c.timeout)
		if err != nil {
			return nil, err
		}

		// Responses carry no tag on the wire; under the one-transaction
		// contract they belong to the single awaited tag.
		if err := c.catalog.Store(tag, raw); err != nil {
			return nil, err
		}
	}
}

// WaitForSidebandAccept blocks until the peer acknowledges a sideband
// connection request.
func (c *Connection) WaitForSidebandAccept(tag uint16) (*cxlpkt.BaseSidebandPacket, error) {
	pkt, err := c.waitFor(tag, cxlpkt.BaseSidebandPacketSize)
	if err != nil {
		return nil, err
	}

	sideband, ok := pkt.(*cxlpkt.BaseSidebandPacket)
	if !ok {
		return nil, desyncf("expected a sideband packet, got %T", pkt)
	}
	if sideband.Type != cxlpkt.SidebandConnectionAccept {
		return nil, desyncf("sideband type is %v instead of CONNECTION_ACCEPT", sideband.Type)
	}

	return sideband, nil
}

// WaitForMemCompletion blocks until the CXL.mem no-data completion for
// the tag's write request arrives.
func (c *Connection) WaitForMemCompletion(tag uint16) (*cxlpkt.S2MNDRPacket, error) {
	pkt, err := c.waitFor(tag, cxlpkt.S2MNDRPacketSize)
	if err != nil {
		return nil, err
	}

	ndr, ok := pkt.(*cxlpkt.S2MNDRPacket)
	if !ok {
		return nil, desyncf("expected a S2M NDR packet, got %T", pkt)
	}

	return ndr, nil
}

// WaitForMemData blocks until the CXL.mem data completion for the tag's
// read request arrives.
func (c *Connection) WaitForMemData(tag uint16) (*cxlpkt.S2MDRSPacket, error) {
	pkt, err := c.waitFor(tag, cxlpkt.S2MDRSPacketSize)
	if err != nil {
		return nil, err
	}

	drs, ok := pkt.(*cxlpkt.S2MDRSPacket)
	if !ok {
		return nil, desyncf("expected a S2M DRS packet, got %T", pkt)
	}

	return drs, nil
}

// WaitForIoCompletion blocks until the data-less CXL.io completion for
// the tag's request arrives.
func (c *Connection) WaitForIoCompletion(tag uint16) (*cxlpkt.CplPacket, error) {
	pkt, err := c.waitFor(tag, cxlpkt.CplPacketSize)
	if err != nil {
		return nil, err
	}

	cpl, ok := pkt.(*cxlpkt.CplPacket)
	if !ok {
		return nil, desyncf("expected a completion packet, got %T", pkt)
	}

	return cpl, nil
}

// WaitForIoCompletionData blocks until the CXL.io completion for the
// tag's read arrives and returns its payload and width in bytes. A
// read the peer could not serve is completed without data; it yields
// a width of zero and the caller substitutes the poison value.
func (c *Connection) WaitForIoCompletionData(tag uint16) (data uint64, width int, err error) {
	pkt, err := c.waitFor(tag, cxlpkt.CplPacketSize, cxlpkt.CplDataPacket32Size, cxlpkt.CplDataPacket64Size)
	if err != nil {
		return 0, 0, err
	}

	switch cpl := pkt.(type) {
	case *cxlpkt.CplPacket:
		return 0, 0, nil
	case *cxlpkt.CplDataPacket32:
		return uint64(cpl.Data), 4, nil
	case *cxlpkt.CplDataPacket64:
		return cpl.Data, 8, nil
	default:
		return 0, 0, desyncf("expected a completion packet, got %T", pkt)
	}
}

// WaitForCfgCompletion blocks until the completion for the tag's
// configuration request arrives. A read answered by a data-less
// completion yields the all-ones poison value, signalling an error
// completion to the device-model layer by convention.
func (c *Connection) WaitForCfgCompletion(tag uint16, expectData bool) (uint32, error) {
	sizes := []int{cxlpkt.CplPacketSize}
	if expectData {
		sizes = append(sizes, cxlpkt.CplDataPacket32Size)
	}

	pkt, err := c.waitFor(tag, sizes...)
	if err != nil {
		return 0, err
	}

	switch cpl := pkt.(type) {
	case *cxlpkt.CplPacket:
		return 0xFFFFFFFF, nil
	case *cxlpkt.CplDataPacket32:
		return cpl.Data, nil
	default:
		return 0, desyncf("expected a config completion packet, got %T", pkt)
	}
}
