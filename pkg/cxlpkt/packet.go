package cxlpkt

import (
	"bytes"
	"fmt"
	"io"
)

// Packet describes all packet kinds, which have their serialization and
// deserialization in common.
type Packet interface {
	Marshal(w io.Writer) error
	Unmarshal(r io.Reader) error
}

// newPacketForHeader selects an empty Packet for a raw payload,
// inspecting the system header's payload type first and the kind's own
// discriminator second. data must start at the system header.
func newPacketForHeader(sh SystemHeader, data []byte) (Packet, error) {
	switch sh.PayloadType {
	case Sideband:
		if len(data) < SystemHeaderSize+1 {
			return nil, fmt.Errorf("sideband packet of %d bytes lacks a sideband header", len(data))
		}
		switch SidebandType(data[SystemHeaderSize]) {
		case SidebandConnectionRequest:
			return &SidebandConnectionRequestPacket{}, nil
		case SidebandConnectionAccept:
			return &BaseSidebandPacket{}, nil
		default:
			return nil, fmt.Errorf("no packet registered for sideband type %#x", data[SystemHeaderSize])
		}

	case CXLmem:
		if len(data) < SystemHeaderSize+1 {
			return nil, fmt.Errorf("CXL.mem packet of %d bytes lacks a channel", len(data))
		}
		switch MemChannel(data[SystemHeaderSize]) {
		case M2SReq:
			return &M2SReqPacket{}, nil
		case M2SRwD:
			return &M2SRwDPacket{}, nil
		case S2MNDR:
			return &S2MNDRPacket{}, nil
		case S2MDRS:
			return &S2MDRSPacket{}, nil
		default:
			return nil, fmt.Errorf("no packet registered for CXL.mem channel %#x", data[SystemHeaderSize])
		}

	case CXLio:
		if len(data) < SystemHeaderSize+ioHeaderSize {
			return nil, fmt.Errorf("CXL.io packet of %d bytes lacks an io header", len(data))
		}
		switch IoFmtType(data[SystemHeaderSize]) {
		case MRd32, MRd64:
			return &IoMemReadPacket{}, nil
		case MWr32:
			return &IoMemWrite32Packet{}, nil
		case MWr64:
			return &IoMemWrite64Packet{}, nil
		case CfgRd0, CfgRd1:
			return &CfgReadPacket{}, nil
		case CfgWr0, CfgWr1:
			return &CfgWritePacket{}, nil
		case Cpl:
			return &CplPacket{}, nil
		case CplD:
			// CplD's payload width is announced only by the total length.
			switch int(sh.PayloadLength) {
			case CplDataPacket32Size:
				return &CplDataPacket32{}, nil
			case CplDataPacket64Size:
				return &CplDataPacket64{}, nil
			default:
				return nil, fmt.Errorf("CplD of %d bytes matches no completion variant", sh.PayloadLength)
			}
		default:
			return nil, fmt.Errorf("no packet registered for CXL.io fmt/type %#x", data[SystemHeaderSize])
		}

	default:
		return nil, fmt.Errorf("no packet registered for payload type %d", uint16(sh.PayloadType))
	}
}

// Decode parses a complete raw packet, as assembled by a framing reader,
// into its typed form. The system header's payload type is interpreted
// first, then the kind-specific discriminator selects the fixed-layout
// decoder. A recognized kind whose size does not match the single size
// expected for it is an error, never a silent reinterpretation.
func Decode(data []byte) (Packet, error) {
	sh, err := DecodeSystemHeader(data)
	if err != nil {
		return nil, err
	}

	if int(sh.PayloadLength) != len(data) {
		return nil, fmt.Errorf("announced packet length %d differs from the %d received bytes",
			sh.PayloadLength, len(data))
	}

	pkt, err := newPacketForHeader(sh, data)
	if err != nil {
		return nil, err
	}

	if want := PacketSize(pkt); want != len(data) {
		return nil, fmt.Errorf("%T expects %d bytes, got %d", pkt, want, len(data))
	}

	if err := pkt.Unmarshal(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	return pkt, nil
}

// PacketSize returns the fixed serialized size of a packet's kind, or 0
// for an unknown kind.
func PacketSize(pkt interface{}) int {
	switch pkt.(type) {
	case *BaseSidebandPacket, BaseSidebandPacket:
		return BaseSidebandPacketSize
	case *SidebandConnectionRequestPacket, SidebandConnectionRequestPacket:
		return SidebandConnectionRequestPacketSize
	case *M2SReqPacket, M2SReqPacket:
		return M2SReqPacketSize
	case *M2SRwDPacket, M2SRwDPacket:
		return M2SRwDPacketSize
	case *S2MNDRPacket, S2MNDRPacket:
		return S2MNDRPacketSize
	case *S2MDRSPacket, S2MDRSPacket:
		return S2MDRSPacketSize
	case *IoMemReadPacket, IoMemReadPacket:
		return IoMemReadPacketSize
	case *IoMemWrite32Packet, IoMemWrite32Packet:
		return IoMemWrite32PacketSize
	case *IoMemWrite64Packet, IoMemWrite64Packet:
		return IoMemWrite64PacketSize
	case *CfgReadPacket, CfgReadPacket:
		return CfgReadPacketSize
	case *CfgWritePacket, CfgWritePacket:
		return CfgWritePacketSize
	case *CplPacket, CplPacket:
		return CplPacketSize
	case *CplDataPacket32, CplDataPacket32:
		return CplDataPacket32Size
	case *CplDataPacket64, CplDataPacket64:
		return CplDataPacket64Size
	default:
		return 0
	}
}
