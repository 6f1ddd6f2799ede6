package cxlpkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// SidebandType discriminates sideband packets.
type SidebandType uint8

const (
	// SidebandConnectionRequest asks the peer to accept transaction
	// traffic for the announced port.
	SidebandConnectionRequest SidebandType = 0x00

	// SidebandConnectionAccept acknowledges a connection request.
	SidebandConnectionAccept SidebandType = 0x01
)

func (st SidebandType) String() string {
	switch st {
	case SidebandConnectionRequest:
		return "CONNECTION_REQUEST"
	case SidebandConnectionAccept:
		return "CONNECTION_ACCEPT"
	default:
		return fmt.Sprintf("unknown sideband type %d", uint8(st))
	}
}

const (
	// BaseSidebandPacketSize is the serialized size of a BaseSidebandPacket.
	BaseSidebandPacketSize = SystemHeaderSize + 1

	// SidebandConnectionRequestPacketSize is the serialized size of a
	// SidebandConnectionRequestPacket.
	SidebandConnectionRequestPacketSize = SystemHeaderSize + 1 + 4
)

// BaseSidebandPacket is a sideband packet without a body. Peers answer a
// connection request with a BaseSidebandPacket of type CONNECTION_ACCEPT.
type BaseSidebandPacket struct {
	SystemHeader SystemHeader
	Type         SidebandType
}

// NewBaseSidebandPacket creates a BaseSidebandPacket for a SidebandType.
func NewBaseSidebandPacket(t SidebandType) BaseSidebandPacket {
	return BaseSidebandPacket{
		SystemHeader: SystemHeader{
			PayloadType:   Sideband,
			PayloadLength: BaseSidebandPacketSize,
		},
		Type: t,
	}
}

func (pkt BaseSidebandPacket) String() string {
	return fmt.Sprintf("BaseSidebandPacket(%v)", pkt.Type)
}

func (pkt BaseSidebandPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}

	return binary.Write(w, binary.LittleEndian, uint8(pkt.Type))
}

func (pkt *BaseSidebandPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != Sideband {
		return fmt.Errorf("sideband packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	return binary.Read(r, binary.LittleEndian, (*uint8)(&pkt.Type))
}

// SidebandConnectionRequestPacket announces a port to the peer before
// any transaction traffic is exchanged.
type SidebandConnectionRequestPacket struct {
	SystemHeader SystemHeader
	Type         SidebandType
	Port         uint32
}

// NewSidebandConnectionRequestPacket creates a connection request for a port.
func NewSidebandConnectionRequestPacket(port uint32) SidebandConnectionRequestPacket {
	return SidebandConnectionRequestPacket{
		SystemHeader: SystemHeader{
			PayloadType:   Sideband,
			PayloadLength: SidebandConnectionRequestPacketSize,
		},
		Type: SidebandConnectionRequest,
		Port: port,
	}
}

func (pkt SidebandConnectionRequestPacket) String() string {
	return fmt.Sprintf("SidebandConnectionRequestPacket(port=%d)", pkt.Port)
}

func (pkt SidebandConnectionRequestPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}

	var fields = []interface{}{
		uint8(pkt.Type),
		pkt.Port,
	}

	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}

func (pkt *SidebandConnectionRequestPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != Sideband {
		return fmt.Errorf("sideband packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	var fields = []interface{}{
		(*uint8)(&pkt.Type),
		&pkt.Port,
	}

	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	if pkt.Type != SidebandConnectionRequest {
		return fmt.Errorf("connection request's sideband type is wrong: %v", pkt.Type)
	}

	return nil
}
