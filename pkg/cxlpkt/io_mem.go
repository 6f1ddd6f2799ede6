package cxlpkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// IoMemReadPacketSize is the serialized size of an IoMemReadPacket.
	IoMemReadPacketSize = SystemHeaderSize + ioHeaderSize + mreqHeaderSize

	// IoMemWrite32PacketSize is the serialized size of an IoMemWrite32Packet.
	IoMemWrite32PacketSize = IoMemReadPacketSize + 4

	// IoMemWrite64PacketSize is the serialized size of an IoMemWrite64Packet.
	IoMemWrite64PacketSize = IoMemReadPacketSize + 8
)

// IoMemReadPacket is a CXL.io memory-mapped read request.
type IoMemReadPacket struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	MReqHeader   MReqHeader
}

// NewIoMemReadPacket creates a memory read of 4 or 8 dword-aligned bytes
// at a host physical address. The size selects the 32-bit or 64-bit
// aligned form; sizes that are no multiple of four are rejected.
func NewIoMemReadPacket(hpa uint64, size int, tag uint8) (pkt IoMemReadPacket, err error) {
	if size%4 != 0 {
		err = fmt.Errorf("CXL.io memory read size %d is not dword aligned", size)
		return
	}

	fmtType := MRd64
	if size == 4 {
		fmtType = MRd32
	}

	dwords := uint16(roundUpToDword(uint32(size)) / 4)

	pkt = IoMemReadPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLio,
			PayloadLength: IoMemReadPacketSize,
		},
		IoHeader:   newIoHeader(fmtType, dwords),
		MReqHeader: newMReqHeader(0, tag, hpa),
	}
	return
}

func (pkt IoMemReadPacket) String() string {
	return fmt.Sprintf("IoMemReadPacket(%v, addr=%#x)", pkt.IoHeader.FmtType, pkt.MReqHeader.Addr())
}

func (pkt IoMemReadPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	return pkt.MReqHeader.Marshal(w)
}

func (pkt *IoMemReadPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("memory read packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	return pkt.MReqHeader.Unmarshal(r)
}

// IoMemWrite32Packet is a CXL.io memory-mapped write carrying 4 bytes.
type IoMemWrite32Packet struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	MReqHeader   MReqHeader
	Data         uint32
}

// IoMemWrite64Packet is a CXL.io memory-mapped write carrying 8 bytes.
type IoMemWrite64Packet struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	MReqHeader   MReqHeader
	Data         uint64
}

// NewIoMemWritePacket creates a memory write at a host physical address.
// The caller-declared size strictly selects the variant: 4 yields an
// IoMemWrite32Packet with the value truncated to 32 bits, 8 yields an
// IoMemWrite64Packet. Every other size is a caller contract violation.
func NewIoMemWritePacket(hpa uint64, val uint64, size int, tag uint8) (interface {
	Marshal(io.Writer) error
}, error) {
	dwords := uint16(roundUpToDword(uint32(size)) / 4)

	switch size {
	case 4:
		return IoMemWrite32Packet{
			SystemHeader: SystemHeader{
				PayloadType:   CXLio,
				PayloadLength: IoMemWrite32PacketSize,
			},
			IoHeader:   newIoHeader(MWr32, dwords),
			MReqHeader: newMReqHeader(0, tag, hpa),
			Data:       uint32(val & 0xFFFFFFFF),
		}, nil

	case 8:
		return IoMemWrite64Packet{
			SystemHeader: SystemHeader{
				PayloadType:   CXLio,
				PayloadLength: IoMemWrite64PacketSize,
			},
			IoHeader:   newIoHeader(MWr64, dwords),
			MReqHeader: newMReqHeader(0, tag, hpa),
			Data:       val,
		}, nil

	default:
		return nil, fmt.Errorf("CXL.io memory write size must be 4 or 8, got %d", size)
	}
}

func (pkt IoMemWrite32Packet) String() string {
	return fmt.Sprintf("IoMemWrite32Packet(addr=%#x, data=%#x)", pkt.MReqHeader.Addr(), pkt.Data)
}

func (pkt IoMemWrite32Packet) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.MReqHeader.Marshal(w); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, pkt.Data)
}

func (pkt *IoMemWrite32Packet) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("memory write packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	if err := pkt.MReqHeader.Unmarshal(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &pkt.Data)
}

func (pkt IoMemWrite64Packet) String() string {
	return fmt.Sprintf("IoMemWrite64Packet(addr=%#x, data=%#x)", pkt.MReqHeader.Addr(), pkt.Data)
}

func (pkt IoMemWrite64Packet) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.MReqHeader.Marshal(w); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, pkt.Data)
}

func (pkt *IoMemWrite64Packet) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("memory write packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	if err := pkt.MReqHeader.Unmarshal(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &pkt.Data)
}
