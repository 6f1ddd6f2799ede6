package cxlpkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MemChannel selects the CXL.mem channel a packet travels on.
type MemChannel uint8

const (
	// M2SReq is the master-to-subordinate request channel (reads).
	M2SReq MemChannel = 0x00

	// M2SRwD is the master-to-subordinate request-with-data channel (writes).
	M2SRwD MemChannel = 0x01

	// S2MNDR is the subordinate-to-master no-data-response channel.
	S2MNDR MemChannel = 0x02

	// S2MDRS is the subordinate-to-master data-response channel.
	S2MDRS MemChannel = 0x03
)

func (mc MemChannel) String() string {
	switch mc {
	case M2SReq:
		return "M2S_REQ"
	case M2SRwD:
		return "M2S_RWD"
	case S2MNDR:
		return "S2M_NDR"
	case S2MDRS:
		return "S2M_DRS"
	default:
		return fmt.Sprintf("unknown CXL.mem channel %d", uint8(mc))
	}
}

// MemOpcode is the memory operation of a CXL.mem request or response.
type MemOpcode uint8

const (
	// MemRd requests one access unit from the subordinate.
	MemRd MemOpcode = 0x00

	// MemWr carries one access unit to the subordinate.
	MemWr MemOpcode = 0x01

	// MemCmp completes a request without data.
	MemCmp MemOpcode = 0x02

	// MemData completes a read with one access unit of data.
	MemData MemOpcode = 0x03
)

const (
	// M2SReqPacketSize is the serialized size of a M2SReqPacket.
	M2SReqPacketSize = SystemHeaderSize + 1 + 1 + 8

	// M2SRwDPacketSize is the serialized size of a M2SRwDPacket.
	M2SRwDPacketSize = M2SReqPacketSize + MemAccessUnit

	// S2MNDRPacketSize is the serialized size of a S2MNDRPacket.
	S2MNDRPacketSize = SystemHeaderSize + 1 + 1

	// S2MDRSPacketSize is the serialized size of a S2MDRSPacket.
	S2MDRSPacketSize = S2MNDRPacketSize + MemAccessUnit
)

// M2SReqPacket is a CXL.mem read request. Addr holds the host physical
// address divided by the access unit; the six offset bits within a line
// are shifted out and the line index remains.
type M2SReqPacket struct {
	SystemHeader SystemHeader
	Channel      MemChannel
	Opcode       MemOpcode
	Addr         uint64
}

// NewM2SReqPacket creates a CXL.mem read request for a host physical address.
func NewM2SReqPacket(hpa uint64) M2SReqPacket {
	return M2SReqPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLmem,
			PayloadLength: M2SReqPacketSize,
		},
		Channel: M2SReq,
		Opcode:  MemRd,
		Addr:    hpa >> 6,
	}
}

// HostAddr recovers the host physical address from the Addr field.
func (pkt M2SReqPacket) HostAddr() uint64 {
	return pkt.Addr << 6
}

func (pkt M2SReqPacket) String() string {
	return fmt.Sprintf("M2SReqPacket(%v, addr=%#x)", pkt.Opcode, pkt.Addr)
}

func (pkt M2SReqPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}

	var fields = []interface{}{
		uint8(pkt.Channel),
		uint8(pkt.Opcode),
		pkt.Addr,
	}

	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}

func (pkt *M2SReqPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLmem {
		return fmt.Errorf("M2S REQ packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	var fields = []interface{}{
		(*uint8)(&pkt.Channel),
		(*uint8)(&pkt.Opcode),
		&pkt.Addr,
	}

	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}

// M2SRwDPacket is a CXL.mem write request carrying one access unit.
type M2SRwDPacket struct {
	SystemHeader SystemHeader
	Channel      MemChannel
	Opcode       MemOpcode
	Addr         uint64
	Data         [MemAccessUnit]byte
}

// NewM2SRwDPacket creates a CXL.mem write of one access unit at a host
// physical address. data must hold exactly MemAccessUnit bytes.
func NewM2SRwDPacket(hpa uint64, data []byte) (pkt M2SRwDPacket, err error) {
	if len(data) != MemAccessUnit {
		err = fmt.Errorf("CXL.mem write data is %d bytes, expected %d", len(data), MemAccessUnit)
		return
	}

	pkt = M2SRwDPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLmem,
			PayloadLength: M2SRwDPacketSize,
		},
		Channel: M2SRwD,
		Opcode:  MemWr,
		Addr:    hpa >> 6,
	}
	copy(pkt.Data[:], data)
	return
}

// HostAddr recovers the host physical address from the Addr field.
func (pkt M2SRwDPacket) HostAddr() uint64 {
	return pkt.Addr << 6
}

func (pkt M2SRwDPacket) String() string {
	return fmt.Sprintf("M2SRwDPacket(%v, addr=%#x)", pkt.Opcode, pkt.Addr)
}

func (pkt M2SRwDPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}

	var fields = []interface{}{
		uint8(pkt.Channel),
		uint8(pkt.Opcode),
		pkt.Addr,
		pkt.Data,
	}

	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}

func (pkt *M2SRwDPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLmem {
		return fmt.Errorf("M2S RwD packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	var fields = []interface{}{
		(*uint8)(&pkt.Channel),
		(*uint8)(&pkt.Opcode),
		&pkt.Addr,
		&pkt.Data,
	}

	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}

// S2MNDRPacket is a CXL.mem completion without data, answering a write.
type S2MNDRPacket struct {
	SystemHeader SystemHeader
	Channel      MemChannel
	Opcode       MemOpcode
}

// NewS2MNDRPacket creates a no-data completion.
func NewS2MNDRPacket() S2MNDRPacket {
	return S2MNDRPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLmem,
			PayloadLength: S2MNDRPacketSize,
		},
		Channel: S2MNDR,
		Opcode:  MemCmp,
	}
}

func (pkt S2MNDRPacket) String() string {
	return fmt.Sprintf("S2MNDRPacket(%v)", pkt.Opcode)
}

func (pkt S2MNDRPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}

	var data = []byte{byte(pkt.Channel), byte(pkt.Opcode)}

	if n, err := w.Write(data); err != nil {
		return err
	} else if n != len(data) {
		return fmt.Errorf("S2M NDR: wrote %d octets instead of %d", n, len(data))
	}

	return nil
}

func (pkt *S2MNDRPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLmem {
		return fmt.Errorf("S2M NDR packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	var data = make([]byte, 2)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	pkt.Channel = MemChannel(data[0])
	pkt.Opcode = MemOpcode(data[1])

	return nil
}

// S2MDRSPacket is a CXL.mem completion carrying one access unit of data,
// answering a read.
type S2MDRSPacket struct {
	SystemHeader SystemHeader
	Channel      MemChannel
	Opcode       MemOpcode
	Data         [MemAccessUnit]byte
}

// NewS2MDRSPacket creates a data completion. data must hold exactly
// MemAccessUnit bytes.
func NewS2MDRSPacket(data []byte) (pkt S2MDRSPacket, err error) {
	if len(data) != MemAccessUnit {
		err = fmt.Errorf("CXL.mem completion data is %d bytes, expected %d", len(data), MemAccessUnit)
		return
	}

	pkt = S2MDRSPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLmem,
			PayloadLength: S2MDRSPacketSize,
		},
		Channel: S2MDRS,
		Opcode:  MemData,
	}
	copy(pkt.Data[:], data)
	return
}

func (pkt S2MDRSPacket) String() string {
	return fmt.Sprintf("S2MDRSPacket(%v)", pkt.Opcode)
}

func (pkt S2MDRSPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}

	var fields = []interface{}{
		uint8(pkt.Channel),
		uint8(pkt.Opcode),
		pkt.Data,
	}

	for _, field := range fields {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}

func (pkt *S2MDRSPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLmem {
		return fmt.Errorf("S2M DRS packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	var fields = []interface{}{
		(*uint8)(&pkt.Channel),
		(*uint8)(&pkt.Opcode),
		&pkt.Data,
	}

	for _, field := range fields {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	return nil
}
