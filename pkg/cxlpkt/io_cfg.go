package cxlpkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// cfgReqHeaderSize is the serialized size of a CfgReqHeader.
const cfgReqHeaderSize = 9

// configSpaceSize bounds register offsets within a function's
// configuration space.
const configSpaceSize = 0x1000

// CfgReqHeader addresses a configuration space request. DestID carries
// the target's bus/device/function identifier in network byte order,
// RegNum holds bits [7:2] of the register offset and ExtRegNum holds
// bits [11:8]. FirstDwBE enables one bit per byte lane the access
// touches within the addressed dword.
type CfgReqHeader struct {
	ReqID     uint16
	Tag       uint8
	FirstDwBE uint8
	LastDwBE  uint8
	DestID    uint16
	ExtRegNum uint8
	RegNum    uint8
}

// newCfgReqHeader builds a CfgReqHeader for a bdf, a register offset and
// an access size. Accesses beyond the 4096-byte configuration space or
// crossing a dword boundary are rejected before any header exists.
func newCfgReqHeader(bdf uint16, cfgAddr uint32, size int, reqID uint16, tag uint8) (h CfgReqHeader, err error) {
	if cfgAddr >= configSpaceSize {
		err = fmt.Errorf("config offset %#x exceeds the configuration space", cfgAddr)
		return
	}

	offset := uint8(cfgAddr & 0x03)
	if int(offset)+size > 4 {
		err = fmt.Errorf("config access of %d bytes at offset %#x crosses a dword boundary", size, cfgAddr)
		return
	}

	var firstDwBE uint8
	for i := 0; i < size; i++ {
		firstDwBE |= 1 << offset
		offset++
	}

	h = CfgReqHeader{
		ReqID:     reqID,
		Tag:       tag,
		FirstDwBE: firstDwBE,
		LastDwBE:  0,
		DestID:    bdf,
		ExtRegNum: uint8(cfgAddr>>8) & 0x0F,
		RegNum:    uint8(cfgAddr>>2) & 0x3F,
	}
	return
}

// Offset reassembles the dword-aligned register offset.
func (h CfgReqHeader) Offset() uint32 {
	return uint32(h.ExtRegNum&0x0F)<<8 | uint32(h.RegNum&0x3F)<<2
}

func (h CfgReqHeader) Marshal(w io.Writer) error {
	var data = make([]byte, cfgReqHeaderSize)
	binary.BigEndian.PutUint16(data[0:2], h.ReqID)
	data[2] = h.Tag
	data[3] = h.FirstDwBE
	data[4] = h.LastDwBE
	binary.BigEndian.PutUint16(data[5:7], h.DestID)
	data[7] = h.ExtRegNum & 0x0F
	data[8] = h.RegNum & 0x3F

	if n, err := w.Write(data); err != nil {
		return err
	} else if n != len(data) {
		return fmt.Errorf("CfgReqHeader: wrote %d octets instead of %d", n, len(data))
	}

	return nil
}

func (h *CfgReqHeader) Unmarshal(r io.Reader) error {
	var data = make([]byte, cfgReqHeaderSize)

	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	h.ReqID = binary.BigEndian.Uint16(data[0:2])
	h.Tag = data[2]
	h.FirstDwBE = data[3]
	h.LastDwBE = data[4]
	h.DestID = binary.BigEndian.Uint16(data[5:7])
	h.ExtRegNum = data[7] & 0x0F
	h.RegNum = data[8] & 0x3F

	return nil
}

const (
	// CfgReadPacketSize is the serialized size of a CfgReadPacket.
	CfgReadPacketSize = SystemHeaderSize + ioHeaderSize + cfgReqHeaderSize

	// CfgWritePacketSize is the serialized size of a CfgWritePacket.
	CfgWritePacketSize = CfgReadPacketSize + 4
)

// CfgReadPacket is a CXL.io configuration space read.
type CfgReadPacket struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	CfgReqHeader CfgReqHeader
}

// NewCfgReadPacket creates a configuration read of size bytes at a
// register offset of the function addressed by bdf. type0 selects a
// type 0 request, otherwise type 1.
func NewCfgReadPacket(bdf uint16, cfgAddr uint32, size int, type0 bool, tag uint8) (pkt CfgReadPacket, err error) {
	fmtType := CfgRd1
	if type0 {
		fmtType = CfgRd0
	}

	cfgReq, err := newCfgReqHeader(bdf, cfgAddr, size, 0, tag)
	if err != nil {
		return
	}

	pkt = CfgReadPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLio,
			PayloadLength: CfgReadPacketSize,
		},
		// Configuration requests always transfer a single dword.
		IoHeader:     newIoHeader(fmtType, 1),
		CfgReqHeader: cfgReq,
	}
	return
}

func (pkt CfgReadPacket) String() string {
	return fmt.Sprintf("CfgReadPacket(%v, bdf=%#x, offset=%#x)",
		pkt.IoHeader.FmtType, pkt.CfgReqHeader.DestID, pkt.CfgReqHeader.Offset())
}

func (pkt CfgReadPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	return pkt.CfgReqHeader.Marshal(w)
}

func (pkt *CfgReadPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("config read packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	return pkt.CfgReqHeader.Unmarshal(r)
}

// CfgWritePacket is a CXL.io configuration space write carrying one dword.
type CfgWritePacket struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	CfgReqHeader CfgReqHeader
	Value        uint32
}

// NewCfgWritePacket creates a configuration write of size bytes at a
// register offset of the function addressed by bdf.
func NewCfgWritePacket(bdf uint16, cfgAddr uint32, val uint32, size int, type0 bool, tag uint8) (pkt CfgWritePacket, err error) {
	fmtType := CfgWr1
	if type0 {
		fmtType = CfgWr0
	}

	cfgReq, err := newCfgReqHeader(bdf, cfgAddr, size, 0, tag)
	if err != nil {
		return
	}

	pkt = CfgWritePacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLio,
			PayloadLength: CfgWritePacketSize,
		},
		IoHeader:     newIoHeader(fmtType, 1),
		CfgReqHeader: cfgReq,
		Value:        val,
	}
	return
}

func (pkt CfgWritePacket) String() string {
	return fmt.Sprintf("CfgWritePacket(%v, bdf=%#x, offset=%#x, value=%#x)",
		pkt.IoHeader.FmtType, pkt.CfgReqHeader.DestID, pkt.CfgReqHeader.Offset(), pkt.Value)
}

func (pkt CfgWritePacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.CfgReqHeader.Marshal(w); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, pkt.Value)
}

func (pkt *CfgWritePacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("config write packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	if err := pkt.CfgReqHeader.Unmarshal(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &pkt.Value)
}
