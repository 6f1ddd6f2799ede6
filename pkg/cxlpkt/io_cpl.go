package cxlpkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CplStatus is the completion status of a CXL.io completion.
type CplStatus uint8

const (
	// CplSuccess indicates a successful completion.
	CplSuccess CplStatus = 0x00

	// CplUnsupported indicates an unsupported request; the requester
	// substitutes the all-ones poison value for the data.
	CplUnsupported CplStatus = 0x01
)

func (cs CplStatus) String() string {
	switch cs {
	case CplSuccess:
		return "SC"
	case CplUnsupported:
		return "UR"
	default:
		return fmt.Sprintf("unknown completion status %d", uint8(cs))
	}
}

// cplHeaderSize is the serialized size of a CplHeader.
const cplHeaderSize = 8

// CplHeader carries the completer and requester identification of a
// CXL.io completion, mirroring the PCI Express completion TLP fields.
type CplHeader struct {
	CplID     uint16
	Status    CplStatus
	ByteCount uint8
	ReqID     uint16
	Tag       uint8
	LowerAddr uint8
}

func (h CplHeader) Marshal(w io.Writer) error {
	var data = make([]byte, cplHeaderSize)
	binary.BigEndian.PutUint16(data[0:2], h.CplID)
	data[2] = uint8(h.Status) & 0x07
	data[3] = h.ByteCount
	binary.BigEndian.PutUint16(data[4:6], h.ReqID)
	data[6] = h.Tag
	data[7] = h.LowerAddr & 0x7F

	if n, err := w.Write(data); err != nil {
		return err
	} else if n != len(data) {
		return fmt.Errorf("CplHeader: wrote %d octets instead of %d", n, len(data))
	}

	return nil
}

func (h *CplHeader) Unmarshal(r io.Reader) error {
	var data = make([]byte, cplHeaderSize)

	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	h.CplID = binary.BigEndian.Uint16(data[0:2])
	h.Status = CplStatus(data[2] & 0x07)
	h.ByteCount = data[3]
	h.ReqID = binary.BigEndian.Uint16(data[4:6])
	h.Tag = data[6]
	h.LowerAddr = data[7] & 0x7F

	return nil
}

const (
	// CplPacketSize is the serialized size of a CplPacket.
	CplPacketSize = SystemHeaderSize + ioHeaderSize + cplHeaderSize

	// CplDataPacket32Size is the serialized size of a CplDataPacket32.
	CplDataPacket32Size = CplPacketSize + 4

	// CplDataPacket64Size is the serialized size of a CplDataPacket64.
	CplDataPacket64Size = CplPacketSize + 8
)

// CplPacket is a CXL.io completion without data. It answers writes and,
// with a non-successful status, reads whose data could not be supplied.
type CplPacket struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	CplHeader    CplHeader
}

// NewCplPacket creates a completion without data for a tag.
func NewCplPacket(status CplStatus, tag uint8) CplPacket {
	return CplPacket{
		SystemHeader: SystemHeader{
			PayloadType:   CXLio,
			PayloadLength: CplPacketSize,
		},
		IoHeader: newIoHeader(Cpl, 0),
		CplHeader: CplHeader{
			Status: status,
			Tag:    tag,
		},
	}
}

func (pkt CplPacket) String() string {
	return fmt.Sprintf("CplPacket(%v, tag=%d)", pkt.CplHeader.Status, pkt.CplHeader.Tag)
}

func (pkt CplPacket) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	return pkt.CplHeader.Marshal(w)
}

func (pkt *CplPacket) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("completion packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	return pkt.CplHeader.Unmarshal(r)
}

// CplDataPacket32 is a CXL.io completion carrying 4 bytes of data.
type CplDataPacket32 struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	CplHeader    CplHeader
	Data         uint32
}

// NewCplDataPacket32 creates a completion with one dword of data.
func NewCplDataPacket32(data uint32, tag uint8) CplDataPacket32 {
	return CplDataPacket32{
		SystemHeader: SystemHeader{
			PayloadType:   CXLio,
			PayloadLength: CplDataPacket32Size,
		},
		IoHeader: newIoHeader(CplD, 1),
		CplHeader: CplHeader{
			Status:    CplSuccess,
			ByteCount: 4,
			Tag:       tag,
		},
		Data: data,
	}
}

func (pkt CplDataPacket32) String() string {
	return fmt.Sprintf("CplDataPacket32(%v, tag=%d, data=%#x)", pkt.CplHeader.Status, pkt.CplHeader.Tag, pkt.Data)
}

func (pkt CplDataPacket32) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.CplHeader.Marshal(w); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, pkt.Data)
}

func (pkt *CplDataPacket32) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("completion packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	if err := pkt.CplHeader.Unmarshal(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &pkt.Data)
}

// CplDataPacket64 is a CXL.io completion carrying 8 bytes of data.
type CplDataPacket64 struct {
	SystemHeader SystemHeader
	IoHeader     IoHeader
	CplHeader    CplHeader
	Data         uint64
}

// NewCplDataPacket64 creates a completion with two dwords of data.
func NewCplDataPacket64(data uint64, tag uint8) CplDataPacket64 {
	return CplDataPacket64{
		SystemHeader: SystemHeader{
			PayloadType:   CXLio,
			PayloadLength: CplDataPacket64Size,
		},
		IoHeader: newIoHeader(CplD, 2),
		CplHeader: CplHeader{
			Status:    CplSuccess,
			ByteCount: 8,
			Tag:       tag,
		},
		Data: data,
	}
}

func (pkt CplDataPacket64) String() string {
	return fmt.Sprintf("CplDataPacket64(%v, tag=%d, data=%#x)", pkt.CplHeader.Status, pkt.CplHeader.Tag, pkt.Data)
}

func (pkt CplDataPacket64) Marshal(w io.Writer) error {
	if err := pkt.SystemHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.IoHeader.Marshal(w); err != nil {
		return err
	}
	if err := pkt.CplHeader.Marshal(w); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, pkt.Data)
}

func (pkt *CplDataPacket64) Unmarshal(r io.Reader) error {
	if err := pkt.SystemHeader.Unmarshal(r); err != nil {
		return err
	} else if pkt.SystemHeader.PayloadType != CXLio {
		return fmt.Errorf("completion packet's payload type is wrong: %v", pkt.SystemHeader.PayloadType)
	}

	if err := pkt.IoHeader.Unmarshal(r); err != nil {
		return err
	}
	if err := pkt.CplHeader.Unmarshal(r); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &pkt.Data)
}
