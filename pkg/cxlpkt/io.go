package cxlpkt

import (
	"encoding/binary"
	"fmt"
	"io"
)

// IoFmtType discriminates CXL.io packets, using the PCI Express TLP
// fmt/type encodings.
type IoFmtType uint8

const (
	// MRd32 is a memory read with a 32-bit aligned access.
	MRd32 IoFmtType = 0x00

	// MRd64 is a memory read with a 64-bit aligned access.
	MRd64 IoFmtType = 0x20

	// MWr32 is a memory write carrying 4 bytes of data.
	MWr32 IoFmtType = 0x40

	// MWr64 is a memory write carrying 8 bytes of data.
	MWr64 IoFmtType = 0x60

	// CfgRd0 is a type 0 configuration read.
	CfgRd0 IoFmtType = 0x04

	// CfgRd1 is a type 1 configuration read.
	CfgRd1 IoFmtType = 0x05

	// CfgWr0 is a type 0 configuration write.
	CfgWr0 IoFmtType = 0x44

	// CfgWr1 is a type 1 configuration write.
	CfgWr1 IoFmtType = 0x45

	// Cpl is a completion without data.
	Cpl IoFmtType = 0x0A

	// CplD is a completion with data.
	CplD IoFmtType = 0x4A
)

func (ft IoFmtType) String() string {
	switch ft {
	case MRd32:
		return "MRD_32B"
	case MRd64:
		return "MRD_64B"
	case MWr32:
		return "MWR_32B"
	case MWr64:
		return "MWR_64B"
	case CfgRd0:
		return "CFG_RD0"
	case CfgRd1:
		return "CFG_RD1"
	case CfgWr0:
		return "CFG_WR0"
	case CfgWr1:
		return "CFG_WR1"
	case Cpl:
		return "CPL"
	case CplD:
		return "CPLD"
	default:
		return fmt.Sprintf("unknown CXL.io fmt/type %#x", uint8(ft))
	}
}

// ioHeaderSize is the serialized size of an IoHeader.
const ioHeaderSize = 4

// IoHeader is the common header of every CXL.io packet, following the
// system header. The 10-bit dword count is split over two bytes:
//
//     0               1               2               3
//   +---------------+---------------+-------------+-+---------------+
//   |   Fmt/Type    |   (reserved)  |  (reserved) |L|  Length[7:0]  |
//   +---------------+---------------+-------------+-+---------------+
//
// where L holds Length[9:8].
type IoHeader struct {
	FmtType     IoFmtType
	LengthUpper uint8
	LengthLower uint8
}

// newIoHeader builds an IoHeader for a fmt/type and a dword count,
// splitting the count into its upper two and lower eight bits.
func newIoHeader(fmtType IoFmtType, dwords uint16) IoHeader {
	return IoHeader{
		FmtType:     fmtType,
		LengthUpper: uint8(dwords >> 8 & 0x03),
		LengthLower: uint8(dwords & 0xFF),
	}
}

// Dwords reassembles the 10-bit dword count.
func (ih IoHeader) Dwords() uint16 {
	return uint16(ih.LengthUpper&0x03)<<8 | uint16(ih.LengthLower)
}

func (ih IoHeader) String() string {
	return fmt.Sprintf("IoHeader(%v, dwords=%d)", ih.FmtType, ih.Dwords())
}

func (ih IoHeader) Marshal(w io.Writer) error {
	var data = []byte{byte(ih.FmtType), 0x00, ih.LengthUpper & 0x03, ih.LengthLower}

	if n, err := w.Write(data); err != nil {
		return err
	} else if n != len(data) {
		return fmt.Errorf("IoHeader: wrote %d octets instead of %d", n, len(data))
	}

	return nil
}

func (ih *IoHeader) Unmarshal(r io.Reader) error {
	var data = make([]byte, ioHeaderSize)

	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	ih.FmtType = IoFmtType(data[0])
	ih.LengthUpper = data[2] & 0x03
	ih.LengthLower = data[3]

	return nil
}

// mreqHeaderSize is the serialized size of a MReqHeader.
const mreqHeaderSize = 11

// MReqHeader addresses a CXL.io memory request. The 64-bit host address
// is converted to network byte order first; its upper 56 bits occupy
// AddrUpper and bits [7:2] occupy AddrLower, the two least significant
// bits being dword padding:
//
//     0               1               2
//   +---------------+---------------+---------------+
//   |         Requester ID (BE)     |      Tag      |
//   +---------------+---------------+---------------+
//   |            Address[63:8] (BE, 7 bytes)        |
//   +---------------+-----------+---+---------------+
//   |  Address[7:2]             |0 0|
//   +---------------+-----------+---+
type MReqHeader struct {
	ReqID     uint16
	Tag       uint8
	AddrUpper [7]byte
	AddrLower uint8
}

// newMReqHeader builds a MReqHeader for a requester id, a tag and a
// host physical address.
func newMReqHeader(reqID uint16, tag uint8, addr uint64) (h MReqHeader) {
	h.ReqID = reqID
	h.Tag = tag

	var be [8]byte
	binary.BigEndian.PutUint64(be[:], addr)
	copy(h.AddrUpper[:], be[:7])

	h.AddrLower = uint8(addr&0xFF) >> 2
	return
}

// Addr reassembles the host physical address from its split fields.
func (h MReqHeader) Addr() uint64 {
	var be [8]byte
	copy(be[:7], h.AddrUpper[:])
	be[7] = h.AddrLower << 2

	return binary.BigEndian.Uint64(be[:])
}

func (h MReqHeader) Marshal(w io.Writer) error {
	var data = make([]byte, mreqHeaderSize)
	binary.BigEndian.PutUint16(data[0:2], h.ReqID)
	data[2] = h.Tag
	copy(data[3:10], h.AddrUpper[:])
	data[10] = h.AddrLower

	if n, err := w.Write(data); err != nil {
		return err
	} else if n != len(data) {
		return fmt.Errorf("MReqHeader: wrote %d octets instead of %d", n, len(data))
	}

	return nil
}

func (h *MReqHeader) Unmarshal(r io.Reader) error {
	var data = make([]byte, mreqHeaderSize)

	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	h.ReqID = binary.BigEndian.Uint16(data[0:2])
	h.Tag = data[2]
	copy(h.AddrUpper[:], data[3:10])
	h.AddrLower = data[10]

	return nil
}

// roundUpToDword rounds a byte count up to the next multiple of four.
func roundUpToDword(n uint32) uint32 {
	const dwordSize = 4
	return (n + dwordSize - 1) &^ (dwordSize - 1)
}
