package cxlpkt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// PayloadType discriminates the protocol a packet belongs to. It is the
// first field of every packet's system header.
type PayloadType uint16

const (
	// Sideband packets establish logical connections before any
	// transaction traffic flows.
	Sideband PayloadType = 0x00

	// CXLio packets carry configuration and memory-mapped I/O
	// transactions, resembling PCI Express TLPs.
	CXLio PayloadType = 0x01

	// CXLmem packets carry memory read/write/completion transactions.
	CXLmem PayloadType = 0x02
)

func (pt PayloadType) String() string {
	switch pt {
	case Sideband:
		return "SIDEBAND"
	case CXLio:
		return "CXL.io"
	case CXLmem:
		return "CXL.mem"
	default:
		return fmt.Sprintf("unknown payload type %d", uint16(pt))
	}
}

const (
	// SystemHeaderSize is the serialized size of a SystemHeader.
	SystemHeaderSize = 4

	// MaxPacketSize bounds every packet, system header included. The
	// framing reader rejects any announced length above this.
	MaxPacketSize = 512

	// MemAccessUnit is the CXL.mem access granularity in bytes. Every
	// M2S RwD and S2M DRS packet carries exactly one such unit.
	MemAccessUnit = 64
)

// SystemHeader is the mandatory prefix of every packet. PayloadLength
// announces the total packet size in bytes, the header itself included,
// so a receiver knows how many more bytes to wait for.
type SystemHeader struct {
	PayloadType   PayloadType
	PayloadLength uint16
}

func (sh SystemHeader) String() string {
	return fmt.Sprintf("SystemHeader(%v, length=%d)", sh.PayloadType, sh.PayloadLength)
}

func (sh SystemHeader) Marshal(w io.Writer) error {
	var data = make([]byte, SystemHeaderSize)
	binary.LittleEndian.PutUint16(data[0:2], uint16(sh.PayloadType))
	binary.LittleEndian.PutUint16(data[2:4], sh.PayloadLength)

	if n, err := w.Write(data); err != nil {
		return err
	} else if n != len(data) {
		return fmt.Errorf("SystemHeader: wrote %d octets instead of %d", n, len(data))
	}

	return nil
}

func (sh *SystemHeader) Unmarshal(r io.Reader) error {
	var data = make([]byte, SystemHeaderSize)

	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}

	sh.PayloadType = PayloadType(binary.LittleEndian.Uint16(data[0:2]))
	sh.PayloadLength = binary.LittleEndian.Uint16(data[2:4])

	switch sh.PayloadType {
	case Sideband, CXLio, CXLmem:
	default:
		return fmt.Errorf("SystemHeader's payload type is unknown: %d", uint16(sh.PayloadType))
	}

	return nil
}

// DecodeSystemHeader parses a SystemHeader from the front of a raw
// buffer without consuming it.
func DecodeSystemHeader(data []byte) (sh SystemHeader, err error) {
	if len(data) < SystemHeaderSize {
		err = fmt.Errorf("buffer of %d bytes is shorter than a system header", len(data))
		return
	}

	err = sh.Unmarshal(bytes.NewReader(data[:SystemHeaderSize]))
	return
}
