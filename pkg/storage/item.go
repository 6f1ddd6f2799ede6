package storage

import (
	"fmt"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

// LineItem is one stored 64 byte memory line.
type LineItem struct {
	Id string `badgerhold:"key"`

	Addr uint64 `badgerholdIndex:"Addr"`
	Data []byte
}

// RegisterItem is one stored config space dword of one function's
// 4 KiB shadow, addressed by its bus/device/function identifier.
type RegisterItem struct {
	Id string `badgerhold:"key"`

	Bdf    uint16 `badgerholdIndex:"Bdf"`
	Offset uint16
	Value  uint32
}

func lineKey(addr uint64) string {
	return fmt.Sprintf("line-%014x", addr>>6)
}

func regKey(bdf uint16, offset uint16) string {
	return fmt.Sprintf("reg-%04x-%03x", bdf, offset)
}

func NewLineItem(addr uint64, data [cxlpkt.MemAccessUnit]byte) (li LineItem) {
	li = LineItem{
		Id: lineKey(addr),

		Addr: addr &^ uint64(cxlpkt.MemAccessUnit-1),
		Data: make([]byte, cxlpkt.MemAccessUnit),
	}
	copy(li.Data, data[:])

	return
}

func NewRegisterItem(bdf uint16, offset uint16, value uint32) RegisterItem {
	return RegisterItem{
		Id: regKey(bdf, offset),

		Bdf:    bdf,
		Offset: offset,
		Value:  value,
	}
}
