// Package peer implements the responder side of the transaction
// transport: a memory device serving CXL.mem line accesses, MMIO reads
// and writes and configuration space requests arriving over a socket.
package peer

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

// Backing is the memory a peer serves. CXL.mem traffic moves whole
// access units, MMIO traffic 4 or 8 naturally aligned bytes within a
// unit and config space traffic single dwords.
type Backing interface {
	ReadLine(addr uint64) ([cxlpkt.MemAccessUnit]byte, error)
	WriteLine(addr uint64, data [cxlpkt.MemAccessUnit]byte) error

	ReadMMIO(addr uint64, size int) (uint64, error)
	WriteMMIO(addr uint64, size int, value uint64) error

	ReadConfig(bdf uint16, offset uint16) (uint32, error)
	WriteConfig(bdf uint16, offset uint16, value uint32) error
}

// checkMMIO rejects MMIO accesses that are neither 4 nor 8 bytes wide
// or not naturally aligned. Aligned accesses never cross a line.
func checkMMIO(addr uint64, size int) error {
	if size != 4 && size != 8 {
		return fmt.Errorf("MMIO access of %d bytes is not supported", size)
	}
	if addr%uint64(size) != 0 {
		return fmt.Errorf("MMIO access at %#x is not aligned to %d bytes", addr, size)
	}
	return nil
}

// MapBacking is an in-memory Backing, keeping written lines and config
// registers in maps. It is safe for concurrent use.
type MapBacking struct {
	mutex sync.Mutex

	lines map[uint64][cxlpkt.MemAccessUnit]byte
	regs  map[uint32]uint32
}

func NewMapBacking() *MapBacking {
	return &MapBacking{
		lines: make(map[uint64][cxlpkt.MemAccessUnit]byte),
		regs:  make(map[uint32]uint32),
	}
}

// regKey folds a function's bdf and a register offset into one map key,
// giving each function its own config shadow.
func regKey(bdf uint16, offset uint16) uint32 {
	return uint32(bdf)<<16 | uint32(offset)
}

func (mb *MapBacking) ReadLine(addr uint64) ([cxlpkt.MemAccessUnit]byte, error) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	return mb.lines[addr>>6], nil
}

func (mb *MapBacking) WriteLine(addr uint64, data [cxlpkt.MemAccessUnit]byte) error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	mb.lines[addr>>6] = data
	return nil
}

func (mb *MapBacking) ReadMMIO(addr uint64, size int) (uint64, error) {
	if err := checkMMIO(addr, size); err != nil {
		return 0, err
	}

	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	line := mb.lines[addr>>6]
	offset := addr & (cxlpkt.MemAccessUnit - 1)

	if size == 8 {
		return binary.LittleEndian.Uint64(line[offset : offset+8]), nil
	}
	return uint64(binary.LittleEndian.Uint32(line[offset : offset+4])), nil
}

func (mb *MapBacking) WriteMMIO(addr uint64, size int, value uint64) error {
	if err := checkMMIO(addr, size); err != nil {
		return err
	}

	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	line := mb.lines[addr>>6]
	offset := addr & (cxlpkt.MemAccessUnit - 1)

	if size == 8 {
		binary.LittleEndian.PutUint64(line[offset:offset+8], value)
	} else {
		binary.LittleEndian.PutUint32(line[offset:offset+4], uint32(value))
	}

	mb.lines[addr>>6] = line
	return nil
}

func (mb *MapBacking) ReadConfig(bdf uint16, offset uint16) (uint32, error) {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	return mb.regs[regKey(bdf, offset)], nil
}

func (mb *MapBacking) WriteConfig(bdf uint16, offset uint16, value uint32) error {
	mb.mutex.Lock()
	defer mb.mutex.Unlock()

	mb.regs[regKey(bdf, offset)] = value
	return nil
}
