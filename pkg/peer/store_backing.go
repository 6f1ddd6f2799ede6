package peer

import (
	"encoding/binary"
	"sync"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
	"github.com/opencxl/cxlsock/pkg/storage"
)

// StoreBacking serves a peer from a persistent storage.Store. MMIO
// accesses are read-modify-write cycles on the stored line, guarded by
// a mutex because the store itself has no such cycle.
type StoreBacking struct {
	mutex sync.Mutex

	store *storage.Store
}

func NewStoreBacking(store *storage.Store) *StoreBacking {
	return &StoreBacking{store: store}
}

func (sb *StoreBacking) ReadLine(addr uint64) ([cxlpkt.MemAccessUnit]byte, error) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	return sb.store.ReadLine(addr)
}

func (sb *StoreBacking) WriteLine(addr uint64, data [cxlpkt.MemAccessUnit]byte) error {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	return sb.store.WriteLine(addr, data)
}

func (sb *StoreBacking) ReadMMIO(addr uint64, size int) (uint64, error) {
	if err := checkMMIO(addr, size); err != nil {
		return 0, err
	}

	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	line, err := sb.store.ReadLine(addr)
	if err != nil {
		return 0, err
	}

	offset := addr & (cxlpkt.MemAccessUnit - 1)
	if size == 8 {
		return binary.LittleEndian.Uint64(line[offset : offset+8]), nil
	}
	return uint64(binary.LittleEndian.Uint32(line[offset : offset+4])), nil
}

func (sb *StoreBacking) WriteMMIO(addr uint64, size int, value uint64) error {
	if err := checkMMIO(addr, size); err != nil {
		return err
	}

	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	line, err := sb.store.ReadLine(addr)
	if err != nil {
		return err
	}

	offset := addr & (cxlpkt.MemAccessUnit - 1)
	if size == 8 {
		binary.LittleEndian.PutUint64(line[offset:offset+8], value)
	} else {
		binary.LittleEndian.PutUint32(line[offset:offset+4], uint32(value))
	}

	return sb.store.WriteLine(addr, line)
}

func (sb *StoreBacking) ReadConfig(bdf uint16, offset uint16) (uint32, error) {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	return sb.store.ReadRegister(bdf, offset)
}

func (sb *StoreBacking) WriteConfig(bdf uint16, offset uint16, value uint32) error {
	sb.mutex.Lock()
	defer sb.mutex.Unlock()

	return sb.store.WriteRegister(bdf, offset, value)
}
