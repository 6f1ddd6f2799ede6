// Package remote gives a requester a device-model view of a remote
// memory device: CXL.mem line accesses, MMIO reads and writes and
// configuration space operations running over one transaction
// connection. A Port serializes whole transactions, so it is safe for
// concurrent use even though the connection underneath is not.
package remote

import (
	"fmt"
	"sync"
	"time"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
	"github.com/opencxl/cxlsock/pkg/transport"
)

// Poison is the all-ones value substituted for the data of reads the
// peer completed as unsupported.
const Poison uint32 = 0xFFFFFFFF

// Port is the requester's handle on one remote memory device.
type Port struct {
	mutex sync.Mutex

	conn *transport.Connection
}

// NewPort wraps an established transport Connection into a Port.
func NewPort(conn *transport.Connection) *Port {
	return &Port{conn: conn}
}

// DialPort connects to a peer's TCP listen address and performs the
// sideband handshake announcing the given port number.
func DialPort(host string, tcpPort int, portNumber uint32, timeout time.Duration) (*Port, error) {
	conn, err := transport.Dial(host, tcpPort, timeout)
	if err != nil {
		return nil, err
	}

	p := NewPort(conn)
	if err := p.Connect(portNumber); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return p, nil
}

// Connect announces a port number to the peer and waits for its
// acknowledgement. No transaction may run before the peer accepted.
func (p *Port) Connect(portNumber uint32) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tag, err := p.conn.SendSidebandConnectionRequest(portNumber)
	if err != nil {
		return err
	}
	defer p.conn.ReleaseTag(tag)

	_, err = p.conn.WaitForSidebandAccept(tag)
	return err
}

// Close closes the underlying connection.
func (p *Port) Close() error {
	return p.conn.Close()
}

// MemRead fetches one access unit at a host physical address over
// CXL.mem.
func (p *Port) MemRead(hpa uint64) ([cxlpkt.MemAccessUnit]byte, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var data [cxlpkt.MemAccessUnit]byte

	tag, err := p.conn.SendMemRead(hpa)
	if err != nil {
		return data, err
	}
	defer p.conn.ReleaseTag(tag)

	drs, err := p.conn.WaitForMemData(tag)
	if err != nil {
		return data, err
	}

	return drs.Data, nil
}

// MemWrite stores one access unit at a host physical address over
// CXL.mem. data must hold exactly cxlpkt.MemAccessUnit bytes.
func (p *Port) MemWrite(hpa uint64, data []byte) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tag, err := p.conn.SendMemWrite(hpa, data)
	if err != nil {
		return err
	}
	defer p.conn.ReleaseTag(tag)

	_, err = p.conn.WaitForMemCompletion(tag)
	return err
}

// MMIORead reads 4 or 8 bytes at a host physical address over CXL.io.
// A read the peer completed as unsupported yields all ones over the
// requested width.
func (p *Port) MMIORead(hpa uint64, size int) (uint64, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tag, err := p.conn.SendIoMemRead(hpa, size)
	if err != nil {
		return 0, err
	}
	defer p.conn.ReleaseTag(tag)

	value, width, err := p.conn.WaitForIoCompletionData(tag)
	if err != nil {
		return 0, err
	}

	switch {
	case width == 0:
		return poisonValue(size), nil
	case width != size:
		return 0, fmt.Errorf("MMIO read of %d bytes was completed with %d bytes", size, width)
	default:
		return value, nil
	}
}

// MMIOWrite writes 4 or 8 bytes at a host physical address over CXL.io.
func (p *Port) MMIOWrite(hpa uint64, size int, value uint64) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tag, err := p.conn.SendIoMemWrite(hpa, value, size)
	if err != nil {
		return err
	}
	defer p.conn.ReleaseTag(tag)

	cpl, err := p.conn.WaitForIoCompletion(tag)
	if err != nil {
		return err
	}
	if cpl.CplHeader.Status != cxlpkt.CplSuccess {
		return fmt.Errorf("MMIO write was completed with status %v", cpl.CplHeader.Status)
	}

	return nil
}

// ConfigRead reads size bytes at a register offset of the function
// addressed by bdf. The peer answers with the whole dword; the
// requested bytes are extracted from their lanes. An unsupported read
// yields all ones over the requested width.
func (p *Port) ConfigRead(bdf uint16, offset uint32, size int, type0 bool) (uint32, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tag, err := p.conn.SendCfgRead(bdf, offset, size, type0)
	if err != nil {
		return 0, err
	}
	defer p.conn.ReleaseTag(tag)

	dword, err := p.conn.WaitForCfgCompletion(tag, true)
	if err != nil {
		return 0, err
	}

	return extractLanes(dword, offset, size), nil
}

// ConfigWrite writes size bytes at a register offset of the function
// addressed by bdf. The value is positioned into the byte lanes the
// offset selects.
func (p *Port) ConfigWrite(bdf uint16, offset uint32, value uint32, size int, type0 bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	tag, err := p.conn.SendCfgWrite(bdf, offset, depositLanes(value, offset, size), size, type0)
	if err != nil {
		return err
	}
	defer p.conn.ReleaseTag(tag)

	cpl, err := p.conn.WaitForIoCompletion(tag)
	if err != nil {
		return err
	}
	if cpl.CplHeader.Status != cxlpkt.CplSuccess {
		return fmt.Errorf("config write was completed with status %v", cpl.CplHeader.Status)
	}

	return nil
}

// poisonValue widens Poison to the access size.
func poisonValue(size int) uint64 {
	if size == 8 {
		return 0xFFFFFFFFFFFFFFFF
	}
	return uint64(Poison)
}

// extractLanes pulls size bytes starting at the offset's lane out of a
// completion dword.
func extractLanes(dword uint32, offset uint32, size int) uint32 {
	shifted := dword >> (8 * (offset & 0x03))
	if size >= 4 {
		return shifted
	}
	return shifted & (1<<(8*size) - 1)
}

// depositLanes positions size bytes of value into the byte lanes the
// offset selects within its dword.
func depositLanes(value uint32, offset uint32, size int) uint32 {
	if size < 4 {
		value &= 1<<(8*size) - 1
	}
	return value << (8 * (offset & 0x03))
}
