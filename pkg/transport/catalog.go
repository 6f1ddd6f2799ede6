package transport

import (
	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

// TagCount is the size of the tag space. A tag is a small integer
// correlating an outstanding request with its eventual response.
const TagCount = 512

// Entry is one tag's slot in a Catalog: a raw packet buffer and its
// byte length. A length of zero means the slot is empty and available.
type Entry struct {
	packet [cxlpkt.MaxPacketSize]byte
	size   int
}

// Empty reports whether no un-retrieved packet occupies this Entry.
func (e *Entry) Empty() bool {
	return e.size == 0
}

// Size returns the stored packet's byte length, zero if empty.
func (e *Entry) Size() int {
	return e.size
}

// Bytes returns the stored packet. The slice aliases the Entry's buffer
// and is only valid until the tag is released.
func (e *Entry) Bytes() []byte {
	return e.packet[:e.size]
}

// Catalog is the fixed-capacity table of pending received packets,
// keyed by tag. Each Connection owns its own Catalog, so independent
// connections never share correlation state.
//
// The Catalog performs no locking itself; it inherits the owning
// Connection's one-transaction-at-a-time discipline.
type Catalog struct {
	entries [TagCount]Entry
}

// Get returns the Entry for a tag, or false if the tag is outside the
// valid range. Get never allocates.
func (c *Catalog) Get(tag uint16) (*Entry, bool) {
	if tag >= TagCount {
		return nil, false
	}

	return &c.entries[tag], true
}

// Store deposits a received packet into a tag's slot. The slot must be
// empty: two un-consumed responses for the same tag mean the request/
// response correlation discipline itself has broken, which is reported
// as ErrDesync rather than silently overwriting.
func (c *Catalog) Store(tag uint16, packet []byte) error {
	if tag >= TagCount {
		return desyncf("tag %d is outside the tag space", tag)
	}
	if len(packet) == 0 || len(packet) > cxlpkt.MaxPacketSize {
		return desyncf("packet of %d bytes does not fit a catalog entry", len(packet))
	}

	entry := &c.entries[tag]
	if !entry.Empty() {
		return desyncf("tag %d already holds an un-consumed packet of %d bytes", tag, entry.size)
	}

	copy(entry.packet[:], packet)
	entry.size = len(packet)
	return nil
}

// Release marks a tag's slot empty again, permitting reuse. It returns
// false if the tag is outside the valid range.
func (c *Catalog) Release(tag uint16) bool {
	if tag >= TagCount {
		return false
	}

	c.entries[tag].size = 0
	return true
}
