package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
)

func TestCatalogStoreReleaseCycle(t *testing.T) {
	var catalog Catalog

	entry, ok := catalog.Get(42)
	if !ok {
		t.Fatal("Get on a valid tag failed")
	}
	if !entry.Empty() {
		t.Fatal("Fresh entry is not empty")
	}

	packet := []byte{0x00, 0x00, 0x05, 0x00, 0x01}
	if err := catalog.Store(42, packet); err != nil {
		t.Fatal(err)
	}

	entry, _ = catalog.Get(42)
	if entry.Size() != len(packet) {
		t.Fatalf("Entry size is %d instead of %d", entry.Size(), len(packet))
	}
	if !bytes.Equal(entry.Bytes(), packet) {
		t.Fatalf("Entry bytes differ: %x, %x", entry.Bytes(), packet)
	}

	if !catalog.Release(42) {
		t.Fatal("Release on a valid tag failed")
	}

	entry, _ = catalog.Get(42)
	if !entry.Empty() {
		t.Fatal("Released entry is not empty")
	}
}

func TestCatalogStoreOccupied(t *testing.T) {
	var catalog Catalog

	packet := []byte{0x00, 0x00, 0x05, 0x00, 0x01}
	if err := catalog.Store(0, packet); err != nil {
		t.Fatal(err)
	}

	// A second store without an intervening release must never silently
	// overwrite.
	err := catalog.Store(0, packet)
	if err == nil {
		t.Fatal("Store into an occupied slot did not fail")
	}
	if !errors.Is(err, ErrDesync) {
		t.Fatalf("Error is %v, not ErrDesync", err)
	}

	// The first packet stays untouched.
	entry, _ := catalog.Get(0)
	if !bytes.Equal(entry.Bytes(), packet) {
		t.Fatalf("Entry bytes differ after the failed store: %x", entry.Bytes())
	}
}

func TestCatalogTagRange(t *testing.T) {
	var catalog Catalog

	if _, ok := catalog.Get(TagCount); ok {
		t.Fatal("Get on an out-of-range tag succeeded")
	}
	if catalog.Release(TagCount) {
		t.Fatal("Release on an out-of-range tag succeeded")
	}
	if err := catalog.Store(TagCount, []byte{0x01}); err == nil {
		t.Fatal("Store on an out-of-range tag succeeded")
	}
}

func TestCatalogStoreBounds(t *testing.T) {
	var catalog Catalog

	if err := catalog.Store(0, nil); err == nil {
		t.Fatal("Storing an empty packet succeeded")
	}
	if err := catalog.Store(0, make([]byte, cxlpkt.MaxPacketSize+1)); err == nil {
		t.Fatal("Storing an oversized packet succeeded")
	}
}
