package peer

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/opencxl/cxlsock/pkg/storage"
)

func setupStore(t *testing.T) (*storage.Store, string) {
	filePath, err := ioutil.TempFile("", "backing")
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(filePath.Name())

	store, err := storage.NewStore(filePath.Name())
	if err != nil {
		t.Fatal(err)
	}

	return store, filePath.Name()
}

func TestStoreBackingMMIO(t *testing.T) {
	store, dir := setupStore(t)
	defer os.RemoveAll(dir)
	defer store.Close()

	backing := NewStoreBacking(store)

	if err := backing.WriteMMIO(0x2010, 8, 0xDEADBEEFFEEDFACE); err != nil {
		t.Fatal(err)
	}

	if value, err := backing.ReadMMIO(0x2010, 8); err != nil {
		t.Fatal(err)
	} else if value != 0xDEADBEEFFEEDFACE {
		t.Fatalf("Read back %#x", value)
	}

	// The write went through the backing line, so a line read at the
	// same address sees the deposited bytes.
	line, err := backing.ReadLine(0x2010)
	if err != nil {
		t.Fatal(err)
	}
	if line[0x10] != 0xCE || line[0x17] != 0xDE {
		t.Fatalf("Line carries %x", line)
	}

	// A second MMIO write within the same line keeps the first one.
	if err := backing.WriteMMIO(0x2000, 4, 0x01020304); err != nil {
		t.Fatal(err)
	}
	if value, err := backing.ReadMMIO(0x2010, 8); err != nil {
		t.Fatal(err)
	} else if value != 0xDEADBEEFFEEDFACE {
		t.Fatalf("Read back %#x after a neighboring write", value)
	}

	if _, err := backing.ReadMMIO(0x2001, 4); err == nil {
		t.Fatal("Unaligned MMIO read did not fail")
	}
	if _, err := backing.ReadMMIO(0x2000, 3); err == nil {
		t.Fatal("MMIO read of 3 bytes did not fail")
	}
}
