package remote

import (
	"bytes"
	"fmt"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opencxl/cxlsock/pkg/cxlpkt"
	"github.com/opencxl/cxlsock/pkg/peer"
	"github.com/opencxl/cxlsock/pkg/transport"
)

func getRandomPort(t *testing.T) int {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		t.Error(err)
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}

	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

func startServer(t *testing.T) (*peer.Server, int) {
	port := getRandomPort(t)

	serv := peer.NewServer(fmt.Sprintf(":%d", port), peer.NewMapBacking())
	if err, _ := serv.Start(); err != nil {
		t.Fatal(err)
	}

	return serv, port
}

func TestPortMemRoundtrip(t *testing.T) {
	serv, tcpPort := startServer(t)
	defer serv.Close()

	port, err := DialPort("localhost", tcpPort, 4000, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer port.Close()

	line := make([]byte, cxlpkt.MemAccessUnit)
	copy(line, "memory line over tcp")

	if err := port.MemWrite(0x4040, line); err != nil {
		t.Fatal(err)
	}

	data, err := port.MemRead(0x4040)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:], line) {
		t.Fatalf("Read back %x instead of %x", data, line)
	}

	// A line never written reads as zeroes.
	if data, err := port.MemRead(0x9000); err != nil {
		t.Fatal(err)
	} else if data != [cxlpkt.MemAccessUnit]byte{} {
		t.Fatalf("Expected zeroes, got %x", data)
	}
}

func TestPortMMIO(t *testing.T) {
	serv, tcpPort := startServer(t)
	defer serv.Close()

	port, err := DialPort("localhost", tcpPort, 4000, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer port.Close()

	if err := port.MMIOWrite(0x100, 8, 0x0102030405060708); err != nil {
		t.Fatal(err)
	}

	if value, err := port.MMIORead(0x100, 8); err != nil {
		t.Fatal(err)
	} else if value != 0x0102030405060708 {
		t.Fatalf("Read back %#x", value)
	}

	if value, err := port.MMIORead(0x104, 4); err != nil {
		t.Fatal(err)
	} else if value != 0x01020304 {
		t.Fatalf("Read back %#x", value)
	}

	// The peer completes an unaligned read as unsupported; the Port
	// substitutes all ones over the requested width.
	if value, err := port.MMIORead(0x102, 4); err != nil {
		t.Fatal(err)
	} else if value != uint64(Poison) {
		t.Fatalf("Expected the poison value, got %#x", value)
	}

	if value, err := port.MMIORead(0x102, 8); err != nil {
		t.Fatal(err)
	} else if value != 0xFFFFFFFFFFFFFFFF {
		t.Fatalf("Expected the wide poison value, got %#x", value)
	}
}

func TestPortConfig(t *testing.T) {
	serv, tcpPort := startServer(t)
	defer serv.Close()

	port, err := DialPort("localhost", tcpPort, 4000, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer port.Close()

	const bdf = 0x0100

	if err := port.ConfigWrite(bdf, 0x04, 0xAABBCCDD, 4, true); err != nil {
		t.Fatal(err)
	}

	if value, err := port.ConfigRead(bdf, 0x04, 4, true); err != nil {
		t.Fatal(err)
	} else if value != 0xAABBCCDD {
		t.Fatalf("Read back %#x", value)
	}

	// A two byte write at offset 0x06 only replaces the upper lanes,
	// and a two byte read extracts them again.
	if err := port.ConfigWrite(bdf, 0x06, 0x1122, 2, true); err != nil {
		t.Fatal(err)
	}

	if value, err := port.ConfigRead(bdf, 0x06, 2, true); err != nil {
		t.Fatal(err)
	} else if value != 0x1122 {
		t.Fatalf("Read back %#x", value)
	}
	if value, err := port.ConfigRead(bdf, 0x04, 4, true); err != nil {
		t.Fatal(err)
	} else if value != 0x1122CCDD {
		t.Fatalf("Merged dword is %#x", value)
	}

	// Contract violations are rejected on the requester's side.
	if _, err := port.ConfigRead(bdf, 0x03, 2, true); err == nil {
		t.Fatal("A dword-crossing config read was not rejected")
	}
	if _, err := port.ConfigRead(bdf, 0x1000, 4, true); err == nil {
		t.Fatal("A config read beyond the config space was not rejected")
	}
}

func TestPortSerializesTransactions(t *testing.T) {
	serv, tcpPort := startServer(t)
	defer serv.Close()

	port, err := DialPort("localhost", tcpPort, 4000, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer port.Close()

	const workers = 8

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()

			hpa := uint64(0x10000 + w*cxlpkt.MemAccessUnit)

			line := make([]byte, cxlpkt.MemAccessUnit)
			for i := range line {
				line[i] = byte(w)
			}

			if err := port.MemWrite(hpa, line); err != nil {
				t.Error(err)
				return
			}

			data, err := port.MemRead(hpa)
			if err != nil {
				t.Error(err)
				return
			}
			if !bytes.Equal(data[:], line) {
				t.Errorf("Worker %d read back %x", w, data)
			}
		}(w)
	}

	wg.Wait()
}

func TestPortOverWebSocket(t *testing.T) {
	srv := httptest.NewServer(peer.NewWebSocketHandler(peer.NewMapBacking()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, err := transport.DialWebSocket(url, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	port := NewPort(conn)
	defer port.Close()

	if err := port.Connect(4000); err != nil {
		t.Fatal(err)
	}

	line := make([]byte, cxlpkt.MemAccessUnit)
	copy(line, "memory line over websocket")

	if err := port.MemWrite(0x7000, line); err != nil {
		t.Fatal(err)
	}

	data, err := port.MemRead(0x7000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data[:], line) {
		t.Fatalf("Read back %x instead of %x", data, line)
	}

	if err := port.MMIOWrite(0x7008, 4, 0xCAFEBABE); err != nil {
		t.Fatal(err)
	}
	if value, err := port.MMIORead(0x7008, 4); err != nil {
		t.Fatal(err)
	} else if value != 0xCAFEBABE {
		t.Fatalf("Read back %#x", value)
	}
}
