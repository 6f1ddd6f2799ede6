package cxlpkt

import (
	"bytes"
	"reflect"
	"testing"
)

func TestM2SRwDPacketAddrShift(t *testing.T) {
	data := make([]byte, MemAccessUnit)
	for i := range data {
		data[i] = byte(i)
	}

	pkt, err := NewM2SRwDPacket(0x40, data)
	if err != nil {
		t.Fatal(err)
	}

	// 0x40 >> 6 == 1, one line past the first.
	if pkt.Addr != 1 {
		t.Fatalf("Addr is %d instead of 1", pkt.Addr)
	}

	if pkt.SystemHeader.PayloadLength != M2SReqPacketSize+MemAccessUnit {
		t.Fatalf("Payload length is %d instead of header size plus access unit",
			pkt.SystemHeader.PayloadLength)
	}

	var buf = new(bytes.Buffer)
	if err := pkt.Marshal(buf); err != nil {
		t.Fatal(err)
	} else if buf.Len() != M2SRwDPacketSize {
		t.Fatalf("Packet size is %d instead of %d", buf.Len(), M2SRwDPacketSize)
	}

	var pkt2 M2SRwDPacket
	if err := pkt2.Unmarshal(buf); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(pkt, pkt2) {
		t.Fatalf("Packets differ: %v, %v", pkt, pkt2)
	}

	if !bytes.Equal(pkt2.Data[:], data) {
		t.Fatalf("Data differs: %x, %x", pkt2.Data[:], data)
	}
}

func TestM2SRwDPacketWrongDataSize(t *testing.T) {
	if _, err := NewM2SRwDPacket(0x40, make([]byte, 32)); err == nil {
		t.Fatal("Creating a write with half an access unit did not fail")
	}
}

func TestM2SReqPacket(t *testing.T) {
	tests := []struct {
		hpa          uint64
		expectedAddr uint64
	}{
		{0x00, 0x00},
		{0x40, 0x01},
		{0x1000, 0x40},
		{0xFFFFFFC0, 0x3FFFFFF},
	}

	for _, test := range tests {
		pkt := NewM2SReqPacket(test.hpa)

		if pkt.Addr != test.expectedAddr {
			t.Fatalf("Addr for hpa %#x is %#x instead of %#x", test.hpa, pkt.Addr, test.expectedAddr)
		}
		if pkt.HostAddr() != test.hpa {
			t.Fatalf("HostAddr is %#x instead of %#x", pkt.HostAddr(), test.hpa)
		}

		var buf = new(bytes.Buffer)
		if err := pkt.Marshal(buf); err != nil {
			t.Fatal(err)
		}

		var pkt2 M2SReqPacket
		if err := pkt2.Unmarshal(buf); err != nil {
			t.Fatal(err)
		} else if !reflect.DeepEqual(pkt, pkt2) {
			t.Fatalf("Packets differ: %v, %v", pkt, pkt2)
		}
	}
}

func TestS2MPackets(t *testing.T) {
	ndr := NewS2MNDRPacket()

	var buf = new(bytes.Buffer)
	if err := ndr.Marshal(buf); err != nil {
		t.Fatal(err)
	} else if buf.Len() != S2MNDRPacketSize {
		t.Fatalf("NDR size is %d instead of %d", buf.Len(), S2MNDRPacketSize)
	}

	var ndr2 S2MNDRPacket
	if err := ndr2.Unmarshal(buf); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(ndr, ndr2) {
		t.Fatalf("Packets differ: %v, %v", ndr, ndr2)
	}

	line := bytes.Repeat([]byte{0xA5}, MemAccessUnit)
	drs, err := NewS2MDRSPacket(line)
	if err != nil {
		t.Fatal(err)
	}

	buf.Reset()
	if err := drs.Marshal(buf); err != nil {
		t.Fatal(err)
	} else if buf.Len() != S2MDRSPacketSize {
		t.Fatalf("DRS size is %d instead of %d", buf.Len(), S2MDRSPacketSize)
	}

	var drs2 S2MDRSPacket
	if err := drs2.Unmarshal(buf); err != nil {
		t.Fatal(err)
	} else if !bytes.Equal(drs2.Data[:], line) {
		t.Fatalf("Data differs: %x, %x", drs2.Data[:], line)
	}
}
