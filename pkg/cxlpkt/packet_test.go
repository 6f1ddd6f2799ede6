package cxlpkt

import (
	"bytes"
	"reflect"
	"testing"
)

func TestDecodeDispatch(t *testing.T) {
	line := bytes.Repeat([]byte{0x5A}, MemAccessUnit)

	rwd, err := NewM2SRwDPacket(0x80, line)
	if err != nil {
		t.Fatal(err)
	}
	drs, err := NewS2MDRSPacket(line)
	if err != nil {
		t.Fatal(err)
	}
	cfgRd, err := NewCfgReadPacket(0x0100, 0x04, 2, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	cfgWr, err := NewCfgWritePacket(0x0100, 0x10, 0x12345678, 4, true, 0)
	if err != nil {
		t.Fatal(err)
	}
	memRd, err := NewIoMemReadPacket(0x2000, 8, 0)
	if err != nil {
		t.Fatal(err)
	}
	memWr, err := NewIoMemWritePacket(0x2000, 0xFF, 4, 0)
	if err != nil {
		t.Fatal(err)
	}

	sideband := NewBaseSidebandPacket(SidebandConnectionAccept)
	connReq := NewSidebandConnectionRequestPacket(2048)
	memReq := NewM2SReqPacket(0x40)
	ndr := NewS2MNDRPacket()
	memWr32 := memWr.(IoMemWrite32Packet)
	cpl := NewCplPacket(CplSuccess, 0)
	cplD32 := NewCplDataPacket32(0xCAFEBABE, 0)
	cplD64 := NewCplDataPacket64(0xDEADBEEFCAFEBABE, 0)

	packets := []Packet{
		&sideband,
		&connReq,
		&memReq,
		&rwd,
		&ndr,
		&drs,
		&memRd,
		&memWr32,
		&cfgRd,
		&cfgWr,
		&cpl,
		&cplD32,
		&cplD64,
	}

	for _, pkt := range packets {
		var buf = new(bytes.Buffer)
		if err := pkt.Marshal(buf); err != nil {
			t.Fatal(err)
		}

		if buf.Len() != PacketSize(pkt) {
			t.Fatalf("%T serialized to %d bytes instead of %d", pkt, buf.Len(), PacketSize(pkt))
		}

		decoded, err := Decode(buf.Bytes())
		if err != nil {
			t.Fatal(err)
		}

		if !reflect.DeepEqual(decoded, pkt) {
			t.Fatalf("Decoded packet differs: %v, %v", decoded, pkt)
		}
	}
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	pkt := NewCplPacket(CplSuccess, 0)

	var buf = new(bytes.Buffer)
	if err := pkt.Marshal(buf); err != nil {
		t.Fatal(err)
	}

	// A truncated packet must not decode.
	if _, err := Decode(buf.Bytes()[:buf.Len()-1]); err == nil {
		t.Fatal("Decoding a truncated packet did not fail")
	}

	// A recognized kind with extra bytes must not decode either.
	padded := append(buf.Bytes(), 0x00)
	if _, err := Decode(padded); err == nil {
		t.Fatal("Decoding an oversized packet did not fail")
	}
}

func TestDecodeRejectsUnknownDiscriminators(t *testing.T) {
	tests := [][]byte{
		// Unknown payload type:
		{0x7F, 0x00, 0x05, 0x00, 0x00},
		// Unknown sideband type:
		{0x00, 0x00, 0x05, 0x00, 0x7F},
		// Unknown CXL.mem channel:
		{0x02, 0x00, 0x06, 0x00, 0x7F, 0x00},
		// Unknown CXL.io fmt/type:
		{0x01, 0x00, 0x0C, 0x00, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00},
	}

	for _, data := range tests {
		if _, err := Decode(data); err == nil {
			t.Fatalf("Decoding %x did not fail", data)
		}
	}
}
