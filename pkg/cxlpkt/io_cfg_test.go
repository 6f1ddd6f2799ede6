package cxlpkt

import (
	"bytes"
	"reflect"
	"testing"
)

func TestCfgReadPacketByteEnables(t *testing.T) {
	// Bus 0, device 0, function 0; two bytes at register offset 0x04.
	pkt, err := NewCfgReadPacket(0x0000, 0x04, 2, true, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Bytes 0 and 1 of the addressed dword.
	if pkt.CfgReqHeader.FirstDwBE != 0b0011 {
		t.Fatalf("FirstDwBE is %#b instead of 0b0011", pkt.CfgReqHeader.FirstDwBE)
	}
	if pkt.CfgReqHeader.DestID != 0x0000 {
		t.Fatalf("DestID is %#x instead of the bdf", pkt.CfgReqHeader.DestID)
	}
	if pkt.CfgReqHeader.RegNum != 0x01 {
		t.Fatalf("RegNum is %#x instead of 0x01", pkt.CfgReqHeader.RegNum)
	}
	if pkt.SystemHeader.PayloadLength != CfgReadPacketSize {
		t.Fatalf("Payload length is %d instead of %d", pkt.SystemHeader.PayloadLength, CfgReadPacketSize)
	}
}

func TestCfgByteEnableLanes(t *testing.T) {
	tests := []struct {
		cfgAddr    uint32
		size       int
		valid      bool
		expectedBE uint8
	}{
		{0x00, 1, true, 0b0001},
		{0x01, 1, true, 0b0010},
		{0x00, 2, true, 0b0011},
		{0x02, 2, true, 0b1100},
		{0x00, 4, true, 0b1111},
		{0x03, 1, true, 0b1000},
		// Crossing the dword boundary:
		{0x03, 2, false, 0},
		{0x02, 4, false, 0},
		// Beyond the configuration space:
		{0x1000, 1, false, 0},
		{0x2345, 4, false, 0},
	}

	for _, test := range tests {
		h, err := newCfgReqHeader(0x0100, test.cfgAddr, test.size, 0, 0)

		if (err == nil) != test.valid {
			t.Fatalf("Error state was not expected for %#x/%d; valid := %t, got := %v",
				test.cfgAddr, test.size, test.valid, err)
		} else if !test.valid {
			continue
		}

		if h.FirstDwBE != test.expectedBE {
			t.Fatalf("FirstDwBE for %#x/%d is %#b instead of %#b",
				test.cfgAddr, test.size, h.FirstDwBE, test.expectedBE)
		}
		if h.LastDwBE != 0 {
			t.Fatalf("LastDwBE is %#b instead of zero", h.LastDwBE)
		}
	}
}

func TestCfgReqHeaderRegisterSplit(t *testing.T) {
	h, err := newCfgReqHeader(0x0123, 0xABC, 4, 0, 7)
	if err != nil {
		t.Fatal(err)
	}

	if h.ExtRegNum != 0x0A {
		t.Fatalf("ExtRegNum is %#x instead of 0x0A", h.ExtRegNum)
	}
	if h.RegNum != (0xBC >> 2) {
		t.Fatalf("RegNum is %#x instead of %#x", h.RegNum, 0xBC>>2)
	}
	if h.Offset() != 0xABC {
		t.Fatalf("Reassembled offset is %#x instead of 0xABC", h.Offset())
	}
}

func TestCfgWritePacketRoundtrip(t *testing.T) {
	pkt, err := NewCfgWritePacket(0x0100, 0x10, 0xCAFEBABE, 4, false, 3)
	if err != nil {
		t.Fatal(err)
	}

	if pkt.IoHeader.FmtType != CfgWr1 {
		t.Fatalf("FmtType is %v instead of CFG_WR1", pkt.IoHeader.FmtType)
	}

	var buf = new(bytes.Buffer)
	if err := pkt.Marshal(buf); err != nil {
		t.Fatal(err)
	} else if buf.Len() != CfgWritePacketSize {
		t.Fatalf("Packet size is %d instead of %d", buf.Len(), CfgWritePacketSize)
	}

	var pkt2 CfgWritePacket
	if err := pkt2.Unmarshal(buf); err != nil {
		t.Fatal(err)
	} else if !reflect.DeepEqual(pkt, pkt2) {
		t.Fatalf("Packets differ: %v, %v", pkt, pkt2)
	}
}
