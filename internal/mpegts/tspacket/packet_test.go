package tspacket

import (
	"io"
	"testing"
)

// buildPacket builds a minimal valid 188-byte TS packet with no
// adaptation field, carrying the given PID and PUSI flag.
func buildPacket(pid uint16, pusi bool) []byte {
	b := make([]byte, PacketSize188)
	b[0] = SyncByte
	b[1] = byte(pid >> 8 & 0x1F)
	if pusi {
		b[1] |= 0x40
	}
	b[2] = byte(pid & 0xFF)
	b[3] = 0x10 | 0x01 // AFC=payload only, continuity_counter=1
	for i := 4; i < len(b); i++ {
		b[i] = 0xFF
	}
	return b
}

func buildPacketWithPCR(pid uint16, pcr int64) []byte {
	b := make([]byte, PacketSize188)
	b[0] = SyncByte
	b[1] = byte(pid >> 8 & 0x1F)
	b[2] = byte(pid & 0xFF)
	b[3] = 0x30 | 0x01 // AFC=adaptation+payload
	b[4] = 7           // adaptation_field_length
	b[5] = 0x10         // PCR_flag set
	base := pcr / 300
	ext := pcr % 300
	b[6] = byte(base >> 25)
	b[7] = byte(base >> 17)
	b[8] = byte(base >> 9)
	b[9] = byte(base >> 1)
	b[10] = byte(base<<7) | 0x7E | byte(ext>>8&0x01)
	b[11] = byte(ext & 0xFF)
	for i := 12; i < len(b); i++ {
		b[i] = 0xFF
	}
	return b
}

func TestFramer_ByteExactPacketFraming(t *testing.T) {
	// 17 garbage bytes (deliberately not 0x47) ending in a single sync
	// byte that is NOT the start of an aligned triple — the resync scan
	// must walk past it to find the real packet boundary.
	prefix := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
		SyncByte,
	}

	var data []byte
	data = append(data, prefix...)
	data = append(data, buildPacket(0x100, true)...)
	data = append(data, buildPacket(0x100, false)...)
	data = append(data, buildPacket(0x100, false)...)

	f := NewFramer(data)
	var got []Packet
	for {
		p, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, p)
	}
	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	if !got[0].PUSI {
		t.Fatal("first packet should carry PUSI")
	}
}

func TestFramer_M2TSPrefixStripped(t *testing.T) {
	var data []byte
	for i := 0; i < 3; i++ {
		m2ts := make([]byte, 4)
		data = append(data, m2ts...)
		data = append(data, buildPacket(0x42, false)...)
	}
	f := NewFramer(data)
	count := 0
	for {
		p, err := f.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if p.PID != 0x42 {
			t.Fatalf("PID = %#x, want 0x42", p.PID)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
}

func TestFramer_NeedMoreOnTrailingPartialPacket(t *testing.T) {
	// Three whole packets give the resync scan its aligned sync triple;
	// the trailing 100 bytes are an incomplete fourth packet.
	var data []byte
	for i := 0; i < 3; i++ {
		data = append(data, buildPacket(0x100, false)...)
	}
	data = append(data, data[:100]...)
	f := NewFramer(data)
	for i := 0; i < 3; i++ {
		if _, err := f.Next(); err != nil {
			t.Fatalf("Next() #%d error = %v", i+1, err)
		}
	}
	if _, err := f.Next(); err != ErrNeedMore {
		t.Fatalf("fourth Next() error = %v, want ErrNeedMore", err)
	}
}

func TestDecodePacket_PCRField(t *testing.T) {
	const wantPCR = int64(0x1FFFFFFFF)*300 + 150 // near the 33-bit wrap boundary
	data := buildPacketWithPCR(0x200, wantPCR)
	p, err := decodePacket(data)
	if err != nil {
		t.Fatalf("decodePacket() error = %v", err)
	}
	if p.PCR == nil {
		t.Fatal("PCR flag should have decoded a PCR value")
	}
	if *p.PCR != wantPCR {
		t.Fatalf("PCR = %d, want %d", *p.PCR, wantPCR)
	}
}

func TestDecodePacket_AFCVariants(t *testing.T) {
	b := buildPacket(0x10, false)
	p, err := decodePacket(b)
	if err != nil {
		t.Fatalf("decodePacket() error = %v", err)
	}
	if !p.HasPayload() || p.HasAdaptation() {
		t.Fatal("AFC=0b01 should report payload-only")
	}
	if p.Payload == nil {
		t.Fatal("payload-only packet should carry a payload slice")
	}
}
