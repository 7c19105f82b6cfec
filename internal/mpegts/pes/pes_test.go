package pes

import "testing"

// buildPESHeader builds a minimal PES header carrying only a PTS, plus
// the given payload bytes, split as it would be within one TS packet.
func buildPESHeader(pts int64, payload []byte) []byte {
	b := []byte{
		0x00, 0x00, 0x01, // start code
		0xE0,       // stream_id (video stream 0)
		0x00, 0x00, // PES_packet_length (unset, acceptable for unbounded video)
		0x80,       // marker bits
		0x80,       // PTS_DTS_flags = 10 (PTS only)
		0x05,       // PES_header_data_length
	}
	b = append(b, encodeTimestamp(0x02, pts)...)
	b = append(b, payload...)
	return b
}

func encodeTimestamp(prefix byte, v int64) []byte {
	out := make([]byte, 5)
	out[0] = prefix<<4 | byte(v>>29&0x0E) | 0x01
	out[1] = byte(v >> 22)
	out[2] = byte(v>>14&0xFE) | 0x01
	out[3] = byte(v >> 7)
	out[4] = byte(v<<1) | 0x01
	return out
}

func TestAssembler_HeaderAndPayloadInOnePacket(t *testing.T) {
	a := NewAssembler(0x101)
	payload := buildPESHeader(90000, []byte("frame-data"))

	if u, flushed := a.Feed(payload, true); flushed {
		t.Fatalf("unexpected flush on first packet: %+v", u)
	}
	if a.state != StateBuffer {
		t.Fatalf("state = %v, want StateBuffer", a.state)
	}
	if a.pts == nil || *a.pts == 0 {
		t.Fatal("expected a decoded PTS")
	}

	u, flushed := a.Feed(payload, true) // next PUSI flushes the first unit
	if !flushed {
		t.Fatal("expected a flush on the second PUSI packet")
	}
	if string(u.Data) != "frame-data" {
		t.Fatalf("Data = %q, want %q", u.Data, "frame-data")
	}
}

func TestAssembler_EmptyWithoutPUSIEntersDiscont(t *testing.T) {
	a := NewAssembler(0x101)
	if _, flushed := a.Feed([]byte{0xAA, 0xBB}, false); flushed {
		t.Fatal("unexpected flush")
	}
	if a.state != StateDiscont {
		t.Fatalf("state = %v, want StateDiscont", a.state)
	}
}

func TestAssembler_BufferAccumulatesAcrossPackets(t *testing.T) {
	a := NewAssembler(0x101)
	header := buildPESHeader(0, []byte("part1-"))
	a.Feed(header, true)
	a.Feed([]byte("part2"), false)

	u, flushed := a.Flush()
	if !flushed {
		t.Fatal("Flush() should complete the in-progress unit")
	}
	if string(u.Data) != "part1-part2" {
		t.Fatalf("Data = %q, want %q", u.Data, "part1-part2")
	}
}

func TestAssembler_OverflowPendingBufferEntersDiscont(t *testing.T) {
	a := NewAssembler(0x101)
	a.Feed([]byte{0x00, 0x00, 0x01, 0xE0}, true) // incomplete header
	for i := 0; i < maxPendingPackets+1; i++ {
		a.Feed([]byte{}, false) // empty payloads: the header never reaches 9 bytes
	}
	if a.state != StateDiscont {
		t.Fatalf("state = %v, want StateDiscont after pending overflow", a.state)
	}
}

func TestStreamTime_NoWrap(t *testing.T) {
	anchor := PCRAnchor{GstTimeNs: 1_000_000_000, PCR: 27_000_000} // 1s of 27MHz PCR ticks
	got := StreamTime(anchor, 90_000)                              // pts=1s in 90kHz ticks
	want := int64(1_000_000_000) // anchor cancels out, leaving pts_to_ns(90_000) == 1s
	if got != want {
		t.Fatalf("StreamTime() = %d, want %d", got, want)
	}
}
