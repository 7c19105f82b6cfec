package playlist

import (
	"testing"
	"time"
)

const masterM3U8 = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000,CODECS="avc1.4d401f,mp4a.40.2"
a/variant.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,CODECS="avc1.4d401f,mp4a.40.2"
b/variant.m3u8
`

func vodMediaPlaylist(n int) string {
	out := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-VERSION:3\n"
	for i := 0; i < n; i++ {
		out += "#EXTINF:10.0,\n"
		out += "seg" + itoa(i) + ".ts\n"
	}
	out += "#EXT-X-ENDLIST\n"
	return out
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

func TestParseMaster_SortedByBandwidth(t *testing.T) {
	m, err := Parse(masterM3U8, "https://example.test/master.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(m.Variants) != 2 {
		t.Fatalf("len(Variants) = %d, want 2", len(m.Variants))
	}
	if m.Variants[0].Bandwidth != 500000 || m.Variants[1].Bandwidth != 1500000 {
		t.Fatalf("variants not sorted ascending: %+v", m.Variants)
	}
	if m.Variants[0].URI != "https://example.test/a/variant.m3u8" {
		t.Fatalf("relative URI not resolved: %s", m.Variants[0].URI)
	}
}

func TestParse_RejectsMissingLeader(t *testing.T) {
	if _, err := Parse("<html>404 not found</html>", "https://example.test/x.m3u8"); err == nil {
		t.Fatal("expected error for missing #EXTM3U leader")
	}
}

func TestParse_RequiresURIAfterExtInf(t *testing.T) {
	bad := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\n"
	if _, err := Parse(bad, "https://example.test/x.m3u8"); err == nil {
		t.Fatal("expected error for dangling #EXTINF")
	}
}

func TestVODPlaybackInOrderWithEOS(t *testing.T) {
	m, err := Parse(vodMediaPlaylist(10), "https://example.test/a/variant.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cs, err := NewClientState(m, 0, 0)
	if err != nil {
		t.Fatalf("NewClientState() error = %v", err)
	}
	if cs.Current.IsLive() {
		t.Fatal("expected VOD variant (endlist present)")
	}
	dur, ok := cs.Current.Duration()
	if !ok || dur != 100*time.Second {
		t.Fatalf("Duration() = %v, %v, want 100s true", dur, ok)
	}

	for i := 0; i < 10; i++ {
		seg, err := cs.NextSegment()
		if err != nil {
			t.Fatalf("segment %d: unexpected error %v", i, err)
		}
		if seg.Sequence != int64(i) {
			t.Fatalf("segment %d: sequence = %d, want %d", i, seg.Sequence, i)
		}
	}
	if _, err := cs.NextSegment(); err != ErrEndOfPlaylist {
		t.Fatalf("expected ErrEndOfPlaylist after last segment, got %v", err)
	}
}

func TestLiveStartCursorClampedBehindEdge(t *testing.T) {
	live := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:100\n" +
		"#EXTINF:10.0,\nseg100.ts\n#EXTINF:10.0,\nseg101.ts\n#EXTINF:10.0,\nseg102.ts\n#EXTINF:10.0,\nseg103.ts\n"
	m, err := Parse(live, "https://example.test/live.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cs, err := NewClientState(m, 0, 0)
	if err != nil {
		t.Fatalf("NewClientState() error = %v", err)
	}
	if !cs.Current.IsLive() {
		t.Fatal("expected live variant")
	}
	// 4 segments, fragmentsCache=3 -> start at index 1 -> sequence 101.
	if cs.NextSequence != 101 {
		t.Fatalf("NextSequence = %d, want 101", cs.NextSequence)
	}
}

func TestLiveStartCursorHonorsConfiguredFragmentsCache(t *testing.T) {
	live := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:100\n" +
		"#EXTINF:10.0,\nseg100.ts\n#EXTINF:10.0,\nseg101.ts\n#EXTINF:10.0,\nseg102.ts\n#EXTINF:10.0,\nseg103.ts\n"
	m, err := Parse(live, "https://example.test/live.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cs, err := NewClientState(m, 0, 2)
	if err != nil {
		t.Fatalf("NewClientState() error = %v", err)
	}
	// 4 segments, fragmentsCache=2 -> start at index 2 -> sequence 102.
	if cs.NextSequence != 102 {
		t.Fatalf("NextSequence = %d, want 102", cs.NextSequence)
	}
}

func TestUpdateMergesNewSegmentsOnly(t *testing.T) {
	live := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXTINF:10.0,\nseg0.ts\n#EXTINF:10.0,\nseg1.ts\n#EXTINF:10.0,\nseg2.ts\n"
	m, err := Parse(live, "https://example.test/live.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cs, err := NewClientState(m, 0, 0)
	if err != nil {
		t.Fatalf("NewClientState() error = %v", err)
	}
	cs.NextSequence = 0 // force from the start for a deterministic test

	refreshed := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:1\n" +
		"#EXTINF:10.0,\nseg1.ts\n#EXTINF:10.0,\nseg2.ts\n#EXTINF:10.0,\nseg3.ts\n"
	if ok := cs.Update(refreshed, "https://example.test/live.m3u8"); !ok {
		t.Fatal("Update() returned false")
	}
	if len(cs.Current.Segments) != 4 {
		t.Fatalf("len(Segments) = %d, want 4 (0..3)", len(cs.Current.Segments))
	}
	if cs.UpdateFailedCount != 0 {
		t.Fatalf("UpdateFailedCount = %d, want 0 after new segments arrived", cs.UpdateFailedCount)
	}
}

func TestUpdateReturnsFalseOnMalformedText(t *testing.T) {
	live := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:10.0,\nseg0.ts\n"
	m, _ := Parse(live, "https://example.test/live.m3u8")
	cs, _ := NewClientState(m, 0, 0)
	if ok := cs.Update("not a playlist", "https://example.test/live.m3u8"); ok {
		t.Fatal("Update() should return false for malformed text")
	}
}

func TestUpdateFailedCountIncrementsWithNoNewSegments(t *testing.T) {
	live := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n#EXTINF:10.0,\nseg0.ts\n"
	m, _ := Parse(live, "https://example.test/live.m3u8")
	cs, _ := NewClientState(m, 0, 0)
	for i := 0; i < 3; i++ {
		if ok := cs.Update(live, "https://example.test/live.m3u8"); !ok {
			t.Fatalf("Update() round %d returned false", i)
		}
	}
	if cs.UpdateFailedCount != 3 {
		t.Fatalf("UpdateFailedCount = %d, want 3", cs.UpdateFailedCount)
	}
}

func TestDiscontinuityFiresOnVariantSwitch(t *testing.T) {
	m, err := Parse(vodMediaPlaylist(3), "https://example.test/a/variant.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cs, _ := NewClientState(m, 0, 0)
	seg, err := cs.NextSegment()
	if err != nil {
		t.Fatalf("NextSegment() error = %v", err)
	}
	if !seg.Discontinuity {
		t.Fatal("first segment after load should carry the reset discontinuity flag")
	}
	seg2, err := cs.NextSegment()
	if err != nil {
		t.Fatalf("NextSegment() error = %v", err)
	}
	if seg2.Discontinuity {
		t.Fatal("second segment should not be discontinuous")
	}

	other, _ := Parse(vodMediaPlaylist(3), "https://example.test/b/variant.m3u8")
	cs.SwitchVariant(other.Variants[0])
	seg3, err := cs.NextSegment()
	if err != nil {
		t.Fatalf("NextSegment() error = %v", err)
	}
	if !seg3.Discontinuity {
		t.Fatal("first segment after variant switch should be discontinuous")
	}
}

func TestExplicitDiscontinuityTag(t *testing.T) {
	raw := "#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXTINF:10.0,\nseg0.ts\n#EXT-X-DISCONTINUITY\n#EXTINF:10.0,\nseg1.ts\n#EXT-X-ENDLIST\n"
	m, err := Parse(raw, "https://example.test/v.m3u8")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cs, _ := NewClientState(m, 0, 0)
	seg0, _ := cs.NextSegment()
	if !seg0.Discontinuity {
		t.Fatal("seg0 carries the load-reset discontinuity, expected true")
	}
	seg1, _ := cs.NextSegment()
	if !seg1.Discontinuity {
		t.Fatal("seg1 follows #EXT-X-DISCONTINUITY, expected true")
	}
}
