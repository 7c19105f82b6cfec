package codec

import "testing"

func TestIsMPEG2Keyframe(t *testing.T) {
	// picture_start_code + temporal_reference(10 bits) + coding_type=1(I)
	// packed into bits 5..3 of byte index 5 (0x08).
	payload := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x08, 0x00, 0x00}
	if !isMPEG2Keyframe(payload) {
		t.Fatal("expected I-frame detection")
	}
}

func TestIsMPEG2Keyframe_PFrameNotDetected(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x10, 0x00, 0x00} // coding_type=2 (P)
	if isMPEG2Keyframe(payload) {
		t.Fatal("P-frame should not be detected as a keyframe")
	}
}

func TestIsH264Keyframe_FourByteStartCode(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA} // nal_unit_type=5 (IDR)
	if !isH264Keyframe(payload) {
		t.Fatal("expected IDR NAL detection with a 4-byte start code")
	}
}

func TestIsH264Keyframe_ThreeByteStartCode(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x01, 0x65, 0xAA}
	if !isH264Keyframe(payload) {
		t.Fatal("expected IDR NAL detection with a 3-byte start code")
	}
}

func TestIsH264Keyframe_NonIDRNotDetected(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x01, 0x01, 0xAA} // nal_unit_type=1 (non-IDR slice)
	if isH264Keyframe(payload) {
		t.Fatal("non-IDR slice should not be detected as a keyframe")
	}
}

func TestKindForStreamType(t *testing.T) {
	if KindForStreamType(0x1B) != KindH264 {
		t.Fatal("stream_type 0x1B should map to H.264")
	}
	if KindForStreamType(0x02) != KindMPEG2Video {
		t.Fatal("stream_type 0x02 should map to MPEG-2 video")
	}
	if KindForStreamType(0x0F) != KindUnknown {
		t.Fatal("AAC audio stream_type should map to KindUnknown")
	}
}
