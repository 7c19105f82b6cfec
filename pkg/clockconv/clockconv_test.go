package clockconv

import "testing"

func TestPCRToNs(t *testing.T) {
	// 27,000,000 ticks is exactly one second.
	if got := PCRToNs(27_000_000); got != 1_000_000_000 {
		t.Fatalf("PCRToNs(27e6) = %d, want 1e9", got)
	}
}

func TestPTSToNs(t *testing.T) {
	// 1000 ticks at 90kHz is 11.111ms.
	got := PTSToNs(1000)
	want := int64(11_111_111)
	if got != want {
		t.Fatalf("PTSToNs(1000) = %d, want %d", got, want)
	}
}

func TestPCRWrapModulus(t *testing.T) {
	if PCRMax != (int64(1)<<33)*300 {
		t.Fatalf("PCRMax mismatch")
	}
}
