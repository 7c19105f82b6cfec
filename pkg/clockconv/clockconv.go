// Package clockconv converts between the clock domains MPEG-TS and HLS
// mix: 27 MHz PCR ticks, 90 kHz PTS/DTS ticks, and nanoseconds.
package clockconv

const (
	// PCRHz is the PCR base+extension combined tick rate after the
	// base*300+ext widening described in ISO/IEC 13818-1.
	PCRHz = 27_000_000
	// PTSHz is the PES PTS/DTS tick rate.
	PTSHz = 90_000
	// PCRMax is one past the largest representable 33-bit PCR base
	// widened by *300, i.e. the wrap modulus for 27 MHz PCR values.
	PCRMax = (int64(1) << 33) * 300
	nsPerSec = 1_000_000_000
)

// PCRToNs converts a widened (base*300+ext) 27 MHz PCR value to nanoseconds.
func PCRToNs(pcr int64) int64 {
	return pcr * nsPerSec / PCRHz
}

// PTSToNs converts a 33-bit 90 kHz PTS/DTS value to nanoseconds.
func PTSToNs(pts int64) int64 {
	return pts * nsPerSec / PTSHz
}

// NsToPCR converts nanoseconds back into widened 27 MHz PCR ticks.
func NsToPCR(ns int64) int64 {
	return ns * PCRHz / nsPerSec
}
