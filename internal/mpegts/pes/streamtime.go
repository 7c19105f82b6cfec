package pes

import "github.com/mediacore/mediacore/pkg/clockconv"

// PCRAnchor is the most recent PCR sample used to translate a PID's PTS
// into stream time.
type PCRAnchor struct {
	GstTimeNs int64 // stream-time at the moment this PCR was observed
	PCR       int64 // widened (base*300+ext) 27MHz PCR value
}

// StreamTime converts pts (90kHz ticks) into the stream-time domain
// anchored on anchor:
//
//	t = anchor.gsttime − pcr_to_ns(anchor.pcr) + pts_to_ns(pts)
//
// handling the single 33-bit wrap by adding a full PCR_MAX worth of
// nanoseconds when the anchor's PCR is numerically ahead of the PTS
// widened to the same 27MHz tick domain (anchor.pcr > pts*300).
func StreamTime(anchor PCRAnchor, pts int64) int64 {
	t := anchor.GstTimeNs - clockconv.PCRToNs(anchor.PCR) + clockconv.PTSToNs(pts)
	if anchor.PCR > pts*300 {
		t += clockconv.PCRToNs(clockconv.PCRMax)
	}
	return t
}
