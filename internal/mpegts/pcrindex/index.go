// Package pcrindex builds a sparse PCR↔byte-offset index in pull mode
// and resolves seek targets against it via binary search plus
// byte-accurate and key-frame refinement.
package pcrindex

import (
	"github.com/mediacore/mediacore/pkg/clockconv"
)

const (
	// pcrWrapStride128KBps is the byte stride used to walk first→last
	// while building the index, sized for a 128KB/s worst case.
	pcrWrapStride128KBps = 1_500_000_000
	// seekTimestampOffsetNs is SEEK_TIMESTAMP_OFFSET (1s) subtracted
	// from a seek target before translating into PCR stream-time.
	seekTimestampOffsetNs = int64(1_000_000_000)
	// tailScanPackets is how far from the end the index build samples
	// last_pcr ("last ~4000 packets").
	tailScanPackets = 4000
	// maxInitialPCRSamples bounds the first/last PCR sampling.
	maxInitialPCRSamples = 10
	backupPacketsBeforePCR = 55
	firstScanWindowPackets = 4000
	secondScanWindowPackets = 8000
)

// PcrOffset anchors one sparse index sample.
type PcrOffset struct {
	GstTimeNs int64
	PCR       int64
	Offset    int64
}

// Index is the sparse, immutable-after-build PCR↔offset table.
type Index struct {
	entries    []PcrOffset
	first      PcrOffset
	last       PcrOffset
	durationNs int64
	pcrPID     uint16
	avgBitrate float64 // bytes/sec, used to bound key-frame refinement scans
}

// Duration reports last.gsttime − first.gsttime.
func (idx *Index) Duration() int64 { return idx.durationNs }

// First and Last expose the index's anchor samples.
func (idx *Index) First() PcrOffset { return idx.first }
func (idx *Index) Last() PcrOffset  { return idx.last }

// calculateGstTime handles the single 33-bit PCR wrap relative to
// anchor: if anchor.pcr > pcr, assume one wrap (+ PCR_MAX); otherwise a
// plain linear delta.
func calculateGstTime(anchor PcrOffset, pcr int64) int64 {
	var delta int64
	if anchor.PCR > pcr {
		delta = (clockconv.PCRMax - anchor.PCR) + pcr
	} else {
		delta = pcr - anchor.PCR
	}
	return anchor.GstTimeNs + clockconv.PCRToNs(delta)
}

// entryFor returns the sparse entry immediately at-or-before gstTimeNs,
// for seek's initial coarse lookup.
func (idx *Index) entryFor(gstTimeNs int64) PcrOffset {
	lo, hi := 0, len(idx.entries)-1
	best := idx.first
	for lo <= hi {
		mid := (lo + hi) / 2
		if idx.entries[mid].GstTimeNs <= gstTimeNs {
			best = idx.entries[mid]
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best
}
