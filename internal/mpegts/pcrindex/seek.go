package pcrindex

import (
	"io"

	"github.com/mediacore/mediacore/internal/mpegts/codec"
	"github.com/mediacore/mediacore/internal/mpegts/tspacket"
	"github.com/mediacore/mediacore/internal/streamerr"
)

// SeekResult is the refined seek position TSD resumes demuxing from.
type SeekResult struct {
	Offset    int64
	GstTimeNs int64
	PCR       int64
}

// Seek locates the byte offset to resume demuxing from for targetNs,
// via a binary-search-then-refine algorithm:
//
//  1. subtract SEEK_TIMESTAMP_OFFSET from the target and clamp to
//     [first, last];
//  2. binary-search the sparse index for bracketing entries, then
//     iteratively interpolate a byte offset and sample the actual PCR
//     there (10 iterations normally, 25 when accurate is requested),
//     backing up backupPacketsBeforePCR packets before each probe and
//     scanning forward up to firstScanWindowPackets (then
//     secondScanWindowPackets on retry) packets for a PCR hit;
//  3. if videoPID is non-zero, scan forward from the refined offset for
//     the next key frame, bounded by min(last.Offset-low.Offset,
//     2.5×avgBitrate) where low is the lower bracket the search narrowed
//     to, and resume from the packet that starts the key frame's PES
//     unit, returning ErrNoKeyframe if none is found within that window.
func Seek(src io.ReaderAt, idx *Index, targetNs int64, accurate bool, videoPID uint16, videoKind codec.Kind) (SeekResult, error) {
	want := targetNs - seekTimestampOffsetNs
	if want < idx.first.GstTimeNs {
		want = idx.first.GstTimeNs
	}
	if want > idx.last.GstTimeNs {
		want = idx.last.GstTimeNs
	}

	lowEntry := idx.entryFor(want)
	highEntry := idx.last
	for _, e := range idx.entries {
		if e.GstTimeNs >= want {
			highEntry = e
			break
		}
	}

	iterations := 10
	if accurate {
		iterations = 25
	}

	current := lowEntry
	low, high := lowEntry, highEntry
	for i := 0; i < iterations && low.Offset < high.Offset; i++ {
		frac := 0.5
		span := high.GstTimeNs - low.GstTimeNs
		if span > 0 {
			frac = float64(want-low.GstTimeNs) / float64(span)
		}
		if i%2 == 1 {
			// Odd iterations tiebreak toward the midpoint rather than
			// the linear-interpolation estimate, avoiding oscillation
			// around a constant-bitrate region.
			frac = 0.5
		}
		guess := low.Offset + int64(frac*float64(high.Offset-low.Offset))
		guess = alignToPacket(guess)

		sample, found, err := probePCR(src, guess, idx.pcrPID)
		if err != nil {
			return SeekResult{}, err
		}
		if !found {
			continue
		}
		sample.GstTimeNs = calculateGstTime(idx.first, sample.PCR)
		current = sample
		if sample.GstTimeNs < want {
			low = sample
		} else {
			high = sample
		}
	}

	result := SeekResult{Offset: current.Offset, GstTimeNs: current.GstTimeNs, PCR: current.PCR}

	if videoPID == 0 {
		return result, nil
	}
	return refineToKeyframe(src, idx, result, low.Offset, videoPID, videoKind)
}

// alignToPacket rounds down to the nearest 188-byte boundary.
func alignToPacket(off int64) int64 {
	return (off / tspacket.PacketSize188) * tspacket.PacketSize188
}

// probePCR backs up backupPacketsBeforePCR packets from guess and scans
// forward for the first PCR sample on pcrPID, retrying with a wider
// window once before giving up.
func probePCR(src io.ReaderAt, guess int64, pcrPID uint16) (PcrOffset, bool, error) {
	start := guess - int64(backupPacketsBeforePCR)*tspacket.PacketSize188
	if start < 0 {
		start = 0
	}
	for _, window := range []int{firstScanWindowPackets, secondScanWindowPackets} {
		end := start + int64(window)*tspacket.PacketSize188
		samples, err := scanPCRs(src, start, end, pcrPID, 1)
		if err != nil {
			return PcrOffset{}, false, err
		}
		if len(samples) > 0 {
			return samples[0], true, nil
		}
	}
	return PcrOffset{}, false, nil
}

// refineToKeyframe scans forward from from.Offset for the next key
// frame on videoPID, bounded by a
// min(last.Offset-startOffset, 2.5×avgBitrate) window, where startOffset
// is the search's lower bracket. The returned Offset is the packet that
// starts the key frame's PES unit.
func refineToKeyframe(src io.ReaderAt, idx *Index, from SeekResult, startOffset int64, videoPID uint16, videoKind codec.Kind) (SeekResult, error) {
	maxByOffset := idx.last.Offset - startOffset
	maxByBitrate := int64(2.5 * idx.avgBitrate)
	limit := maxByOffset
	if maxByBitrate > 0 && maxByBitrate < limit {
		limit = maxByBitrate
	}

	chunkSize := int64(chunkPackets) * tspacket.PacketSize188
	scanned := int64(0)
	assembler := newKeyframeScanner(videoPID)
	unitStart := int64(-1) // offset of the PUSI packet opening the current unit

	for pos := from.Offset; scanned < limit; pos += chunkSize {
		want := chunkSize
		if scanned+want > limit {
			want = limit - scanned
		}
		buf := make([]byte, want)
		n, err := src.ReadAt(buf, pos)
		if n == 0 {
			break
		}
		if err != nil && err != io.EOF {
			return SeekResult{}, err
		}
		framer := tspacket.NewFramer(buf[:n])
		packetOffset := pos
		for {
			pkt, ferr := framer.Next()
			if ferr == io.EOF || ferr == tspacket.ErrNeedMore {
				break
			}
			if ferr != nil {
				packetOffset += tspacket.PacketSize188
				continue
			}
			if pkt.PID == videoPID {
				if unit, ok := assembler.feed(pkt); ok && unitStart >= 0 && codec.IsKeyframe(videoKind, unit) {
					return SeekResult{Offset: unitStart, GstTimeNs: from.GstTimeNs, PCR: from.PCR}, nil
				}
				if pkt.PUSI {
					unitStart = packetOffset
				}
			}
			packetOffset += tspacket.PacketSize188
		}
		scanned += int64(n)
		if err == io.EOF {
			break
		}
	}
	return SeekResult{}, streamerr.New(streamerr.KindNoKeyframe, "no key frame found within refinement window")
}
