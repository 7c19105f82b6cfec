package pcrindex

import (
	"io"

	"github.com/mediacore/mediacore/internal/mpegts/psi"
	"github.com/mediacore/mediacore/internal/mpegts/tspacket"
	"github.com/mediacore/mediacore/internal/streamerr"
)

// chunkPackets is how many packets the index builder reads per pull.
const chunkPackets = 50

// BuildConfig configures index construction.
type BuildConfig struct {
	ProgramNumber int // 0 selects the first program found in the PAT
}

// Build reads src (size bytes long) in pull mode and produces an
// Index: locate PAT/PMT for the target program, sample the first and
// last PCRs carried on the program's PCR PID, then walk the interval
// in pcrWrapStride128KBps strides sampling one PCR per stride.
func Build(src io.ReaderAt, size int64, cfg BuildConfig) (*Index, error) {
	pcrPID, err := locateProgram(src, size, cfg.ProgramNumber)
	if err != nil {
		return nil, err
	}

	firstSamples, err := scanPCRs(src, 0, size, pcrPID, maxInitialPCRSamples)
	if err != nil || len(firstSamples) == 0 {
		return nil, streamerr.New(streamerr.KindSeekFailed, "no PCR samples near start of stream")
	}
	first := firstSamples[0]
	first.GstTimeNs = 0 // the first observed PCR defines stream-time zero

	tailStart := size - int64(tailScanPackets)*tspacket.PacketSize188
	if tailStart < first.Offset {
		tailStart = first.Offset
	}
	lastSamples, err := scanPCRs(src, tailStart, size, pcrPID, maxInitialPCRSamples)
	if err != nil || len(lastSamples) == 0 {
		return nil, streamerr.New(streamerr.KindSeekFailed, "no PCR samples near end of stream")
	}
	last := lastSamples[len(lastSamples)-1]
	last.GstTimeNs = calculateGstTime(first, last.PCR)

	idx := &Index{
		first:  first,
		last:   last,
		pcrPID: pcrPID,
	}

	span := last.Offset - first.Offset
	if span > 0 {
		idx.avgBitrate = float64(span) / (float64(last.GstTimeNs) / 1e9)
	}

	idx.entries = append(idx.entries, first)
	for off := first.Offset + pcrWrapStride128KBps; off < last.Offset; off += pcrWrapStride128KBps {
		samples, err := scanPCRs(src, off, size, pcrPID, 1)
		if err != nil || len(samples) == 0 {
			continue
		}
		s := samples[0]
		s.GstTimeNs = calculateGstTime(first, s.PCR)
		idx.entries = append(idx.entries, s)
	}
	idx.entries = append(idx.entries, last)
	idx.durationNs = last.GstTimeNs - first.GstTimeNs

	return idx, nil
}

// locateProgram pulls chunks from the start of src until the PAT and
// the target program's PMT are both reassembled, returning that
// program's PCR_PID.
func locateProgram(src io.ReaderAt, size int64, programNumber int) (uint16, error) {
	var pat map[uint16]uint16
	assemblers := map[uint16]*psi.SectionAssembler{0: {}}
	pmtAssemblers := map[uint16]*psi.SectionAssembler{}

	chunkSize := int64(chunkPackets) * tspacket.PacketSize188
	for off := int64(0); off < size; off += chunkSize {
		buf, n := readChunk(src, off, chunkSize, size)
		if n == 0 {
			break
		}
		framer := tspacket.NewFramer(buf[:n])
		for {
			pkt, err := framer.Next()
			if err == io.EOF || err == tspacket.ErrNeedMore {
				break
			}
			if err != nil {
				continue
			}
			if pkt.PID == 0 && pat == nil {
				if a, ok := assemblers[0]; ok {
					for _, section := range a.Feed(pkt.Payload, pkt.PUSI) {
						if parsed, err := psi.ParsePAT(section); err == nil {
							pat = parsed
							for program, pmtPID := range pat {
								if program != 0 {
									pmtAssemblers[pmtPID] = &psi.SectionAssembler{}
								}
							}
						}
					}
				}
			}
			if pat != nil {
				if a, ok := pmtAssemblers[pkt.PID]; ok {
					for _, section := range a.Feed(pkt.Payload, pkt.PUSI) {
						pmt, err := psi.ParsePMT(section)
						if err != nil {
							continue
						}
						if programNumber == 0 || pmt.ProgramNumber == uint16(programNumber) {
							return pmt.PCRPID, nil
						}
					}
				}
			}
		}
	}
	return 0, streamerr.New(streamerr.KindPMTMissing, "PMT for target program not found while building index")
}

// scanPCRs reads forward from off, returning up to limit PCR samples
// carried on pcrPID.
func scanPCRs(src io.ReaderAt, off, size int64, pcrPID uint16, limit int) ([]PcrOffset, error) {
	chunkSize := int64(chunkPackets) * tspacket.PacketSize188
	var out []PcrOffset
	for pos := off; pos < size && len(out) < limit; pos += chunkSize {
		buf, n := readChunk(src, pos, chunkSize, size)
		if n == 0 {
			break
		}
		framer := tspacket.NewFramer(buf[:n])
		packetOffset := pos
		for {
			pkt, err := framer.Next()
			if err == io.EOF || err == tspacket.ErrNeedMore {
				break
			}
			if err != nil {
				packetOffset += tspacket.PacketSize188
				continue
			}
			if pkt.PID == pcrPID && pkt.PCR != nil {
				out = append(out, PcrOffset{PCR: *pkt.PCR, Offset: packetOffset})
				if len(out) >= limit {
					break
				}
			}
			packetOffset += tspacket.PacketSize188
		}
	}
	return out, nil
}

func readChunk(src io.ReaderAt, off, want, size int64) ([]byte, int) {
	if off >= size {
		return nil, 0
	}
	if off+want > size {
		want = size - off
	}
	buf := make([]byte, want)
	n, err := src.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, 0
	}
	return buf, n
}
