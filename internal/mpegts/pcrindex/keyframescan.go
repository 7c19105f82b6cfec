package pcrindex

import (
	"github.com/mediacore/mediacore/internal/mpegts/pes"
	"github.com/mediacore/mediacore/internal/mpegts/tspacket"
)

// keyframeScanner wraps a PES assembler so Seek's refinement pass can
// reuse the real access-unit boundaries instead of scanning raw TS
// payload (PES headers can straddle a key frame's start code).
type keyframeScanner struct {
	assembler *pes.Assembler
}

func newKeyframeScanner(pid uint16) *keyframeScanner {
	return &keyframeScanner{assembler: pes.NewAssembler(pid)}
}

func (s *keyframeScanner) feed(pkt tspacket.Packet) ([]byte, bool) {
	unit, flushed := s.assembler.Feed(pkt.Payload, pkt.PUSI)
	if !flushed {
		return nil, false
	}
	return unit.Data, true
}
