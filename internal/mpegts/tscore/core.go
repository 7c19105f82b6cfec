// Package tscore implements the MPEG-TS demultiplexer's composition
// layer: TsCore owns packet framing, PAT/PMT program tracking, and PID
// discovery; TsDemux (demux.go) layers PES assembly and PCR
// indexing/seeking on top, exposing the media.Sink/media.Source façade
// for both push and pull ingestion.
package tscore

import (
	"io"
	"log/slog"
	"sync"

	"github.com/mediacore/mediacore/internal/media"
	"github.com/mediacore/mediacore/internal/metrics"
	"github.com/mediacore/mediacore/internal/mpegts/codec"
	"github.com/mediacore/mediacore/internal/mpegts/pes"
	"github.com/mediacore/mediacore/internal/mpegts/psi"
	"github.com/mediacore/mediacore/internal/mpegts/tspacket"
)

// maxPID is 2^13: every PID fits in a flat array rather than a
// PID->handle map.
const maxPID = 8192

// statsChanCap bounds the out-of-band emit-stats channel; a non-blocking
// send means a stalled consumer drops events instead of stalling demux.
const statsChanCap = 256

// StreamHandle is one elementary stream's live demuxing state.
type StreamHandle struct {
	PID          uint16
	StreamType   byte
	Assembler    *pes.Assembler
	KeyframeKind codec.Kind
}

// TsCore is the shared program-tracking core for both push and pull
// ingestion: TS packet framing, PAT/PMT section reassembly, and the
// flat PID→StreamHandle table that stream-added/stream-removed diffs
// update as PMTs change.
type TsCore struct {
	mu sync.Mutex

	framer *tspacket.Framer
	patAsm *psi.SectionAssembler
	pmtAsm map[uint16]*psi.SectionAssembler

	pat     map[uint16]uint16 // program_number -> PMT PID
	program *psi.Program
	streams [maxPID]*StreamHandle
	pcrPID  uint16

	programNumber int
	log           *slog.Logger
	stats         chan media.StatEvent
}

// NewTsCore creates a TsCore targeting programNumber (0 selects the
// first program whose PMT is parsed and stays on it).
func NewTsCore(programNumber int, log *slog.Logger) *TsCore {
	if log == nil {
		log = slog.Default()
	}
	return &TsCore{
		framer:        tspacket.NewFramer(nil),
		patAsm:        &psi.SectionAssembler{},
		pmtAsm:        map[uint16]*psi.SectionAssembler{},
		programNumber: programNumber,
		log:           log,
		stats:         make(chan media.StatEvent, statsChanCap),
	}
}

// Stats returns the emit-stats channel mirrored into prometheus by
// internal/metrics.
func (c *TsCore) Stats() <-chan media.StatEvent { return c.stats }

func (c *TsCore) emit(ev media.StatEvent) {
	metrics.ObserveStatEvent(ev)
	select {
	case c.stats <- ev:
	default:
		// Stalled consumer: drop rather than backpressure the demux loop.
	}
}

// Feed appends p to the framer and processes every complete packet,
// returning the elementary-stream units any packet's PUSI flushed.
func (c *TsCore) Feed(p []byte) []pes.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.framer.Feed(p)
	c.emit(media.NewStatEvent(media.StatBytesProcessed, 0, 0, int64(len(p))))

	var units []pes.Unit
	for {
		pkt, err := c.framer.Next()
		if err == io.EOF || err == tspacket.ErrNeedMore {
			break
		}
		if err != nil {
			continue
		}
		if u, ok := c.handlePacket(pkt); ok {
			units = append(units, u)
		}
	}
	return units
}

func (c *TsCore) handlePacket(pkt tspacket.Packet) (pes.Unit, bool) {
	if pkt.TransportErrorIndicator {
		c.emit(media.NewStatEvent(media.StatPacketDropped, pkt.PID, 0, 0))
		return pes.Unit{}, false
	}
	if pkt.PID == 0 {
		c.feedPAT(pkt)
		return pes.Unit{}, false
	}
	if c.pat != nil {
		if _, ok := c.pmtAsm[pkt.PID]; ok {
			c.feedPMT(pkt)
			return pes.Unit{}, false
		}
	}
	handle := c.streams[pkt.PID]
	if handle == nil || pkt.Payload == nil {
		return pes.Unit{}, false
	}
	return handle.Assembler.Feed(pkt.Payload, pkt.PUSI)
}

func (c *TsCore) feedPAT(pkt tspacket.Packet) {
	if pkt.Payload == nil {
		return
	}
	for _, section := range c.patAsm.Feed(pkt.Payload, pkt.PUSI) {
		parsed, err := psi.ParsePAT(section)
		if err != nil {
			continue
		}
		c.pat = parsed
		for program, pmtPID := range parsed {
			if program == 0 {
				continue
			}
			if _, ok := c.pmtAsm[pmtPID]; !ok {
				c.pmtAsm[pmtPID] = &psi.SectionAssembler{}
			}
		}
	}
}

func (c *TsCore) feedPMT(pkt tspacket.Packet) {
	if pkt.Payload == nil {
		return
	}
	asm := c.pmtAsm[pkt.PID]
	for _, section := range asm.Feed(pkt.Payload, pkt.PUSI) {
		pmt, err := psi.ParsePMT(section)
		if err != nil {
			continue
		}
		if c.programNumber != 0 && pmt.ProgramNumber != uint16(c.programNumber) {
			continue
		}
		if c.programNumber == 0 && c.program != nil && pmt.ProgramNumber != c.program.ProgramNumber {
			continue
		}
		next := psi.NewProgram(pmt)
		added, removed := psi.Diff(c.program, next)
		c.applyDiff(added, removed)
		c.program = next
		c.pcrPID = pmt.PCRPID
	}
}

// applyDiff wires a PMT's stream-added/stream-removed diff into the flat
// PID table.
func (c *TsCore) applyDiff(added, removed []psi.ElementaryStream) {
	for _, es := range removed {
		c.streams[es.PID] = nil
	}
	for _, es := range added {
		c.streams[es.PID] = &StreamHandle{
			PID:          es.PID,
			StreamType:   es.StreamType,
			Assembler:    pes.NewAssembler(es.PID),
			KeyframeKind: codec.KindForStreamType(es.StreamType),
		}
		c.emit(media.NewStatEvent(media.StatPIDDiscovered, es.PID, 0, int64(es.StreamType)))
	}
}

// Program returns the currently active program, nil before the first
// matching PMT is parsed.
func (c *TsCore) Program() *psi.Program {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.program
}

// PCRPID returns the active program's PCR_PID, 0 if no program yet.
func (c *TsCore) PCRPID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pcrPID
}

// handleFor returns the StreamHandle for pid, nil if undiscovered.
func (c *TsCore) handleFor(pid uint16) *StreamHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streams[pid]
}

// videoStream returns the first discovered PID whose stream_type names
// a key-frame-detectable video codec, used by Seek's refinement step.
func (c *TsCore) videoStream() (uint16, codec.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.streams {
		if h != nil && h.KeyframeKind != codec.KindUnknown {
			return h.PID, h.KeyframeKind
		}
	}
	return 0, codec.KindUnknown
}

// Flush force-completes every per-PID assembler, used at end of stream
// and when a seek resyncs the read cursor.
func (c *TsCore) Flush() []pes.Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	var units []pes.Unit
	for _, h := range c.streams {
		if h == nil {
			continue
		}
		if u, ok := h.Assembler.Flush(); ok {
			units = append(units, u)
		}
	}
	return units
}

// resetFramer discards buffered packet bytes and re-detects stride
// fresh, used after a seek repositions the read cursor.
func (c *TsCore) resetFramer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.framer = tspacket.NewFramer(nil)
}
