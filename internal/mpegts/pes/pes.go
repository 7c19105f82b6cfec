// Package pes implements a per-PID state machine that reassembles PES
// packets, parses PES headers for PTS/DTS, and emits elementary-stream
// access units.
package pes

import (
	"github.com/mediacore/mediacore/internal/streamerr"
	"github.com/mediacore/mediacore/pkg/clockconv"
)

// State is the per-PID assembler state.
type State int

const (
	StateEmpty State = iota
	StateHeader
	StateBuffer
	StateDiscont
)

// maxPendingPackets bounds the header-accumulation buffer; overflow is
// treated as a discontinuity rather than growing unbounded.
const maxPendingPackets = 256

// Unit is one fully reassembled elementary-stream access unit.
type Unit struct {
	PID           uint16
	Data          []byte
	PTS           *int64 // nanoseconds, nil if not present
	DTS           *int64
	Discontinuity bool
}

// Assembler reassembles one PID's PES stream.
type Assembler struct {
	pid     uint16
	state   State
	pending [][]byte // packets accumulated while parsing the header
	group   []byte   // payload bytes of the unit currently being built
	pts     *int64
	dts     *int64
	discontinuity bool
}

// NewAssembler creates an Assembler for pid.
func NewAssembler(pid uint16) *Assembler {
	return &Assembler{pid: pid, state: StateEmpty}
}

// Feed processes one TS packet's payload. It returns a completed Unit
// and ok=true when a PUSI boundary flushes the previously accumulated
// group downstream and re-enters the header state with the new packet.
func (a *Assembler) Feed(payload []byte, pusi bool) (Unit, bool) {
	switch a.state {
	case StateEmpty, StateDiscont:
		if !pusi {
			a.state = StateDiscont
			return Unit{}, false
		}
		a.enterHeader(payload)
		return Unit{}, false

	case StateHeader:
		if pusi {
			// A new unit starts before the previous header ever
			// completed: discard the abandoned header bytes.
			a.enterHeader(payload)
			return Unit{}, false
		}
		a.pending = append(a.pending, payload)
		if len(a.pending) > maxPendingPackets {
			a.reset(true)
			return Unit{}, false
		}
		a.tryParseHeader()
		return Unit{}, false

	case StateBuffer:
		if pusi {
			flushed := a.flush()
			a.enterHeader(payload)
			return flushed, true
		}
		a.group = append(a.group, payload...)
		return Unit{}, false
	}
	return Unit{}, false
}

// Flush force-completes whatever unit is in progress, used at end of
// stream or when a seek flushes every per-stream assembler.
func (a *Assembler) Flush() (Unit, bool) {
	if a.state != StateBuffer || len(a.group) == 0 {
		a.reset(a.discontinuity)
		return Unit{}, false
	}
	u := a.flush()
	return u, true
}

func (a *Assembler) enterHeader(first []byte) {
	wasDiscont := a.state == StateDiscont
	a.state = StateHeader
	a.pending = [][]byte{first}
	a.group = nil
	a.pts = nil
	a.dts = nil
	a.discontinuity = wasDiscont
	a.tryParseHeader()
}

func (a *Assembler) tryParseHeader() {
	joined := joinPackets(a.pending)
	hdr, payloadStart, ok, err := parseHeader(joined)
	if err != nil {
		a.reset(true)
		return
	}
	if !ok {
		return // need more bytes
	}
	a.pts = hdr.PTS
	a.dts = hdr.DTS
	a.group = append([]byte(nil), joined[payloadStart:]...)
	a.pending = nil
	a.state = StateBuffer
}

func (a *Assembler) flush() Unit {
	u := Unit{
		PID:           a.pid,
		Data:          a.group,
		PTS:           a.pts,
		DTS:           a.dts,
		Discontinuity: a.discontinuity,
	}
	a.group = nil
	a.discontinuity = false
	return u
}

func (a *Assembler) reset(discontinuity bool) {
	a.state = StateDiscont
	a.pending = nil
	a.group = nil
	a.pts = nil
	a.dts = nil
	a.discontinuity = discontinuity
}

func joinPackets(pending [][]byte) []byte {
	if len(pending) == 1 {
		return pending[0]
	}
	var total int
	for _, p := range pending {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range pending {
		out = append(out, p...)
	}
	return out
}

type pesHeader struct {
	StreamID byte
	PTS      *int64
	DTS      *int64
}

// parseHeader parses a PES header from the start of buf. ok is false
// when buf doesn't yet hold PES_header_data_length bytes (need more
// packets); err is non-nil only for a structurally invalid start code.
func parseHeader(buf []byte) (hdr pesHeader, payloadStart int, ok bool, err error) {
	if len(buf) < 9 {
		return pesHeader{}, 0, false, nil
	}
	if buf[0] != 0x00 || buf[1] != 0x00 || buf[2] != 0x01 {
		return pesHeader{}, 0, false, streamerr.New(streamerr.KindMalformedTS, "bad PES start code")
	}
	hdr.StreamID = buf[3]
	headerDataLen := int(buf[8])
	total := 9 + headerDataLen
	if len(buf) < total {
		return pesHeader{}, 0, false, nil
	}

	ptsDTSFlags := (buf[7] >> 6) & 0x03
	cursor := 9
	if ptsDTSFlags == 0x02 && cursor+5 <= total {
		v := decodeTimestamp(buf[cursor : cursor+5])
		ns := clockconv.PTSToNs(v)
		hdr.PTS = &ns
		cursor += 5
	} else if ptsDTSFlags == 0x03 && cursor+10 <= total {
		v := decodeTimestamp(buf[cursor : cursor+5])
		ptsNs := clockconv.PTSToNs(v)
		hdr.PTS = &ptsNs
		cursor += 5
		v = decodeTimestamp(buf[cursor : cursor+5])
		dtsNs := clockconv.PTSToNs(v)
		hdr.DTS = &dtsNs
		cursor += 5
	}
	return hdr, total, true, nil
}

// decodeTimestamp decodes a 5-byte 33-bit PTS/DTS field per ISO/IEC
// 13818-1 §2.4.3.6.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]&0x0E)<<29 | int64(b[1])<<22 | int64(b[2]&0xFE)<<14 | int64(b[3])<<7 | int64(b[4]>>1)
}
