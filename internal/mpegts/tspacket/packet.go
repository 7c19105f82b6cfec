// Package tspacket frames raw bytes into 188- or 192-byte MPEG
// transport packets, resynchronising on the 0x47 sync byte, and decodes
// packet and adaptation-field headers (including PCR/OPCR).
package tspacket

import (
	"io"

	"github.com/mediacore/mediacore/internal/streamerr"
)

const (
	// SyncByte is the fixed TS packet sync byte.
	SyncByte = 0x47
	// PacketSize188 is the plain ISO/IEC 13818-1 transport packet size.
	PacketSize188 = 188
	// PacketSize192 is the M2TS packet size: a 4-byte timestamp prefix
	// followed by one 188-byte transport packet.
	PacketSize192 = 192
	// m2tsPrefixLen is the leading byte count stripped from every M2TS frame.
	m2tsPrefixLen = 4
)

// AdaptationFieldControl is the 2-bit AFC value from the TS header.
type AdaptationFieldControl byte

const (
	AFCReserved        AdaptationFieldControl = 0b00
	AFCPayloadOnly     AdaptationFieldControl = 0b01
	AFCAdaptationOnly  AdaptationFieldControl = 0b10
	AFCAdaptationAndPL AdaptationFieldControl = 0b11
)

// Packet is one decoded 188-byte transport packet (the M2TS prefix, if
// any, has already been stripped).
type Packet struct {
	Raw                     []byte // the full 188 logical bytes
	PID                     uint16
	TransportErrorIndicator bool
	PUSI                    bool
	TransportPriority       bool
	AFC                     AdaptationFieldControl
	ContinuityCounter       byte
	DiscontinuityIndicator  bool
	RandomAccessIndicator   bool
	PCR                     *int64 // 27MHz ticks, nil if PCR_flag unset
	OPCR                    *int64
	Payload                 []byte // nil when AFC carries no payload
}

// HasAdaptation reports whether AFC names an adaptation field.
func (p Packet) HasAdaptation() bool {
	return p.AFC == AFCAdaptationOnly || p.AFC == AFCAdaptationAndPL
}

// HasPayload reports whether AFC names a payload.
func (p Packet) HasPayload() bool {
	return p.AFC == AFCPayloadOnly || p.AFC == AFCAdaptationAndPL
}

// ErrNeedMore signals that the buffer ends mid-packet; the caller should
// append more bytes and retry.
var ErrNeedMore = streamerr.New(streamerr.KindMalformedTS, "need more bytes")

// Framer frames a byte buffer into TS packets, detecting 188- vs
// 192-byte stride by scanning for three consecutive aligned sync bytes.
type Framer struct {
	data       []byte
	pos        int
	packetSize int // 0 until detected; 188 or 192
}

// NewFramer creates a Framer over data. Detection happens lazily on the
// first Next call so a Framer can be constructed before any bytes are
// available.
func NewFramer(data []byte) *Framer {
	return &Framer{data: data}
}

// Feed appends more bytes, for callers operating in push/streaming mode.
func (f *Framer) Feed(p []byte) {
	f.data = append(f.data, p...)
}

// Next returns the next decoded packet, io.EOF at clean end of buffer,
// ErrNeedMore if the trailing bytes are an incomplete packet, or a
// MalformedTS error for an unrecoverable resync failure.
func (f *Framer) Next() (Packet, error) {
	if f.packetSize == 0 {
		if err := f.detectStride(); err != nil {
			return Packet{}, err
		}
	}
	return f.nextAtStride()
}

func (f *Framer) nextAtStride() (Packet, error) {
	for {
		if f.pos >= len(f.data) {
			return Packet{}, io.EOF
		}
		remaining := len(f.data) - f.pos
		if remaining < f.packetSize {
			return Packet{}, ErrNeedMore
		}
		frame := f.data[f.pos : f.pos+f.packetSize]
		logical := frame
		if f.packetSize == PacketSize192 {
			logical = frame[m2tsPrefixLen:]
		}
		if logical[0] != SyncByte {
			// Lost sync mid-stream: bad packet, skipped without advancing
			// higher-level state.
			f.pos++
			f.packetSize = 0
			if err := f.detectStride(); err != nil {
				return Packet{}, err
			}
			continue
		}
		f.pos += f.packetSize
		return decodePacket(logical)
	}
}

// detectStride scans forward for three consecutive sync bytes spaced
// 188 or 192 bytes apart, resyncing past any leading garbage.
func (f *Framer) detectStride() error {
	for i := f.pos; i < len(f.data); i++ {
		if f.data[i] != SyncByte {
			continue
		}
		if tripleSyncAt(f.data, i, PacketSize188) {
			f.pos = i
			f.packetSize = PacketSize188
			return nil
		}
		if i >= m2tsPrefixLen && tripleSyncAt(f.data, i, PacketSize192) {
			f.pos = i - m2tsPrefixLen
			f.packetSize = PacketSize192
			return nil
		}
	}
	return ErrNeedMore
}

func tripleSyncAt(data []byte, i, stride int) bool {
	if i+2*stride >= len(data) {
		return false
	}
	return data[i+stride] == SyncByte && data[i+2*stride] == SyncByte
}

func decodePacket(logical []byte) (Packet, error) {
	if len(logical) != PacketSize188 {
		return Packet{}, streamerr.New(streamerr.KindMalformedTS, "short packet")
	}
	p := Packet{
		Raw:                     logical,
		TransportErrorIndicator: logical[1]&0x80 != 0,
		PUSI:                    logical[1]&0x40 != 0,
		TransportPriority:       logical[1]&0x20 != 0,
		PID:                     uint16(logical[1]&0x1F)<<8 | uint16(logical[2]),
		AFC:                     AdaptationFieldControl((logical[3] >> 4) & 0x03),
		ContinuityCounter:       logical[3] & 0x0F,
	}

	offset := 4
	if p.HasAdaptation() {
		afLen := int(logical[4])
		afStart := 5
		if afLen > 0 {
			flags := logical[afStart]
			p.DiscontinuityIndicator = flags&0x80 != 0
			p.RandomAccessIndicator = flags&0x40 != 0
			pcrFlag := flags&0x10 != 0
			opcrFlag := flags&0x08 != 0
			cursor := afStart + 1
			if pcrFlag && cursor+6 <= len(logical) {
				v := decodePCR(logical[cursor : cursor+6])
				p.PCR = &v
				cursor += 6
			}
			if opcrFlag && cursor+6 <= len(logical) {
				v := decodePCR(logical[cursor : cursor+6])
				p.OPCR = &v
				cursor += 6
			}
		}
		offset = afStart + afLen
	}
	if p.HasPayload() && offset < len(logical) {
		p.Payload = logical[offset:]
	}
	return p, nil
}

// decodePCR decodes the 33-bit base + 9-bit extension PCR field per
// ISO/IEC 13818-1: pcr_27mhz = base*300 + ext.
func decodePCR(b []byte) int64 {
	base := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4]>>7)
	ext := int64(b[4]&0x01)<<8 | int64(b[5])
	return base*300 + ext
}
