// Package media defines the Sink/Source façade shared by the HLS Segment
// Orchestrator and the MPEG-TS Demultiplexer & Indexer, standing in for
// the pad/event abstractions an embedding media framework would
// otherwise provide.
package media

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Buffer is one unit of output from a Source: either a fetched HLS
// segment or a demuxed PES/elementary-stream access unit.
type Buffer struct {
	Data          []byte
	PTS           time.Duration // presentation timestamp, stream-time domain
	DTS           time.Duration
	Duration      time.Duration
	Discontinuity bool
	KeyFrame      bool
	PID           uint16 // 0 when not applicable (HLS segments)
}

// Sink accepts buffers pushed by a producer (TSD's push-mode input).
type Sink interface {
	Write(ctx context.Context, p []byte) (int, error)
	Close(cause error) error
}

// Source is implemented by both HSO and TSD: a pull-mode iterator over
// Buffers, terminated by io.EOF.
type Source interface {
	Next(ctx context.Context) (Buffer, error)
}

// StatKind classifies an emit-stats notification.
type StatKind int

const (
	StatBytesProcessed StatKind = iota
	StatSegmentFetched
	StatVariantSwitch
	StatPIDDiscovered
	StatPCRDiscontinuity
	StatPacketDropped
)

// StatEvent is a typed emit-stats notification, delivered on a channel
// and mirrored into prometheus counters by internal/metrics.
type StatEvent struct {
	ID     ulid.ULID
	PID    uint16
	Offset int64
	Kind   StatKind
	Value  int64
}

// NewStatEvent stamps a StatEvent with a fresh ULID, for callers that
// forward events into internal/metrics or a log sink where ordering by
// ID should match emission order.
func NewStatEvent(kind StatKind, pid uint16, offset, value int64) StatEvent {
	return StatEvent{ID: ulid.Make(), Kind: kind, PID: pid, Offset: offset, Value: value}
}
