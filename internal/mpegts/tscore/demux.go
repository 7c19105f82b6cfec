package tscore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mediacore/mediacore/internal/media"
	"github.com/mediacore/mediacore/internal/mpegts/codec"
	"github.com/mediacore/mediacore/internal/mpegts/pcrindex"
	"github.com/mediacore/mediacore/internal/mpegts/pes"
	"github.com/mediacore/mediacore/internal/mpegts/psi"
	"github.com/mediacore/mediacore/internal/mpegts/tspacket"
	"github.com/mediacore/mediacore/internal/streamerr"
)

// pullChunkPackets bounds one pull-mode read, the same 50-packet chunk
// size pcrindex.Build reads by.
const pullChunkPackets = 50

// Config configures a TsDemux.
type Config struct {
	ProgramNumber int
	BuildIndex    bool
}

// TsDemux layers PES assembly and PCR indexing/seeking over TsCore. It
// implements media.Sink for push-mode ingestion (Write) and
// media.Source for pulling demuxed buffers (Next); when opened over
// an io.ReaderAt with Config.BuildIndex set it additionally builds a PCR
// index and supports Seek.
type TsDemux struct {
	id  ulid.ULID
	log *slog.Logger

	mu      sync.Mutex
	core    *TsCore
	pending []media.Buffer

	src     io.ReaderAt
	size    int64
	readPos int64
	index   *pcrindex.Index
}

var (
	_ media.Sink   = (*TsDemux)(nil)
	_ media.Source = (*TsDemux)(nil)
)

// ID returns the instance correlation ID assigned at construction.
func (d *TsDemux) ID() ulid.ULID { return d.id }

// NewPush creates a push-mode TsDemux fed via Write.
func NewPush(cfg Config, log *slog.Logger) *TsDemux {
	if log == nil {
		log = slog.Default()
	}
	id := ulid.Make()
	return &TsDemux{id: id, log: log.With("tsd_id", id), core: NewTsCore(cfg.ProgramNumber, log)}
}

// OpenPull creates a pull-mode TsDemux over src (size bytes long),
// building a PCR index up front when cfg.BuildIndex is set.
func OpenPull(ctx context.Context, src io.ReaderAt, size int64, cfg Config, log *slog.Logger) (*TsDemux, error) {
	d := NewPush(cfg, log)
	d.src = src
	d.size = size

	if cfg.BuildIndex {
		idx, err := pcrindex.Build(src, size, pcrindex.BuildConfig{ProgramNumber: cfg.ProgramNumber})
		if err != nil {
			return nil, err
		}
		d.index = idx
		d.log.Info("PCR index built", "first_pcr", idx.First().PCR, "last_pcr", idx.Last().PCR, "duration_ns", idx.Duration())
	}

	d.log.Info("TSD opened", "size", size, "pull", true)
	return d, nil
}

// Write implements media.Sink: it feeds p to the core and enqueues any
// elementary-stream units produced.
func (d *TsDemux) Write(ctx context.Context, p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueueLocked(d.core.Feed(p))
	return len(p), nil
}

// Next implements media.Source: it pops the next demuxed buffer,
// pulling more source bytes (in pull mode) as needed.
func (d *TsDemux) Next(ctx context.Context) (media.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for len(d.pending) == 0 {
		if err := d.pullMoreLocked(ctx); err != nil {
			return media.Buffer{}, err
		}
	}
	b := d.pending[0]
	d.pending = d.pending[1:]
	return b, nil
}

// pullMoreLocked reads one more chunk from src (pull mode only) and
// enqueues whatever units it produces; it returns io.EOF once the
// source and every assembler are drained.
func (d *TsDemux) pullMoreLocked(ctx context.Context) error {
	if d.src == nil {
		return io.EOF // push mode: caller must Write more before calling Next again
	}
	if d.readPos >= d.size {
		units := d.core.Flush()
		if len(units) == 0 {
			return io.EOF
		}
		d.enqueueLocked(units)
		return nil
	}

	want := int64(pullChunkPackets) * tspacket.PacketSize188
	if d.readPos+want > d.size {
		want = d.size - d.readPos
	}
	buf := make([]byte, want)
	n, err := d.src.ReadAt(buf, d.readPos)
	if err != nil && err != io.EOF {
		return streamerr.Wrap(streamerr.KindTransportError, "read TS source", err)
	}
	d.readPos += int64(n)
	d.enqueueLocked(d.core.Feed(buf[:n]))
	if n == 0 {
		return io.EOF
	}
	return nil
}

func (d *TsDemux) enqueueLocked(units []pes.Unit) {
	for _, u := range units {
		b := media.Buffer{
			Data:          u.Data,
			Discontinuity: u.Discontinuity,
			PID:           u.PID,
		}
		if u.PTS != nil {
			b.PTS = time.Duration(*u.PTS)
		}
		if u.DTS != nil {
			b.DTS = time.Duration(*u.DTS)
		}
		if h := d.core.handleFor(u.PID); h != nil {
			b.KeyFrame = codec.IsKeyframe(h.KeyframeKind, u.Data)
		}
		d.pending = append(d.pending, b)
	}
}

// Program returns the currently active program, nil before the first
// PMT is parsed.
func (d *TsDemux) Program() *psi.Program { return d.core.Program() }

// Seekable reports whether Seek is available: a PCR index was built at
// Open time, so only pull-mode demuxers support it.
func (d *TsDemux) Seekable() bool { return d.index != nil }

// Seek performs a PCR-indexed seek to targetNs and resets demuxer state
// to resume decoding from the refined byte offset, flushing every
// per-stream assembler and resuming framing fresh.
func (d *TsDemux) Seek(ctx context.Context, targetNs time.Duration, accurate bool) (pcrindex.SeekResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index == nil {
		return pcrindex.SeekResult{}, streamerr.New(streamerr.KindSeekFailed, "TsDemux opened without a PCR index")
	}

	videoPID, videoKind := d.core.videoStream()
	result, err := pcrindex.Seek(d.src, d.index, int64(targetNs), accurate, videoPID, videoKind)
	if err != nil {
		return pcrindex.SeekResult{}, err
	}

	d.core.Flush()
	d.core.resetFramer()
	d.pending = nil
	d.readPos = alignDown(result.Offset)

	return result, nil
}

// Close flushes every pending assembler and releases the instance.
func (d *TsDemux) Close(cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enqueueLocked(d.core.Flush())
	if d.log != nil {
		d.log.Info("TSD closed", "cause", cause)
	}
	return nil
}

func alignDown(off int64) int64 {
	return (off / tspacket.PacketSize188) * tspacket.PacketSize188
}
