// Package pipeline runs the cooperating Emitter/Updater tasks that
// prefetch, cache, adapt bitrate, and deliver HLS media segments in
// order over a context-cancellable channel pipeline.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mediacore/mediacore/internal/hls/fetch"
	"github.com/mediacore/mediacore/internal/hls/playlist"
	"github.com/mediacore/mediacore/internal/streamerr"
)

// Config holds the pipeline's tunable parameters.
type Config struct {
	FragmentsCache         int     // >=2, default 3
	BitrateSwitchTolerance float64 // [0,1], default 0.4
	MaxSegmentBytes        int64   // 0 disables the guard
}

func (c Config) normalize() Config {
	out := c
	if out.FragmentsCache < 2 {
		out.FragmentsCache = 3
	}
	if out.BitrateSwitchTolerance <= 0 || out.BitrateSwitchTolerance > 1 {
		out.BitrateSwitchTolerance = 0.4
	}
	return out
}

// EventKind classifies an out-of-band pipeline notification.
type EventKind int

const (
	EventVariantSwitch EventKind = iota
)

// Event is the out-of-band notification emitted on variant switches.
type Event struct {
	Kind       EventKind
	VariantURI string
	Bitrate    int64
}

// Pipeline drives the Emitter/Updater pair over one playlist.Master.
type Pipeline struct {
	cfg     Config
	fetcher *fetch.Fetcher
	master  *playlist.Master
	cs      *playlist.ClientState
	queue   *CacheQueue
	events  chan Event
	adapt   adaptationState

	mu       sync.Mutex
	state    EmitterState
	fatalErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pipeline starting on the variant at startIdx (0 is
// lowest bandwidth).
func New(cfg Config, fetcher *fetch.Fetcher, master *playlist.Master, startIdx int) (*Pipeline, error) {
	cfg = cfg.normalize()
	cs, err := playlist.NewClientState(master, startIdx, cfg.FragmentsCache)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:     cfg,
		fetcher: fetcher,
		master:  master,
		cs:      cs,
		queue:   NewCacheQueue(cfg.FragmentsCache),
		events:  make(chan Event, 16),
		adapt:   adaptationState{tolerance: cfg.BitrateSwitchTolerance},
		state:   Idle,
	}, nil
}

// Events returns the read side of the out-of-band notification channel.
func (p *Pipeline) Events() <-chan Event { return p.events }

// State reports the Emitter's current state.
func (p *Pipeline) State() EmitterState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s EmitterState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) setFatal(err error) {
	p.mu.Lock()
	if p.fatalErr == nil {
		p.fatalErr = err
	}
	p.mu.Unlock()
}

// Start fills the CacheQueue to FragmentsCache-1 and launches the
// Updater. A failure to cache the initial fragments is fatal.
func (p *Pipeline) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.setState(Caching)

	for i := 0; i < p.cfg.FragmentsCache-1; i++ {
		seg, err := p.fetchNext()
		if err != nil {
			if errors.Is(err, playlist.ErrEndOfPlaylist) {
				p.queue.SetEndOfPlaylist()
				break
			}
			p.setState(Stopped)
			return streamerr.Wrap(streamerr.KindFragmentFetchFailed, "could not cache first fragments", err)
		}
		if !p.queue.Push(seg) {
			p.setState(Stopped)
			return streamerr.Sentinel(streamerr.KindCancelled)
		}
	}

	p.setState(Running)
	p.wg.Add(1)
	go p.updaterLoop()
	return nil
}

// Stop triggers cancellation observable by both the Emitter's
// empty-queue wait and the Fetcher's in-flight wait, then waits for the
// Updater goroutine to exit.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.queue.Cancel()
	p.fetcher.Cancel()
	p.wg.Wait()
	p.setState(Stopped)
}

// Next pops the head of the CacheQueue. It returns io.EOF once the
// queue has drained after end-of-playlist, or the Updater's recorded
// fatal error if one occurred mid-stream.
func (p *Pipeline) Next() (CachedSegment, error) {
	seg, ok := p.queue.Pop()
	if !ok {
		p.mu.Lock()
		err := p.fatalErr
		p.mu.Unlock()
		p.setState(Stopped)
		if err != nil {
			return CachedSegment{}, err
		}
		return CachedSegment{}, io.EOF
	}
	return seg, nil
}

func (p *Pipeline) fetchNext() (CachedSegment, error) {
	p.mu.Lock()
	seg, err := p.cs.NextSegment()
	variantURI := p.cs.Current.URI
	p.mu.Unlock()
	if err != nil {
		return CachedSegment{}, err
	}
	data, err := p.fetcher.Fetch(p.ctx, seg.URI)
	if err != nil {
		return CachedSegment{}, streamerr.Wrap(streamerr.KindFragmentFetchFailed, "fetch segment", err)
	}
	if p.cfg.MaxSegmentBytes > 0 && int64(len(data)) > p.cfg.MaxSegmentBytes {
		return CachedSegment{}, streamerr.New(streamerr.KindFragmentFetchFailed, "segment exceeds configured max_segment_bytes")
	}
	return CachedSegment{
		ID:            ulid.Make(),
		Data:          data,
		Duration:      seg.Duration,
		Discontinuity: seg.Discontinuity,
		VariantURI:    variantURI,
	}, nil
}

func (p *Pipeline) refreshCurrent() {
	p.mu.Lock()
	uri := p.cs.Current.URI
	p.mu.Unlock()

	text, err := p.fetcher.Fetch(p.ctx, uri)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		// Recoverable: counted, retried next cycle.
		p.cs.UpdateFailedCount++
		return
	}
	p.cs.Update(string(text), uri)
}

// CurrentVariantURI answers the HSO's URI query: the current variant.
func (p *Pipeline) CurrentVariantURI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cs.Current.URI
}

// Duration answers the HSO's DURATION query: defined only when the
// current variant carries #EXT-X-ENDLIST.
func (p *Pipeline) Duration() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cs.Current.Duration()
}

// IsLive answers whether the current variant is still open-ended.
func (p *Pipeline) IsLive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cs.Current.IsLive()
}

func (p *Pipeline) updaterLoop() {
	defer p.wg.Done()

	nextUpdate := time.Now()
	for {
		if !p.sleepUntil(nextUpdate) {
			return
		}

		p.mu.Lock()
		isLive := p.cs.Current.IsLive()
		p.mu.Unlock()
		if isLive {
			p.refreshCurrent()
		}

		p.mu.Lock()
		factor := refreshFactor(p.cs.UpdateFailedCount)
		targetDuration := p.cs.Current.TargetDuration
		p.mu.Unlock()
		nextUpdate = time.Now().Add(time.Duration(float64(targetDuration) * factor))
		scheduledTime := nextUpdate

		seg, err := p.fetchNext()
		if err != nil {
			if errors.Is(err, playlist.ErrEndOfPlaylist) {
				p.queue.SetEndOfPlaylist()
				return
			}
			// Fatal to the Updater; the Emitter still finishes draining
			// whatever is already cached before observing EOS.
			p.setFatal(streamerr.Wrap(streamerr.KindFragmentFetchFailed, "fragment fetch failed mid-stream", err))
			p.queue.SetEndOfPlaylist()
			return
		}
		if !p.queue.Push(seg) {
			return // cancelled
		}

		d := time.Until(scheduledTime)
		if dir := p.adapt.adapt(d, targetDuration); dir != 0 {
			p.switchVariant(dir)
		}
	}
}

// sleepUntil waits for deadline or cancellation, returning false if the
// pipeline was cancelled first.
func (p *Pipeline) sleepUntil(deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-p.ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (p *Pipeline) switchVariant(dir int) {
	p.mu.Lock()
	next, ok := stepVariant(p.master, p.cs.Current, dir)
	if !ok {
		p.mu.Unlock()
		return
	}
	p.cs.SwitchVariant(next)
	p.mu.Unlock()
	p.emit(Event{Kind: EventVariantSwitch, VariantURI: next.URI, Bitrate: next.Bandwidth})
}

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		// Out-of-band channel is observational; a slow consumer must
		// never stall the Updater.
	}
}
