// Package hls implements the HLS Segment Orchestrator (HSO): given a
// master playlist URI, it selects a starting variant, runs the C3
// Segment Pipeline, and exposes the result as a media.Source.
package hls

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mediacore/mediacore/internal/hls/fetch"
	"github.com/mediacore/mediacore/internal/hls/pipeline"
	"github.com/mediacore/mediacore/internal/hls/playlist"
	"github.com/mediacore/mediacore/internal/media"
	"github.com/mediacore/mediacore/internal/streamerr"
)

// Config collects the HSO's configuration options.
type Config struct {
	FragmentsCache         int
	BitrateSwitchTolerance float64
	MaxSegmentBytes        int64
	Headers                map[string][]string
	Fetch                  fetch.Config
}

// HSO orchestrates one HLS master playlist as a media.Source.
type HSO struct {
	id       uuid.UUID // correlation ID for logging, one per HSO instance
	log      *slog.Logger
	fetcher  *fetch.Fetcher
	master   *playlist.Master
	pipeline *pipeline.Pipeline
}

// ID returns the instance correlation ID assigned at Open.
func (h *HSO) ID() uuid.UUID { return h.id }

var _ media.Source = (*HSO)(nil)

// Open fetches and parses the master playlist at uri and starts the
// Segment Pipeline on the lowest-bandwidth variant.
//
// A live master (no variant carries #EXT-X-ENDLIST) requires uri to be
// an absolute, fetchable base, because every subsequent refresh
// resolves relative segment URIs against it.
func Open(ctx context.Context, httpClient *http.Client, uri string, cfg Config) (*HSO, error) {
	id := uuid.New()
	log := slog.Default().With("hso_id", id)

	f := fetch.New(httpClient, cfg.Headers, cfg.Fetch)

	body, err := f.Fetch(ctx, uri)
	if err != nil {
		log.Error("fetch master playlist failed", "uri", uri, "error", err)
		return nil, streamerr.Wrap(streamerr.KindTransportError, "fetch master playlist", err)
	}
	master, err := playlist.Parse(string(body), uri)
	if err != nil {
		return nil, err
	}

	startIdx := lowestBandwidthIndex(master)
	p, err := pipeline.New(pipeline.Config{
		FragmentsCache:         cfg.FragmentsCache,
		BitrateSwitchTolerance: cfg.BitrateSwitchTolerance,
		MaxSegmentBytes:        cfg.MaxSegmentBytes,
	}, f, master, startIdx)
	if err != nil {
		return nil, err
	}
	if err := p.Start(ctx); err != nil {
		return nil, err
	}

	log.Info("HSO started", "uri", uri, "variants", len(master.Variants))
	return &HSO{id: id, log: log, fetcher: f, master: master, pipeline: p}, nil
}

func lowestBandwidthIndex(m *playlist.Master) int {
	// Master.Variants is sorted ascending by bandwidth (playlist.Parse),
	// so index 0 is the lowest rendition.
	return 0
}

// Next implements media.Source: it pops the next cached segment,
// translating it into a Buffer. PTS/DTS are left zero — HLS segments
// carry their own internal timestamps, resolved once demuxed by TSD.
func (h *HSO) Next(ctx context.Context) (media.Buffer, error) {
	seg, err := h.pipeline.Next()
	if err != nil {
		if err == io.EOF {
			return media.Buffer{}, io.EOF
		}
		return media.Buffer{}, err
	}
	return media.Buffer{
		Data:          seg.Data,
		Duration:      seg.Duration,
		Discontinuity: seg.Discontinuity,
	}, nil
}

// Events returns the out-of-band variant-switch notification channel.
func (h *HSO) Events() <-chan pipeline.Event { return h.pipeline.Events() }

// URI answers the current-variant URI query.
func (h *HSO) URI() string { return h.pipeline.CurrentVariantURI() }

// Duration answers the DURATION query: only defined once the current
// variant has seen #EXT-X-ENDLIST.
func (h *HSO) Duration() (time.Duration, bool) { return h.pipeline.Duration() }

// Seekable reports false always: HLS playback has no random-access seek.
func (h *HSO) Seekable() bool { return false }

// Close stops the pipeline and releases the Fetcher's in-flight state.
func (h *HSO) Close(cause error) error {
	h.pipeline.Stop()
	if h.log != nil {
		h.log.Info("HSO closed", "cause", cause)
	}
	return nil
}
