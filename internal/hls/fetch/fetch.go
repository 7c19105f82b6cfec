// Package fetch implements a single-flight-per-instance, retrying HTTP
// GET client with transparent content-encoding inflation.
package fetch

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/singleflight"

	"github.com/mediacore/mediacore/internal/streamerr"
)

// Config controls retry/backoff behavior.
type Config struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	RetryStatusCodes []int
}

func (c Config) normalize() Config {
	out := c
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = 500 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 3 * time.Second
	}
	if len(out.RetryStatusCodes) == 0 {
		out.RetryStatusCodes = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	return out
}

func (c Config) backoffFor(attempt int) time.Duration {
	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// Fetcher downloads a URI to an in-memory byte buffer. At most one fetch
// is ever in flight per Fetcher instance: concurrent callers for the
// same URI share one HTTP round trip through the singleflight group, and
// concurrent callers for different URIs wait on the flight mutex and run
// one after another.
type Fetcher struct {
	Client  *http.Client
	Headers http.Header
	Config  Config

	group  singleflight.Group
	flight sync.Mutex

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// New creates a Fetcher bound to client (http.DefaultClient if nil).
func New(client *http.Client, headers http.Header, cfg Config) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		Client:    client,
		Headers:   cloneHeader(headers),
		Config:    cfg.normalize(),
		cancelled: make(chan struct{}),
	}
}

// Cancel makes every blocked and future Fetch call return Cancelled
// promptly. It is idempotent and safe to call from any goroutine.
func (f *Fetcher) Cancel() {
	f.cancelOnce.Do(func() { close(f.cancelled) })
}

// Fetch downloads uri, retrying transient transport/HTTP errors with
// exponential-ish backoff. HTTP >=400 responses are discarded entirely —
// callers never observe a partial success.
func (f *Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if uri == "" {
		return nil, streamerr.New(streamerr.KindNotFoundURI, "empty URI")
	}
	select {
	case <-f.cancelled:
		return nil, streamerr.Sentinel(streamerr.KindCancelled)
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.cancelled:
			cancel()
		case <-ctx.Done():
		}
	}()

	v, err, _ := f.group.Do(uri, func() (interface{}, error) {
		f.flight.Lock()
		defer f.flight.Unlock()
		return f.doFetch(ctx, uri)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) doFetch(ctx context.Context, uri string) ([]byte, error) {
	cfg := f.Config
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-f.cancelled:
			return nil, streamerr.Sentinel(streamerr.KindCancelled)
		case <-ctx.Done():
			return nil, streamerr.Sentinel(streamerr.KindCancelled)
		default:
		}

		body, err := f.attempt(ctx, uri)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !f.isRetryable(err) || attempt == cfg.MaxRetries {
			break
		}
		if waitErr := f.waitBackoff(ctx, cfg.backoffFor(attempt)); waitErr != nil {
			return nil, waitErr
		}
	}
	return nil, classify(lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.KindBadURI, "bad URI", err)
	}
	applyHeaders(req, f.Headers)

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, streamerr.Sentinel(streamerr.KindCancelled)
		}
		return nil, streamerr.Wrap(streamerr.KindTransportError, "transport error", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, streamerr.New(streamerr.KindNotFoundURI, fmt.Sprintf("status=%d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		// The body is discarded unread: partial success is never surfaced.
		return nil, &httpStatusError{StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	reader, err := decodingReader(resp)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.KindTransportError, "unsupported content-encoding", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, streamerr.Wrap(streamerr.KindTransportError, "read body", err)
	}
	return data, nil
}

func decodingReader(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return nil, fmt.Errorf("unsupported content-encoding %q", resp.Header.Get("Content-Encoding"))
	}
}

type httpStatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status=%d", e.StatusCode)
}

func (f *Fetcher) isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		for _, code := range f.Config.RetryStatusCodes {
			if statusErr.StatusCode == code {
				return true
			}
		}
		return false
	}
	var se *streamerr.Error
	if errors.As(err, &se) && se.Kind == streamerr.KindNotFoundURI {
		return false
	}
	return true
}

func (f *Fetcher) waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return streamerr.Sentinel(streamerr.KindCancelled)
	case <-f.cancelled:
		return streamerr.Sentinel(streamerr.KindCancelled)
	case <-timer.C:
		return nil
	}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *streamerr.Error
	if errors.As(err, &se) {
		return se
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return streamerr.Wrap(streamerr.KindTransportError, "http error", statusErr)
	}
	return streamerr.Wrap(streamerr.KindTransportError, "transport error", err)
}

func parseRetryAfter(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(raw); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	out := make(http.Header, len(h))
	for k, vals := range h {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out[k] = cp
	}
	return out
}

func applyHeaders(req *http.Request, headers http.Header) {
	for k, vals := range headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
}
