// Package playlist parses RFC 8216 M3U8 text into a variant tree and
// advances a per-client cursor across live refreshes.
package playlist

import (
	"bufio"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mediacore/mediacore/internal/streamerr"
)

// MediaSegment is one fetchable fragment referenced by a media playlist.
type MediaSegment struct {
	URI            string
	Duration       time.Duration
	Discontinuity  bool
	Sequence       int64 // monotonic media-sequence number within the variant
	ByteRangeStart int64 // 0 when not present
	ByteRangeLen   int64 // 0 when not present (whole-resource fetch)
	ProgramDate    time.Time
}

// Variant is one bitrate rendition of the stream.
type Variant struct {
	URI            string
	Bandwidth      int64
	AverageBW      int64
	Codecs         string
	Resolution     string
	Segments       []MediaSegment
	TargetDuration time.Duration
	MediaSeqBase   int64 // #EXT-X-MEDIA-SEQUENCE of the most recent load
	EndList        bool
	Version        int
	AllowCache     bool
}

// IsLive reports whether the variant has no #EXT-X-ENDLIST, i.e. more
// segments may still appear on refresh.
func (v *Variant) IsLive() bool { return !v.EndList }

// Duration is defined only when EndList is present.
func (v *Variant) Duration() (time.Duration, bool) {
	if !v.EndList {
		return 0, false
	}
	var total time.Duration
	for _, s := range v.Segments {
		total += s.Duration
	}
	return total, true
}

// Master holds every Variant discovered in a master playlist, sorted
// ascending by bandwidth, or a single synthetic Variant when the fetched
// document was itself a media playlist (no #EXT-X-STREAM-INF present).
type Master struct {
	Variants []*Variant
}

// ClientState tracks one consumer's position through a Variant's segment
// list across refreshes.
type ClientState struct {
	Master            *Master
	Current           *Variant
	NextSequence      int64
	UpdateFailedCount int
	cursorReset       bool // true until the first next_segment call after a switch/load
}

// ErrEndOfPlaylist is returned by NextSegment when the cursor has reached
// the end of a VOD (endlist) variant's segment list.
var ErrEndOfPlaylist = streamerr.New(streamerr.KindInvalidPlaylist, "end of playlist")

// defaultFragmentsCache is the live-start cursor depth used when a
// caller doesn't override it.
const defaultFragmentsCache = 3

// Parse parses playlist text fetched from uri into a Master. It requires
// a valid UTF-8 #EXTM3U leader, rejecting e.g. 404 HTML bodies that lack
// it outright.
func Parse(text, uri string) (*Master, error) {
	if !isValidUTF8(text) {
		return nil, streamerr.New(streamerr.KindInvalidPlaylist, "not valid UTF-8")
	}
	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "#EXTM3U" {
		return nil, streamerr.New(streamerr.KindInvalidPlaylist, "missing #EXTM3U leader")
	}

	isMaster := false
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "#EXT-X-STREAM-INF:") {
			isMaster = true
			break
		}
	}

	if isMaster {
		variants, err := parseMasterLines(lines, uri)
		if err != nil {
			return nil, err
		}
		sortVariantsByBandwidth(variants)
		return &Master{Variants: variants}, nil
	}

	v, err := parseMediaPlaylistLines(lines, uri)
	if err != nil {
		return nil, err
	}
	return &Master{Variants: []*Variant{v}}, nil
}

// NewClientState creates a client positioned on variant idx (0 is lowest
// bandwidth) of m, starting a live variant's cursor fragmentsCache
// segments behind the live edge. A fragmentsCache <= 0 falls back to
// defaultFragmentsCache.
func NewClientState(m *Master, idx int, fragmentsCache int) (*ClientState, error) {
	if idx < 0 || idx >= len(m.Variants) {
		return nil, streamerr.New(streamerr.KindInvalidPlaylist, "variant index out of range")
	}
	if fragmentsCache <= 0 {
		fragmentsCache = defaultFragmentsCache
	}
	cs := &ClientState{Master: m}
	cs.setCurrent(m.Variants[idx], fragmentsCache)
	return cs, nil
}

func (cs *ClientState) setCurrent(v *Variant, fragmentsCache int) {
	cs.Current = v
	cs.UpdateFailedCount = 0
	cs.cursorReset = true
	if v.IsLive() {
		start := len(v.Segments) - fragmentsCache
		if start < 0 {
			start = 0
		}
		cs.NextSequence = v.MediaSeqBase + int64(start)
	} else {
		cs.NextSequence = v.MediaSeqBase
	}
}

// SwitchVariant moves the client onto a new variant at the next segment
// boundary, never mid-segment. The discontinuity flag on the following
// NextSegment call fires because cursorReset is set.
func (cs *ClientState) SwitchVariant(v *Variant) {
	cs.Current = v
	cs.cursorReset = true
	// Preserve sequence continuity by sequence number when possible.
	if len(v.Segments) > 0 {
		first := v.Segments[0].Sequence
		last := v.Segments[len(v.Segments)-1].Sequence + 1
		if cs.NextSequence < first {
			cs.NextSequence = first
		} else if cs.NextSequence > last {
			cs.NextSequence = last
		}
	}
}

// Update merges a live refresh of the current variant's text. Returns
// false (no error) on malformed text rather than an error, since a
// transient bad refresh shouldn't tear down the client.
func (cs *ClientState) Update(text, uri string) bool {
	if !isValidUTF8(text) {
		return false
	}
	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "#EXTM3U" {
		return false
	}
	next, err := parseMediaPlaylistLines(lines, uri)
	if err != nil {
		return false
	}

	old := cs.Current
	merged := &Variant{
		URI:            next.URI,
		TargetDuration: next.TargetDuration,
		MediaSeqBase:   next.MediaSeqBase,
		EndList:        next.EndList,
		Version:        next.Version,
		AllowCache:     next.AllowCache,
	}
	// Keep every previously-seen segment so the cursor position is
	// preserved across the swap; append only segments whose
	// media-sequence we have not seen before.
	seen := make(map[int64]bool, len(old.Segments))
	for _, s := range old.Segments {
		seen[s.Sequence] = true
	}
	merged.Segments = append(merged.Segments, old.Segments...)
	newCount := 0
	for _, s := range next.Segments {
		if !seen[s.Sequence] {
			merged.Segments = append(merged.Segments, s)
			newCount++
		}
	}
	sort.Slice(merged.Segments, func(i, j int) bool {
		return merged.Segments[i].Sequence < merged.Segments[j].Sequence
	})

	cs.Current = merged
	if newCount == 0 && old.IsLive() {
		cs.UpdateFailedCount++
	} else {
		cs.UpdateFailedCount = 0
	}
	return true
}

// NextSegment advances the cursor and returns the next fetchable segment.
func (cs *ClientState) NextSegment() (MediaSegment, error) {
	v := cs.Current
	idx := -1
	for i, s := range v.Segments {
		if s.Sequence == cs.NextSequence {
			idx = i
			break
		}
	}
	if idx < 0 {
		if !v.IsLive() || cs.NextSequence < v.MediaSeqBase {
			return MediaSegment{}, ErrEndOfPlaylist
		}
		return MediaSegment{}, ErrEndOfPlaylist
	}
	seg := v.Segments[idx]
	discontinuous := seg.Discontinuity || cs.cursorReset
	cs.cursorReset = false
	cs.NextSequence = seg.Sequence + 1
	seg.Discontinuity = discontinuous
	return seg, nil
}

// --- parsing internals ---

func parseMasterLines(lines []string, baseURI string) ([]*Variant, error) {
	var variants []*Variant
	var pending map[string]string
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pending = parseAttrs(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if pending == nil {
				continue
			}
			uri := resolveURI(baseURI, line)
			v := &Variant{
				URI:        uri,
				Bandwidth:  parseInt(pending["BANDWIDTH"]),
				AverageBW:  parseInt(pending["AVERAGE-BANDWIDTH"]),
				Codecs:     strings.Trim(pending["CODECS"], `"`),
				Resolution: pending["RESOLUTION"],
			}
			if v.AverageBW == 0 {
				v.AverageBW = v.Bandwidth
			}
			variants = append(variants, v)
			pending = nil
		}
	}
	if len(variants) == 0 {
		return nil, streamerr.New(streamerr.KindInvalidPlaylist, "master playlist with no variants")
	}
	return variants, nil
}

func parseMediaPlaylistLines(lines []string, uri string) (*Variant, error) {
	v := &Variant{URI: uri, Version: 1}
	seq := int64(0)
	var seqSet bool
	var pendingDuration time.Duration
	var havePendingInf bool
	var pendingDiscontinuity bool
	var pendingProgramDate time.Time
	var pendingByteStart, pendingByteLen int64

	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			secs, _ := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64)
			v.TargetDuration = time.Duration(secs * float64(time.Second))
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err == nil {
				seq = n
				seqSet = true
			}
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			n, _ := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-VERSION:"))
			v.Version = n
		case strings.HasPrefix(line, "#EXT-X-ALLOW-CACHE:"):
			v.AllowCache = strings.EqualFold(strings.TrimPrefix(line, "#EXT-X-ALLOW-CACHE:"), "YES")
		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			v.EndList = true
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"):
			// Carried for completeness; our cursor tracks discontinuity
			// per-segment via the explicit tag below.
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY"):
			pendingDiscontinuity = true
		case strings.HasPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"):
			t, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(line, "#EXT-X-PROGRAM-DATE-TIME:"))
			if err == nil {
				pendingProgramDate = t
			}
		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			start, n := parseByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"))
			pendingByteStart, pendingByteLen = start, n
		case strings.HasPrefix(line, "#EXTINF:"):
			d, err := parseExtInf(strings.TrimPrefix(line, "#EXTINF:"))
			if err != nil {
				return nil, err
			}
			pendingDuration = d
			havePendingInf = true
		case strings.HasPrefix(line, "#"):
			continue
		default:
			if !havePendingInf {
				return nil, streamerr.New(streamerr.KindInvalidPlaylist, "URI line without preceding #EXTINF")
			}
			seg := MediaSegment{
				URI:            resolveURI(uri, line),
				Duration:       pendingDuration,
				Discontinuity:  pendingDiscontinuity,
				Sequence:       seq,
				ProgramDate:    pendingProgramDate,
				ByteRangeStart: pendingByteStart,
				ByteRangeLen:   pendingByteLen,
			}
			v.Segments = append(v.Segments, seg)
			seq++
			havePendingInf = false
			pendingDiscontinuity = false
			pendingProgramDate = time.Time{}
			pendingByteStart, pendingByteLen = 0, 0
		}
	}
	if havePendingInf {
		return nil, streamerr.New(streamerr.KindInvalidPlaylist, "#EXTINF without following URI")
	}
	if seqSet {
		v.MediaSeqBase = seq - int64(len(v.Segments))
	}
	return v, nil
}

func parseExtInf(raw string) (time.Duration, error) {
	comma := strings.IndexByte(raw, ',')
	numPart := raw
	if comma >= 0 {
		numPart = raw[:comma]
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(numPart), 64)
	if err != nil {
		return 0, streamerr.Wrap(streamerr.KindInvalidPlaylist, "bad EXTINF duration", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseByteRange(raw string) (start, length int64) {
	parts := strings.SplitN(raw, "@", 2)
	length = parseInt(parts[0])
	if len(parts) == 2 {
		start = parseInt(parts[1])
	}
	return start, length
}

func sortVariantsByBandwidth(vs []*Variant) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Bandwidth < vs[j].Bandwidth })
}

// parseAttrs tokenizes an HLS attribute-list (the comma-separated
// KEY=VALUE / KEY="quoted value" format shared by #EXT-X-STREAM-INF,
// #EXT-X-KEY, #EXT-X-MEDIA, ...).
func parseAttrs(raw string) map[string]string {
	out := map[string]string{}
	rest := raw
	for len(rest) > 0 {
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(rest[:eq]))
		rest = rest[eq+1:]
		if len(rest) == 0 {
			break
		}
		var value string
		if rest[0] == '"' {
			rest = rest[1:]
			end := strings.IndexByte(rest, '"')
			if end < 0 {
				value, rest = rest, ""
			} else {
				value, rest = rest[:end], rest[end+1:]
			}
		} else {
			comma := strings.IndexByte(rest, ',')
			if comma < 0 {
				value, rest = rest, ""
			} else {
				value, rest = rest[:comma], rest[comma+1:]
			}
		}
		out[key] = strings.TrimSpace(value)
		rest = strings.TrimLeft(rest, ", ")
	}
	return out
}

func resolveURI(base, ref string) string {
	ref = strings.Trim(strings.TrimSpace(ref), `"`)
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func splitLines(text string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func isValidUTF8(s string) bool {
	return utf8.ValidString(s)
}
