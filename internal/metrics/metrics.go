// Package metrics exposes mediacored's prometheus counters and gauges:
// segments emitted, variant switches, refresh failures, PCR samples
// indexed, and seek latency, and mirrors the StatEvent stream produced by
// TSD.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mediacore/mediacore/internal/media"
)

var (
	segmentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_hls_segments_emitted_total",
		Help: "Total number of HLS media segments emitted by the Segment Pipeline.",
	}, []string{"variant"})

	variantSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_hls_variant_switches_total",
		Help: "Total number of adaptive bitrate variant switches.",
	}, []string{"direction"})

	playlistRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacore_hls_playlist_refresh_failures_total",
		Help: "Total number of failed live playlist refreshes.",
	})

	pcrSamplesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacore_ts_pcr_samples_indexed_total",
		Help: "Total number of PCR samples recorded while building a PCR index.",
	})

	seekLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mediacore_ts_seek_duration_seconds",
		Help:    "Latency of PCR-indexed seek operations.",
		Buckets: prometheus.DefBuckets,
	})

	pidsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacore_ts_pids_discovered_total",
		Help: "Total number of elementary stream PIDs discovered via PMT changes.",
	}, []string{"stream_type"})

	pcrDiscontinuities = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacore_ts_pcr_discontinuities_total",
		Help: "Total number of PCR discontinuities observed while demuxing.",
	})

	bytesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacore_ts_bytes_processed_total",
		Help: "Total number of transport stream bytes processed.",
	})

	packetsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacore_ts_packets_dropped_total",
		Help: "Total number of transport stream packets dropped for carrying transport_error_indicator.",
	})
)

// ObserveSegmentEmitted records one HLS segment delivered for variant.
func ObserveSegmentEmitted(variant string) {
	segmentsEmitted.WithLabelValues(variant).Inc()
}

// ObserveVariantSwitch records an adaptive switch; direction is "up" or
// "down".
func ObserveVariantSwitch(direction string) {
	variantSwitches.WithLabelValues(direction).Inc()
}

// ObservePlaylistRefreshFailure records one failed live refresh.
func ObservePlaylistRefreshFailure() {
	playlistRefreshFailures.Inc()
}

// ObserveSeek records the wall-clock duration of one PCR-indexed seek.
func ObserveSeek(d time.Duration) {
	seekLatency.Observe(d.Seconds())
}

// ObserveStatEvent mirrors one media.StatEvent into the matching counter.
func ObserveStatEvent(ev media.StatEvent) {
	switch ev.Kind {
	case media.StatBytesProcessed:
		bytesProcessed.Add(float64(ev.Value))
	case media.StatPIDDiscovered:
		pidsDiscovered.WithLabelValues("unknown").Inc()
	case media.StatPCRDiscontinuity:
		pcrDiscontinuities.Inc()
	case media.StatPacketDropped:
		packetsDropped.Inc()
	case media.StatSegmentFetched, media.StatVariantSwitch:
		// Not counted here: ObserveSegmentEmitted/ObserveVariantSwitch
		// record these with richer labels than StatEvent carries.
	}
}
