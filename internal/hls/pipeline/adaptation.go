package pipeline

import (
	"time"

	"github.com/mediacore/mediacore/internal/hls/playlist"
)

// updateIntervalFactors is the targetduration multiplier schedule
// {0.5, 1.5, 3.0, 3.0…} indexed by the number of consecutive
// failed-to-find-new-segments refreshes.
var updateIntervalFactors = []float64{0.5, 1.5, 3.0}

// refreshFactor returns the targetduration multiplier for the next
// scheduled refresh given count consecutive failed refreshes.
func refreshFactor(count int) float64 {
	if count <= 0 {
		return 1.0
	}
	idx := count - 1
	if idx >= len(updateIntervalFactors) {
		idx = len(updateIntervalFactors) - 1
	}
	return updateIntervalFactors[idx]
}

// adaptationState tracks the accumulated-delay hysteresis counter across
// calls to adapt.
type adaptationState struct {
	tolerance        float64
	accumulatedDelay time.Duration
}

// adapt applies the bitrate-switch rule given d (the time remaining
// before the next scheduled update, computed immediately after a
// segment download) and the current variant's target duration. It
// returns the chosen direction: +1 to step up, -1 to step down, 0 to
// hold.
func (a *adaptationState) adapt(d time.Duration, targetDuration time.Duration) int {
	l := time.Duration(float64(targetDuration) * a.tolerance)
	switch {
	case d > l:
		a.accumulatedDelay = 0
		return 1
	case d < 0:
		a.accumulatedDelay -= d // d is negative: this adds |d|.
		if a.accumulatedDelay > l {
			a.accumulatedDelay = 0
			return -1
		}
		return 0
	default:
		if a.accumulatedDelay > 0 {
			a.accumulatedDelay -= d
			if a.accumulatedDelay < 0 {
				a.accumulatedDelay = 0
			}
		}
		return 0
	}
}

// stepVariant returns the neighbouring variant in m.Variants (sorted
// ascending by bandwidth, see playlist.Parse) in direction dir (+1/-1),
// or cur unchanged (and ok=false) at either end, making a step past the
// highest or lowest bandwidth variant a no-op.
func stepVariant(m *playlist.Master, cur *playlist.Variant, dir int) (next *playlist.Variant, ok bool) {
	idx := -1
	for i, v := range m.Variants {
		if v == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		return cur, false
	}
	target := idx + dir
	if target < 0 || target >= len(m.Variants) {
		return cur, false
	}
	return m.Variants[target], true
}
