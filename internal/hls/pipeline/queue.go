package pipeline

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// CachedSegment is one downloaded fragment tagged with the metadata the
// Emitter must preserve when pushing it downstream. ID is a ULID: its
// lexical order matches arrival order in the queue, mirroring the
// monotonically increasing playlist sequence number it was fetched at.
type CachedSegment struct {
	ID            ulid.ULID
	Data          []byte
	Duration      time.Duration
	Discontinuity bool
	VariantURI    string
}

// CacheQueue is a bounded FIFO: the Updater is the only writer to the
// tail, the Emitter is the only reader of the head, and both block on
// the same condition variable.
type CacheQueue struct {
	mu            sync.Mutex
	cond          *sync.Cond
	items         []CachedSegment
	capacity      int
	endOfPlaylist bool
	cancelled     bool
}

// NewCacheQueue creates a queue bounded at capacity (clamped to >=2).
func NewCacheQueue(capacity int) *CacheQueue {
	if capacity < 2 {
		capacity = 2
	}
	q := &CacheQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends seg to the tail, blocking if the queue is at capacity.
// Returns false if the queue was cancelled before the push could
// complete.
func (q *CacheQueue) Push(seg CachedSegment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) >= q.capacity && !q.cancelled {
		q.cond.Wait()
	}
	if q.cancelled {
		return false
	}
	q.items = append(q.items, seg)
	q.cond.Broadcast()
	return true
}

// Pop removes and returns the head item, blocking while the queue is
// empty and end-of-playlist has not been reached. ok is false when the
// queue drained after end-of-playlist, or was cancelled.
func (q *CacheQueue) Pop() (seg CachedSegment, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.endOfPlaylist && !q.cancelled {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return CachedSegment{}, false
	}
	seg = q.items[0]
	q.items = q.items[1:]
	q.cond.Broadcast()
	return seg, true
}

// Len reports the current occupancy (used by the Caching->Running
// transition, which fires once the queue is primed).
func (q *CacheQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// SetEndOfPlaylist wakes any blocked Pop so a drained, EOS queue returns
// promptly rather than waiting for another push that will never come.
func (q *CacheQueue) SetEndOfPlaylist() {
	q.mu.Lock()
	q.endOfPlaylist = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Cancel wakes every blocked Push/Pop immediately, including the
// Emitter's empty-queue wait.
func (q *CacheQueue) Cancel() {
	q.mu.Lock()
	q.cancelled = true
	q.cond.Broadcast()
	q.mu.Unlock()
}
