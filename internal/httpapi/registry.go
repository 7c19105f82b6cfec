package httpapi

import (
	"sync"
	"time"
)

// StreamInfo is one registered HSO/TSD instance's introspection summary.
type StreamInfo struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "hls" or "ts"
	URI       string    `json:"uri,omitempty"`
	OpenedAt  time.Time `json:"opened_at"`
	Seekable  bool      `json:"seekable"`
}

// streamRegistry tracks the process's live media.Source instances for
// the /streams introspection endpoint.
type streamRegistry struct {
	mu      sync.RWMutex
	streams map[string]StreamInfo
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{streams: make(map[string]StreamInfo)}
}

// Register adds or updates an instance's entry.
func (r *streamRegistry) Register(info StreamInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[info.ID] = info
}

// Unregister removes an instance's entry, called from Close.
func (r *streamRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, id)
}

// Snapshot returns a point-in-time copy of every registered instance.
func (r *streamRegistry) Snapshot() []StreamInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StreamInfo, 0, len(r.streams))
	for _, info := range r.streams {
		out = append(out, info)
	}
	return out
}
