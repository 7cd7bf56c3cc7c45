package monitor

import (
	"sync"
	"time"
)

const defaultHistorySize = 120

// Sample is one observation of a queue file header.
type Sample struct {
	At         time.Time
	Count      int64
	UsedBytes  int64
	FileLength int64
}

// History is a fixed-size circular buffer of samples.
// All methods are safe for concurrent use.
type History struct {
	mu      sync.Mutex
	buf     []Sample
	cap     int
	head    int // next write position
	count   int // samples in buffer (≤ cap)
	version int
}

// NewHistory creates a history with the given capacity.
// If cap ≤ 0, defaultHistorySize is used.
func NewHistory(cap int) *History {
	if cap <= 0 {
		cap = defaultHistorySize
	}
	return &History{
		buf: make([]Sample, cap),
		cap: cap,
	}
}

// Push adds a sample, overwriting the oldest when full.
func (h *History) Push(s Sample) {
	h.mu.Lock()
	h.buf[h.head] = s
	h.head = (h.head + 1) % h.cap
	if h.count < h.cap {
		h.count++
	}
	h.version++
	h.mu.Unlock()
}

// Snapshot returns a chronological copy of the samples.
func (h *History) Snapshot() []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.count
	if n == 0 {
		return nil
	}
	out := make([]Sample, n)
	start := (h.head - n + h.cap) % h.cap
	for i := 0; i < n; i++ {
		out[i] = h.buf[(start+i)%h.cap]
	}
	return out
}

// Last returns the newest sample.
func (h *History) Last() (Sample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return Sample{}, false
	}
	return h.buf[(h.head-1+h.cap)%h.cap], true
}

// Version returns a monotonic counter that increments on every Push.
func (h *History) Version() int {
	h.mu.Lock()
	v := h.version
	h.mu.Unlock()
	return v
}
