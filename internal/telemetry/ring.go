// Package telemetry stores dispatched envelopes in a bounded ring buffer
// and answers queries over them: by correlation, recipient, type, time
// window, and causation-chain traversal.
package telemetry

import (
	"sync"
	"time"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/event"
)

// Default retention policy.
const (
	DefaultMaxEntries = 1000
	DefaultMaxAge     = 5 * time.Minute
)

// RingBuffer keeps the most recent envelopes, bounded by max(N entries,
// T age): an entry is evicted only when the buffer holds more than N
// entries AND the oldest entry is older than T. Bursts legitimately grow
// the buffer past N and collapse back as entries age out.
type RingBuffer struct {
	mu         sync.Mutex
	entries    []*event.Envelope // insertion order, oldest first
	maxEntries int
	maxAge     time.Duration
	clock      clock.Clock
}

// NewRingBuffer returns a buffer with the given policy. Zero values select
// the defaults.
func NewRingBuffer(maxEntries int, maxAge time.Duration, c clock.Clock) *RingBuffer {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if c == nil {
		c = clock.Real{}
	}
	return &RingBuffer{maxEntries: maxEntries, maxAge: maxAge, clock: c}
}

// Append records an envelope and applies the eviction policy.
func (r *RingBuffer) Append(ev *event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, ev)

	var cutoff = event.Millis(r.clock.Now().Add(-r.maxAge))
	var drop = 0
	for len(r.entries)-drop > r.maxEntries && r.entries[drop].Timestamp < cutoff {
		drop++
	}
	if drop > 0 {
		r.entries = append(r.entries[:0], r.entries[drop:]...)
	}
}

// Size returns the current entry count.
func (r *RingBuffer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset drops all entries.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
