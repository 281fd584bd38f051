package contracts

import (
	"sync"
	"time"
)

// Cascade detector defaults.
const (
	DefaultCascadeWindow    = 10 * time.Second
	DefaultCascadeThreshold = 3
	DefaultCascadeCooldown  = 30 * time.Second
)

// CascadeDetector tracks a sliding window of enforced violations and trips
// once the threshold is crossed. While tripped (safe-mode cooldown), further
// violations are recorded but cannot re-trip, so a burst during cooldown
// does not rearm it.
type CascadeDetector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	times     []time.Time
	active    bool
}

// NewCascadeDetector returns a detector with the given policy. Zero values
// select the defaults.
func NewCascadeDetector(window time.Duration, threshold int) *CascadeDetector {
	if window <= 0 {
		window = DefaultCascadeWindow
	}
	if threshold <= 0 {
		threshold = DefaultCascadeThreshold
	}
	return &CascadeDetector{window: window, threshold: threshold}
}

// Record registers an enforced violation at now and reports whether this
// violation tripped the detector.
func (d *CascadeDetector) Record(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	var cutoff = now.Add(-d.window)
	var kept = d.times[:0]
	for _, t := range d.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.times = append(kept, now)

	if d.active || len(d.times) < d.threshold {
		return false
	}
	d.active = true
	return true
}

// Active reports whether the detector is tripped.
func (d *CascadeDetector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Release ends the tripped state and clears the window.
func (d *CascadeDetector) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.times = nil
}

// Reset restores the detector to pristine state.
func (d *CascadeDetector) Reset() {
	d.Release()
}
