package delivery

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/hivemind/orchestrator/internal/clock"
)

// Reliability-metrics bounds.
const (
	latencyReservoirCap = 500
	eventLogCap         = 2000
)

// Stats is one counter bucket.
type Stats struct {
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	TimedOut  uint64 `json:"timedOut"`
	Skipped   uint64 `json:"skipped"`
	Retries   uint64 `json:"retries"`
}

// WindowStats summarizes a rolling window of the event log.
type WindowStats struct {
	Window       time.Duration `json:"windowMs"`
	Sent         int           `json:"sent"`
	Delivered    int           `json:"delivered"`
	Failed       int           `json:"failed"`
	TimedOut     int           `json:"timedOut"`
	Skipped      int           `json:"skipped"`
	DeliveryRate float64       `json:"deliveryRate"`
}

// Snapshot is the full reliability view.
type Snapshot struct {
	Totals       Stats            `json:"totals"`
	ByMode       map[string]Stats `json:"byMode"`
	ByRecipient  map[string]Stats `json:"byRecipient"`
	ByType       map[string]Stats `json:"byType"`
	LatencyP50   time.Duration    `json:"latencyP50Ms"`
	LatencyCount int              `json:"latencySamples"`
	Last15Min    WindowStats      `json:"last15Min"`
	LastHour     WindowStats      `json:"lastHour"`
}

type logKind string

const (
	logSent      logKind = "sent"
	logDelivered logKind = "delivered"
	logFailed    logKind = "failed"
	logTimedOut  logKind = "timedOut"
	logSkipped   logKind = "skipped"
)

type logEntry struct {
	at   time.Time
	kind logKind
}

// Metrics aggregates delivery reliability counters with per-mode,
// per-recipient and per-type breakdowns, a bounded latency reservoir, and
// 15-minute / 1-hour rolling windows computed from a capped event log.
type Metrics struct {
	mu          sync.Mutex
	totals      Stats
	byMode      map[string]*Stats
	byRecipient map[string]*Stats
	byType      map[string]*Stats
	latency     []time.Duration
	events      []logEntry
	clock       clock.Clock
}

// NewMetrics returns an empty metric set.
func NewMetrics(c clock.Clock) *Metrics {
	if c == nil {
		c = clock.Real{}
	}
	return &Metrics{
		byMode:      make(map[string]*Stats),
		byRecipient: make(map[string]*Stats),
		byType:      make(map[string]*Stats),
		clock:       c,
	}
}

func (m *Metrics) bucket(store map[string]*Stats, key string) *Stats {
	if key == "" {
		key = "unknown"
	}
	var b = store[key]
	if b == nil {
		b = &Stats{}
		store[key] = b
	}
	return b
}

func (m *Metrics) appendLog(kind logKind) {
	m.events = append(m.events, logEntry{at: m.clock.Now(), kind: kind})
	if n := len(m.events) - eventLogCap; n > 0 {
		m.events = append(m.events[:0], m.events[n:]...)
	}
}

// RecordSent registers a tracked delivery start.
func (m *Metrics) RecordSent(mode, msgType string, recipients []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Sent++
	m.bucket(m.byMode, mode).Sent++
	m.bucket(m.byType, msgType).Sent++
	for _, r := range recipients {
		m.bucket(m.byRecipient, r).Sent++
	}
	m.appendLog(logSent)
}

// RecordDelivered registers a fully verified delivery with its
// sentAt→ackedAt latency sample.
func (m *Metrics) RecordDelivered(mode, msgType string, recipients []string, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Delivered++
	m.bucket(m.byMode, mode).Delivered++
	m.bucket(m.byType, msgType).Delivered++
	for _, r := range recipients {
		m.bucket(m.byRecipient, r).Delivered++
	}
	if len(m.latency) < latencyReservoirCap {
		m.latency = append(m.latency, latency)
	} else {
		m.latency[rand.Intn(latencyReservoirCap)] = latency
	}
	m.appendLog(logDelivered)
}

// RecordFailed registers a delivery resolved with failures.
func (m *Metrics) RecordFailed(mode, msgType string, recipients []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Failed++
	m.bucket(m.byMode, mode).Failed++
	m.bucket(m.byType, msgType).Failed++
	for _, r := range recipients {
		m.bucket(m.byRecipient, r).Failed++
	}
	m.appendLog(logFailed)
}

// RecordTimeout registers a delivery whose ack window elapsed.
func (m *Metrics) RecordTimeout(mode, msgType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.TimedOut++
	m.bucket(m.byMode, mode).TimedOut++
	m.bucket(m.byType, msgType).TimedOut++
	m.appendLog(logTimedOut)
}

// RecordSkipped registers a duplicate suppressed by sequence dedupe.
func (m *Metrics) RecordSkipped(recipient string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Skipped++
	m.bucket(m.byRecipient, recipient).Skipped++
	m.appendLog(logSkipped)
}

// RecordRetry registers a retry attempt.
func (m *Metrics) RecordRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Retries++
}

// Window computes rolling stats over the event log.
func (m *Metrics) Window(d time.Duration) WindowStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.windowLocked(d)
}

func (m *Metrics) windowLocked(d time.Duration) WindowStats {
	var cutoff = m.clock.Now().Add(-d)
	var w = WindowStats{Window: d}
	for _, e := range m.events {
		if e.at.Before(cutoff) {
			continue
		}
		switch e.kind {
		case logSent:
			w.Sent++
		case logDelivered:
			w.Delivered++
		case logFailed:
			w.Failed++
		case logTimedOut:
			w.TimedOut++
		case logSkipped:
			w.Skipped++
		}
	}
	if w.Sent > 0 {
		w.DeliveryRate = float64(w.Delivered) / float64(w.Sent)
	}
	return w
}

// Snapshot returns a copy of everything.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var snap = Snapshot{
		Totals:       m.totals,
		ByMode:       copyBuckets(m.byMode),
		ByRecipient:  copyBuckets(m.byRecipient),
		ByType:       copyBuckets(m.byType),
		LatencyCount: len(m.latency),
		Last15Min:    m.windowLocked(15 * time.Minute),
		LastHour:     m.windowLocked(time.Hour),
	}
	if len(m.latency) > 0 {
		var sorted = make([]time.Duration, len(m.latency))
		copy(sorted, m.latency)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		snap.LatencyP50 = sorted[len(sorted)/2]
	}
	return snap
}

// Reset zeroes everything.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals = Stats{}
	m.byMode = make(map[string]*Stats)
	m.byRecipient = make(map[string]*Stats)
	m.byType = make(map[string]*Stats)
	m.latency = nil
	m.events = nil
}

func copyBuckets(in map[string]*Stats) map[string]Stats {
	var out = make(map[string]Stats, len(in))
	for k, v := range in {
		out[k] = *v
	}
	return out
}
