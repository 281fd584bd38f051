package delivery

import (
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/monitoring"
)

// DefaultAckTimeout bounds the verification window of a tracked delivery.
const DefaultAckTimeout = 65 * time.Second

// Delivery modes.
const (
	ModeDirect    = "direct"
	ModeBroadcast = "broadcast"
)

// Resolution outcomes surfaced to callers.
const (
	OutcomePending            = "pending"
	OutcomeDeliveredVerified  = "delivered.verified"
	OutcomeAcceptedUnverified = "accepted.unverified"
	OutcomeDeliveryFailed     = "delivery_failed"
	OutcomeRoutedTimeout      = "routed_unverified_timeout"
	OutcomeBroadcastTimeout   = "broadcast_unverified_timeout"
)

// Emitter publishes envelopes; the kernel's Publish method satisfies it.
type Emitter interface {
	Publish(eventType, recipientID string, payload map[string]interface{}) *event.Envelope
}

// Report is one recipient's delivery outcome.
type Report struct {
	Accepted bool
	Verified bool
	Reason   string
}

// Pending is one tracked delivery. The sequence is committed only when
// every expected recipient acked verified; any unverified or failed entry
// prevents commit and records the reason.
type Pending struct {
	DeliveryID string
	Sender     string
	Seq        uint64
	Expected   map[string]struct{}
	Acked      map[string]time.Time
	Unverified map[string]struct{}
	Failed     map[string]string
	SentAt     time.Time
	MsgType    string
	Mode       string

	timer clock.Timer
}

func (p *Pending) reported() int {
	return len(p.Acked) + len(p.Unverified) + len(p.Failed)
}

// Tracker owns all pending deliveries.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*Pending

	seq     *Sequencer
	metrics *Metrics
	prom    *monitoring.Metrics
	emitter Emitter
	clock   clock.Clock
	timeout time.Duration
	logger  *log.Entry
}

// TrackerOptions configures a Tracker. Zero fields select defaults.
type TrackerOptions struct {
	Sequencer *Sequencer
	Metrics   *Metrics
	Prom      *monitoring.Metrics
	Emitter   Emitter
	Clock     clock.Clock
	Timeout   time.Duration
}

// NewTracker returns a tracker over the given sequencer.
func NewTracker(opts TrackerOptions) *Tracker {
	var c = opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	var seq = opts.Sequencer
	if seq == nil {
		seq = NewSequencer("", c)
	}
	var metrics = opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(c)
	}
	var timeout = opts.Timeout
	if timeout <= 0 {
		timeout = DefaultAckTimeout
	}
	return &Tracker{
		pending: make(map[string]*Pending),
		seq:     seq,
		metrics: metrics,
		prom:    opts.Prom,
		emitter: opts.Emitter,
		clock:   c,
		timeout: timeout,
		logger:  log.WithField("component", "delivery"),
	}
}

// Sequencer exposes the underlying sequencer.
func (t *Tracker) Sequencer() *Sequencer { return t.seq }

// Metrics exposes the reliability metrics.
func (t *Tracker) Metrics() *Metrics { return t.metrics }

// Start tracks a new delivery and arms its verification timer.
func (t *Tracker) Start(deliveryID, sender string, seq uint64, expected []string, msgType, mode string) *Pending {
	var p = &Pending{
		DeliveryID: deliveryID,
		Sender:     sender,
		Seq:        seq,
		Expected:   make(map[string]struct{}, len(expected)),
		Acked:      make(map[string]time.Time),
		Unverified: make(map[string]struct{}),
		Failed:     make(map[string]string),
		SentAt:     t.clock.Now(),
		MsgType:    msgType,
		Mode:       mode,
	}
	for _, r := range expected {
		p.Expected[r] = struct{}{}
	}

	t.mu.Lock()
	t.pending[deliveryID] = p
	t.mu.Unlock()

	p.timer = t.clock.AfterFunc(t.timeout, func() { t.expire(deliveryID) })
	t.metrics.RecordSent(mode, msgType, expected)
	t.prom.IncSent()
	return p
}

// Report records one recipient's outcome and returns the delivery's
// resolution. Reports for unknown deliveries error; reports for
// recipients outside the expected set are ignored.
func (t *Tracker) Report(deliveryID, recipient string, rep Report) (string, error) {
	t.mu.Lock()
	var p = t.pending[deliveryID]
	if p == nil {
		t.mu.Unlock()
		return "", fmt.Errorf("unknown delivery %s", deliveryID)
	}
	if _, ok := p.Expected[recipient]; !ok {
		t.mu.Unlock()
		t.logger.WithFields(log.Fields{
			"deliveryId": deliveryID,
			"recipient":  recipient,
		}).Debug("ack for unexpected recipient ignored")
		return OutcomePending, nil
	}

	switch {
	case rep.Accepted && rep.Verified:
		delete(p.Unverified, recipient)
		p.Acked[recipient] = t.clock.Now()
	case rep.Accepted:
		if _, acked := p.Acked[recipient]; !acked {
			p.Unverified[recipient] = struct{}{}
		}
	default:
		var reason = rep.Reason
		if reason == "" {
			reason = "rejected"
		}
		p.Failed[recipient] = reason
	}

	if p.reported() < len(p.Expected) {
		t.mu.Unlock()
		return OutcomePending, nil
	}
	delete(t.pending, deliveryID)
	t.mu.Unlock()

	return t.resolve(p), nil
}

// resolve commits or records the final outcome once every expected
// recipient has reported.
func (t *Tracker) resolve(p *Pending) string {
	if p.timer != nil {
		p.timer.Stop()
	}

	var expected = keys(p.Expected)
	switch {
	case len(p.Failed) > 0:
		t.metrics.RecordFailed(p.Mode, p.MsgType, expected)
		t.prom.IncResolved(OutcomeDeliveryFailed)
		t.logger.WithFields(log.Fields{
			"deliveryId": p.DeliveryID,
			"failed":     p.Failed,
		}).Warn("delivery resolved with failures")
		return OutcomeDeliveryFailed

	case len(p.Unverified) > 0:
		t.metrics.RecordFailed(p.Mode, p.MsgType, nil)
		t.prom.IncResolved(OutcomeAcceptedUnverified)
		return OutcomeAcceptedUnverified

	default:
		var last time.Time
		for _, at := range p.Acked {
			if at.After(last) {
				last = at
			}
		}
		for recipient := range p.Expected {
			t.seq.Commit(p.Sender, recipient, p.Seq)
		}
		t.metrics.RecordDelivered(p.Mode, p.MsgType, expected, last.Sub(p.SentAt))
		t.prom.IncResolved(OutcomeDeliveredVerified)
		return OutcomeDeliveredVerified
	}
}

// expire fires when the verification window elapses first.
func (t *Tracker) expire(deliveryID string) {
	t.mu.Lock()
	var p = t.pending[deliveryID]
	if p == nil {
		t.mu.Unlock()
		return
	}
	delete(t.pending, deliveryID)
	t.mu.Unlock()

	var outcome = OutcomeRoutedTimeout
	if p.Mode == ModeBroadcast {
		outcome = OutcomeBroadcastTimeout
	}
	t.metrics.RecordTimeout(p.Mode, p.MsgType)
	t.prom.IncResolved(outcome)
	t.logger.WithFields(log.Fields{
		"deliveryId": p.DeliveryID,
		"acked":      len(p.Acked),
		"expected":   len(p.Expected),
	}).Warn("delivery ack window elapsed")

	if t.emitter != nil {
		t.emitter.Publish(event.TypeDeliveryTimeout, event.RecipientSystem, map[string]interface{}{
			"deliveryId": p.DeliveryID,
			"sender":     p.Sender,
			"seq":        p.Seq,
			"outcome":    outcome,
			"acked":      len(p.Acked),
			"expected":   len(p.Expected),
		})
	}
}

// Outstanding returns the number of unresolved deliveries.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// ShouldDeliver applies duplicate suppression for an incoming sequenced
// message: a session-reset marker with seq 1 zeroes the watermark; a
// sequence at or below the watermark is suppressed with a skip event.
func (t *Tracker) ShouldDeliver(sender, recipient string, seq uint64, body string) bool {
	if seq == 1 && strings.Contains(body, SessionResetMarker) {
		t.seq.ResetSession(sender, recipient)
		return true
	}
	if seq > 0 && seq <= t.seq.LastSeen(sender, recipient) {
		t.metrics.RecordSkipped(recipient)
		t.prom.IncDuplicate()
		if t.emitter != nil {
			t.emitter.Publish(event.TypeDeliverySkipped, recipient, map[string]interface{}{
				"sender":   sender,
				"seq":      seq,
				"lastSeen": t.seq.LastSeen(sender, recipient),
				"reason":   "duplicate_sequence",
			})
		}
		return false
	}
	return true
}

// Reset drops all pending deliveries and stops their timers.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	t.pending = make(map[string]*Pending)
}

func keys(set map[string]struct{}) []string {
	var out = make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
