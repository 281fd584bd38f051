// Package monitoring exposes the kernel's operational counters as
// prometheus metrics. All methods are nil-safe so core packages can carry
// an optional *Metrics without guard checks.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the kernel metric set.
type Metrics struct {
	EventsEmitted    *prometheus.CounterVec // by type root
	EventsDelivered  prometheus.Counter
	EventsDropped    prometheus.Counter
	EventsDeferred   prometheus.Counter
	EventsResumed    prometheus.Counter
	TTLExpired       prometheus.Counter
	HandlerFaults    prometheus.Counter
	RingBufferFaults prometheus.Counter

	ContractChecks     prometheus.Counter
	ContractViolations *prometheus.CounterVec // by mode
	SafeModeEntries    prometheus.Counter

	DeliveriesSent     prometheus.Counter
	DeliveriesResolved *prometheus.CounterVec // by outcome
	DuplicatesSkipped  prometheus.Counter

	TriggerFiles *prometheus.CounterVec // by outcome

	RingBufferSize prometheus.Gauge
	DeferredDepth  prometheus.Gauge
}

// New registers the metric set with reg.
func New(reg prometheus.Registerer) *Metrics {
	var m = &Metrics{
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "events_emitted_total", Help: "Events accepted by the kernel emit path.",
		}, []string{"root"}),
		EventsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "events_delivered_total", Help: "Events fanned out to subscribers.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "events_dropped_total", Help: "Events blocked or dropped by enforced contracts.",
		}),
		EventsDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "events_deferred_total", Help: "Events placed on a deferred queue.",
		}),
		EventsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "events_resumed_total", Help: "Deferred events resumed into delivery.",
		}),
		TTLExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "defer_ttl_expired_total", Help: "Deferred events dropped at drain time by TTL.",
		}),
		HandlerFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "handler_faults_total", Help: "Subscriber panics recovered during fan-out.",
		}),
		RingBufferFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "ring_buffer_faults_total", Help: "Telemetry append failures demoted to bus.error.",
		}),
		ContractChecks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "contracts",
			Name: "checks_total", Help: "Contract precondition evaluations.",
		}),
		ContractViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "contracts",
			Name: "violations_total", Help: "Contract violations by mode.",
		}, []string{"mode"}),
		SafeModeEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "contracts",
			Name: "safemode_entries_total", Help: "Safe-mode activations.",
		}),
		DeliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "delivery",
			Name: "sent_total", Help: "Tracked deliveries started.",
		}),
		DeliveriesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "delivery",
			Name: "resolved_total", Help: "Delivery resolutions by outcome.",
		}, []string{"outcome"}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "delivery",
			Name: "duplicates_skipped_total", Help: "Messages suppressed by sequence dedupe.",
		}),
		TriggerFiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hivemind", Subsystem: "trigger",
			Name: "files_total", Help: "Trigger files processed by outcome.",
		}, []string{"outcome"}),
		RingBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "ring_buffer_size", Help: "Current ring-buffer entry count.",
		}),
		DeferredDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hivemind", Subsystem: "kernel",
			Name: "deferred_depth", Help: "Total deferred entries across recipients.",
		}),
	}

	reg.MustRegister(
		m.EventsEmitted, m.EventsDelivered, m.EventsDropped, m.EventsDeferred,
		m.EventsResumed, m.TTLExpired, m.HandlerFaults, m.RingBufferFaults,
		m.ContractChecks, m.ContractViolations, m.SafeModeEntries,
		m.DeliveriesSent, m.DeliveriesResolved, m.DuplicatesSkipped,
		m.TriggerFiles, m.RingBufferSize, m.DeferredDepth,
	)
	return m
}

// Nil-safe helpers. The kernel calls these without checking m.

func (m *Metrics) IncEmitted(root string) {
	if m != nil {
		m.EventsEmitted.WithLabelValues(root).Inc()
	}
}

func (m *Metrics) IncDelivered() {
	if m != nil {
		m.EventsDelivered.Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) IncDeferred() {
	if m != nil {
		m.EventsDeferred.Inc()
	}
}

func (m *Metrics) IncResumed() {
	if m != nil {
		m.EventsResumed.Inc()
	}
}

func (m *Metrics) IncTTLExpired() {
	if m != nil {
		m.TTLExpired.Inc()
	}
}

func (m *Metrics) IncHandlerFault() {
	if m != nil {
		m.HandlerFaults.Inc()
	}
}

func (m *Metrics) IncRingFault() {
	if m != nil {
		m.RingBufferFaults.Inc()
	}
}

func (m *Metrics) IncContractCheck() {
	if m != nil {
		m.ContractChecks.Inc()
	}
}

func (m *Metrics) IncViolation(mode string) {
	if m != nil {
		m.ContractViolations.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) IncSafeMode() {
	if m != nil {
		m.SafeModeEntries.Inc()
	}
}

func (m *Metrics) IncSent() {
	if m != nil {
		m.DeliveriesSent.Inc()
	}
}

func (m *Metrics) IncResolved(outcome string) {
	if m != nil {
		m.DeliveriesResolved.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.DuplicatesSkipped.Inc()
	}
}

func (m *Metrics) IncTriggerFile(outcome string) {
	if m != nil {
		m.TriggerFiles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetRingSize(n int) {
	if m != nil {
		m.RingBufferSize.Set(float64(n))
	}
}

func (m *Metrics) SetDeferredDepth(n int) {
	if m != nil {
		m.DeferredDepth.Set(float64(n))
	}
}
