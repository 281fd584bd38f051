// Package kernel is the single point through which every intent passes
// before taking effect. It owns the dispatcher, the contract engine, the
// state vectors, the deferred queues and the telemetry ring buffer, and
// serializes all of them behind one run-to-completion loop.
package kernel

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/contracts"
	"github.com/hivemind/orchestrator/internal/deferq"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/monitoring"
	"github.com/hivemind/orchestrator/internal/panestate"
	"github.com/hivemind/orchestrator/internal/telemetry"
)

// SourceKernel is the source id stamped on engine-originated events.
const SourceKernel = "kernel"

// Options configures a Kernel. Zero fields select the documented defaults.
type Options struct {
	Clock   clock.Clock
	Metrics *monitoring.Metrics

	RingMaxEntries int
	RingMaxAge     time.Duration

	DeferTTL time.Duration

	SafeModeWindow    time.Duration
	SafeModeThreshold int
	SafeModeCooldown  time.Duration

	// DevMode disables payload redaction.
	DevMode bool
}

// Counters is a snapshot of the kernel's aggregate counters.
type Counters struct {
	Emitted    uint64
	Ingested   uint64
	Delivered  uint64
	Dropped    uint64
	Deferred   uint64
	Resumed    uint64
	TTLDropped uint64

	Violations       uint64
	ShadowViolations uint64

	HandlerFaults uint64
	RingFaults    uint64

	SafeModeEntries uint64
}

// Kernel is the event kernel. All mutation happens inside ops executed by
// the run-to-completion loop (see loop.go); re-entrant emissions from
// handlers and timer callbacks are queued behind the op in flight.
type Kernel struct {
	opts   Options
	clock  clock.Clock
	logger *log.Entry

	// mu guards the light state below. The heavier structures (state
	// store, ring buffer, registry, deferred queue, detector) carry their
	// own locks; emission ordering is the loop's job.
	mu        sync.Mutex
	exact     map[string][]*subscription
	wildcard  []*subscription
	nextSubID int
	sequences map[string]uint64
	current   string // process-wide current correlation, or ""
	devMode   bool

	state    *panestate.Store
	ring     *telemetry.RingBuffer
	registry *contracts.Registry
	engine   *contracts.Engine
	deferred *deferq.Queue
	detector *contracts.CascadeDetector

	deferTTL  time.Duration
	cooldown  time.Duration
	safeTimer clock.Timer
	inSafe    bool

	counters Counters
	metrics  *monitoring.Metrics

	loop opLoop
}

// New returns a kernel with the given options.
func New(opts Options) *Kernel {
	var c = opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	var deferTTL = opts.DeferTTL
	if deferTTL <= 0 {
		deferTTL = deferq.DefaultTTL
	}
	var cooldown = opts.SafeModeCooldown
	if cooldown <= 0 {
		cooldown = contracts.DefaultCascadeCooldown
	}
	var registry = contracts.NewRegistry()
	return &Kernel{
		opts:      opts,
		clock:     c,
		logger:    log.WithField("component", "kernel"),
		exact:     make(map[string][]*subscription),
		sequences: make(map[string]uint64),
		devMode:   opts.DevMode,
		state:     panestate.NewStore(),
		ring:      telemetry.NewRingBuffer(opts.RingMaxEntries, opts.RingMaxAge, c),
		registry:  registry,
		engine:    contracts.NewEngine(registry),
		deferred:  deferq.NewQueue(),
		detector:  contracts.NewCascadeDetector(opts.SafeModeWindow, opts.SafeModeThreshold),
		deferTTL:  deferTTL,
		cooldown:  cooldown,
		metrics:   opts.Metrics,
	}
}

// SetDevMode toggles payload redaction. With dev mode off, every envelope
// built afterwards has `body`/`message` payload fields redacted.
func (k *Kernel) SetDevMode(on bool) {
	k.mu.Lock()
	k.devMode = on
	k.mu.Unlock()
}

// SetCorrelation sets the process-wide current correlation id, inherited
// by emissions that do not carry one. Pass "" to clear it.
func (k *Kernel) SetCorrelation(id string) {
	k.mu.Lock()
	k.current = id
	k.mu.Unlock()
}

// RegisterContract validates and registers (or replaces) a contract.
func (k *Kernel) RegisterContract(c contracts.Contract) error {
	return k.registry.Register(c)
}

// Contracts exposes the contract registry (used by the promotion engine).
func (k *Kernel) Contracts() *contracts.Registry {
	return k.registry
}

// State returns a copy of the recipient's state vector.
func (k *Kernel) State(recipientID string) panestate.Vector {
	return k.state.Get(recipientID)
}

// KnownRecipients lists every recipient with a state vector.
func (k *Kernel) KnownRecipients() []string {
	return k.state.Known()
}

// Query runs a telemetry query over the ring buffer, newest first. The
// returned envelopes are copies; callers may mutate them freely.
func (k *Kernel) Query(q telemetry.Query) []*event.Envelope {
	return cloneAll(k.ring.Select(q))
}

// CausationChain returns the topological traversal of a correlation chain,
// as copies.
func (k *Kernel) CausationChain(correlationID string) []*event.Envelope {
	return cloneAll(k.ring.CausationChain(correlationID))
}

func cloneAll(evs []*event.Envelope) []*event.Envelope {
	var out = make([]*event.Envelope, len(evs))
	for i, ev := range evs {
		out[i] = ev.Clone()
	}
	return out
}

// RingSize returns the current telemetry entry count.
func (k *Kernel) RingSize() int {
	return k.ring.Size()
}

// DeferredLen returns the recipient's deferred-queue depth.
func (k *Kernel) DeferredLen(recipientID string) int {
	return k.deferred.Len(recipientID)
}

// SafeModeActive reports whether the process-wide circuit breaker is set.
func (k *Kernel) SafeModeActive() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.inSafe
}

// Counters returns a snapshot of the aggregate counters.
func (k *Kernel) Counters() Counters {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.counters
}

// Reset restores the kernel to pristine state: subscriptions, contracts,
// state vectors, ring buffer, deferred queues, sequences, counters and the
// violation window. Configuration is kept.
func (k *Kernel) Reset() {
	k.loop.run(func() {
		k.mu.Lock()
		k.exact = make(map[string][]*subscription)
		k.wildcard = nil
		k.sequences = make(map[string]uint64)
		k.current = ""
		k.devMode = k.opts.DevMode
		if k.safeTimer != nil {
			k.safeTimer.Stop()
			k.safeTimer = nil
		}
		k.inSafe = false
		k.counters = Counters{}
		k.mu.Unlock()

		k.state.Reset()
		k.ring.Reset()
		k.registry.Reset()
		k.engine.ResetCounters()
		k.deferred.Reset()
		k.detector.Reset()
	})
}
