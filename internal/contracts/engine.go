package contracts

import (
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/panestate"
)

// ObserveFunc publishes an engine-originated event (contract.checked,
// violations). The kernel wires this to its internal emission path, which
// bypasses the contract engine itself.
type ObserveFunc func(eventType string, recipientID string, payload map[string]interface{})

// Decision is the dispatch outcome of one evaluation.
type Decision struct {
	Action     Action
	ContractID string
	Predicate  string
}

// Continue is the decision when no enforced contract is violated.
var Continue = Decision{Action: ActionContinue}

// Engine evaluates registered contracts against emissions.
type Engine struct {
	registry *Registry
	logger   *log.Entry

	// counters are owned by the engine; the kernel snapshots them.
	counters Counters
}

// Counters aggregates evaluation statistics.
type Counters struct {
	Checked          uint64
	Violations       uint64
	ShadowViolations uint64
}

// NewEngine returns an engine over the given registry.
func NewEngine(registry *Registry) *Engine {
	return &Engine{
		registry: registry,
		logger:   log.WithField("component", "contracts"),
	}
}

// Registry exposes the engine's registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Counters returns a snapshot of evaluation statistics.
func (e *Engine) Counters() Counters {
	return e.counters
}

// ResetCounters zeroes the evaluation statistics.
func (e *Engine) ResetCounters() {
	e.counters = Counters{}
}

// Evaluate runs every applicable contract against the event, in
// registration order, over a snapshot of the registry.
//
// Shadow contracts emit their violation event and never alter the
// decision. The first enforced violation stops the iteration and its
// action becomes the decision. With isRecheck set (deferred-queue
// re-evaluation), violation counters are not incremented and enforced
// violations are reported to onEnforced=nil, so they cannot feed the
// safe-mode window.
func (e *Engine) Evaluate(ev *event.Envelope, state panestate.Vector, isRecheck bool, observe ObserveFunc, onEnforced func(*Contract)) Decision {
	for _, c := range e.registry.Snapshot() {
		if !c.AppliesToType(ev.Type) {
			continue
		}
		e.counters.Checked++
		if observe != nil {
			observe(event.TypeContractChecked, ev.RecipientID, map[string]interface{}{
				"contractId": c.ID,
				"eventType":  ev.Type,
				"mode":       string(c.Mode),
				"isRecheck":  isRecheck,
			})
		}

		var failed = firstFailing(c, ev, state)
		if failed == "" {
			continue
		}

		var action = c.Action
		if !validAction(action) && validAction(c.FallbackAction) {
			action = c.FallbackAction
		}

		if c.Mode == ModeShadow {
			if !isRecheck {
				e.counters.ShadowViolations++
			}
			e.observeViolation(c, ev, failed, action, isRecheck, observe)
			continue
		}

		if !isRecheck {
			e.counters.Violations++
			if onEnforced != nil {
				onEnforced(c)
			}
		}
		e.observeViolation(c, ev, failed, action, isRecheck, observe)
		return Decision{Action: action, ContractID: c.ID, Predicate: failed}
	}
	return Continue
}

func (e *Engine) observeViolation(c *Contract, ev *event.Envelope, predicate string, action Action, isRecheck bool, observe ObserveFunc) {
	e.logger.WithFields(log.Fields{
		"contract":  c.ID,
		"mode":      c.Mode,
		"eventType": ev.Type,
		"recipient": ev.RecipientID,
		"predicate": predicate,
		"action":    action,
		"isRecheck": isRecheck,
	}).Debug("contract violation")

	if observe == nil {
		return
	}
	observe(c.ViolationType(), ev.RecipientID, map[string]interface{}{
		"contractId": c.ID,
		"version":    c.Version,
		"mode":       string(c.Mode),
		"severity":   string(c.Severity),
		"action":     string(action),
		"predicate":  predicate,
		"eventId":    ev.EventID,
		"eventType":  ev.Type,
		"isRecheck":  isRecheck,
	})
}

func firstFailing(c *Contract, ev *event.Envelope, state panestate.Vector) string {
	for i, p := range c.Preconditions {
		if !p.Check(ev, state) {
			if p.Name != "" {
				return p.Name
			}
			return "precondition-" + strconv.Itoa(i)
		}
	}
	return ""
}
