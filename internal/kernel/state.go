package kernel

import (
	"github.com/hivemind/orchestrator/internal/contracts"
	"github.com/hivemind/orchestrator/internal/deferq"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/panestate"
)

// UpdateState merges a partial patch into the recipient's state vector. A
// structurally identical write emits nothing. On change, pane.state.changed
// is published with before/after snapshots; if the update cleared the
// focus-lock, compacting-confirmed or safe-mode gate, the recipient's
// deferred queue is drained afterwards — state.changed always reaches
// subscribers before any drain-caused re-emission.
func (k *Kernel) UpdateState(recipientID string, patch panestate.Patch) {
	k.loop.push(func() { k.applyState(recipientID, patch, true) })
	k.loop.drain()
}

// applyState runs inside the loop. With drainGates=false the caller takes
// responsibility for draining (safe-mode exit drains after safemode.exited).
func (k *Kernel) applyState(recipientID string, patch panestate.Patch, drainGates bool) []panestate.Gate {
	var change, changed = k.state.Apply(recipientID, patch)
	if !changed {
		return nil
	}

	k.emitInternal(event.TypePaneStateChanged, recipientID, map[string]interface{}{
		"before": change.Before,
		"after":  change.After,
	}, nil)

	if drainGates && len(change.ClearedGates) > 0 {
		k.loop.push(func() { k.drainDeferred(recipientID) })
	}
	return change.ClearedGates
}

// drainDeferred re-evaluates the recipient's deferred entries against the
// current state. TTL-expired entries are dropped with reason ttl_expired;
// entries still gated (defer or block on recheck) are kept with their
// original DeferredAt; a drop decision discards the entry with reason
// contract_drop; everything else is resumed: the typeRoot .resumed event
// is emitted, then the original envelope is handed to subscribers.
// Draining is idempotent.
func (k *Kernel) drainDeferred(recipientID string) {
	var entries = k.deferred.Take(recipientID)
	if len(entries) == 0 {
		return
	}
	var now = k.clock.Now()
	var kept []*deferq.Entry

	for _, e := range entries {
		if e.Expired(now) {
			k.bump(func(c *Counters) { c.TTLDropped++ })
			k.metrics.IncTTLExpired()
			k.emitInternal(
				event.TypeRoot(e.Event.Type)+"."+event.SuffixDropped,
				recipientID,
				map[string]interface{}{
					"eventId":    e.Event.EventID,
					"eventType":  e.Event.Type,
					"reason":     "ttl_expired",
					"contractId": e.ContractID,
				},
				e.Event,
			)
			continue
		}

		var decision = k.engine.Evaluate(e.Event, k.state.Get(recipientID), true, k.observer(e.Event), nil)
		switch decision.Action {
		case contracts.ActionDefer, contracts.ActionBlock:
			kept = append(kept, e)
			continue
		case contracts.ActionDrop:
			k.bump(func(c *Counters) { c.Dropped++ })
			k.metrics.IncDropped()
			k.emitInternal(
				event.TypeRoot(e.Event.Type)+"."+event.SuffixDropped,
				recipientID,
				map[string]interface{}{
					"eventId":    e.Event.EventID,
					"eventType":  e.Event.Type,
					"reason":     "contract_drop",
					"contractId": decision.ContractID,
				},
				e.Event,
			)
			continue
		}

		k.bump(func(c *Counters) { c.Resumed++ })
		k.metrics.IncResumed()
		k.emitInternal(
			event.TypeRoot(e.Event.Type)+"."+event.SuffixResumed,
			recipientID,
			map[string]interface{}{
				"eventId":    e.Event.EventID,
				"eventType":  e.Event.Type,
				"contractId": e.ContractID,
			},
			e.Event,
		)

		var env = e.Event
		if decision.Action == contracts.ActionSkip {
			env = env.Clone()
			env.Skipped = true
		}
		k.loop.push(func() { k.dispatch(env) })
	}

	k.deferred.Put(recipientID, kept)
	k.metrics.SetDeferredDepth(k.deferredDepth())
}

func (k *Kernel) deferredDepth() int {
	var total = 0
	for _, id := range k.deferred.Recipients() {
		total += k.deferred.Len(id)
	}
	return total
}
