package kernel

import (
	"github.com/hivemind/orchestrator/internal/contracts"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/panestate"
)

// onEnforcedViolation feeds the cascade detector. Recheck-driven
// violations never reach here (the engine passes onEnforced=nil on
// recheck), so they cannot cascade false positives.
func (k *Kernel) onEnforcedViolation(c *contracts.Contract) {
	if !k.detector.Record(k.clock.Now()) {
		return
	}
	k.loop.push(func() { k.enterSafeMode(c.ID) })
}

// enterSafeMode sets gates.safeMode on every known recipient, emits
// safemode.entered and schedules the cooldown exit. Fires exactly once per
// window; further violations during cooldown do not rearm it.
func (k *Kernel) enterSafeMode(triggerContract string) {
	k.mu.Lock()
	if k.inSafe {
		k.mu.Unlock()
		return
	}
	k.inSafe = true
	k.counters.SafeModeEntries++
	k.mu.Unlock()
	k.metrics.IncSafeMode()
	k.logger.WithField("contract", triggerContract).Warn("entering safe mode after cascading violations")

	for _, id := range k.state.Known() {
		k.applyState(id, panestate.SafeMode(true), true)
	}
	k.emitInternal(event.TypeSafeModeEntered, event.RecipientSystem, map[string]interface{}{
		"contractId": triggerContract,
		"cooldownMs": k.cooldown.Milliseconds(),
	}, nil)

	k.mu.Lock()
	k.safeTimer = k.clock.AfterFunc(k.cooldown, func() {
		k.loop.run(k.exitSafeMode)
	})
	k.mu.Unlock()
}

// exitSafeMode clears gates.safeMode everywhere, emits safemode.exited and
// then drains the deferred queues.
func (k *Kernel) exitSafeMode() {
	k.mu.Lock()
	if !k.inSafe {
		k.mu.Unlock()
		return
	}
	k.inSafe = false
	k.safeTimer = nil
	k.mu.Unlock()
	k.logger.Info("safe-mode cooldown elapsed, resuming")

	var toDrain []string
	for _, id := range k.state.Known() {
		var cleared = k.applyState(id, panestate.SafeMode(false), false)
		if len(cleared) > 0 {
			toDrain = append(toDrain, id)
		}
	}
	k.emitInternal(event.TypeSafeModeExited, event.RecipientSystem, nil, nil)
	for _, id := range toDrain {
		var recipient = id
		k.loop.push(func() { k.drainDeferred(recipient) })
	}
	k.detector.Release()
}
