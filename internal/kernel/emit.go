package kernel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/hivemind/orchestrator/internal/contracts"
	"github.com/hivemind/orchestrator/internal/deferq"
	"github.com/hivemind/orchestrator/internal/event"
)

// EmitOption adjusts envelope construction.
type EmitOption func(*emitParams)

type emitParams struct {
	source        string
	correlationID string
	causationID   string
}

// WithSource overrides the emitter module id (default "kernel").
func WithSource(source string) EmitOption {
	return func(p *emitParams) { p.source = source }
}

// WithCorrelation pins the correlation id instead of inheriting the
// process-wide current one.
func WithCorrelation(id string) EmitOption {
	return func(p *emitParams) { p.correlationID = id }
}

// WithCausation records the event id that caused this emission.
func WithCausation(id string) EmitOption {
	return func(p *emitParams) { p.causationID = id }
}

// Emit builds an envelope and runs it through the full path: contract
// evaluation, action selection, subscriber fan-out and telemetry. It
// returns the envelope as built; when called re-entrantly from a handler,
// processing is queued behind the op in flight.
func (k *Kernel) Emit(eventType, recipientID string, payload map[string]interface{}, opts ...EmitOption) *event.Envelope {
	var p emitParams
	for _, opt := range opts {
		opt(&p)
	}

	k.mu.Lock()
	var env = k.buildLocked(eventType, recipientID, payload, p)
	k.counters.Emitted++
	k.loop.push(func() { k.processEmit(env) })
	k.mu.Unlock()
	k.metrics.IncEmitted(event.TypeRoot(eventType))

	k.loop.drain()
	return env
}

// Publish is Emit without options. It satisfies the Emitter interfaces of
// the delivery and trigger collaborators.
func (k *Kernel) Publish(eventType, recipientID string, payload map[string]interface{}) *event.Envelope {
	return k.Emit(eventType, recipientID, payload)
}

// Ingest accepts a fully-formed envelope from an external bridge. The
// given ids are preserved, the source sequence counter advances to
// max(current, incoming), and the contract engine is bypassed.
func (k *Kernel) Ingest(env *event.Envelope) error {
	if env == nil || env.EventID == "" || env.Type == "" || env.Source == "" {
		return fmt.Errorf("ingest: envelope missing required fields")
	}
	if err := event.ValidatePattern(env.Type); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	k.mu.Lock()
	if env.Sequence > k.sequences[env.Source] {
		k.sequences[env.Source] = env.Sequence
	}
	k.counters.Ingested++
	k.loop.push(func() {
		k.dispatch(env)
		k.record(env)
	})
	k.mu.Unlock()

	k.loop.drain()
	return nil
}

// buildLocked mints the envelope. Caller holds k.mu, which makes sequence
// order equal to loop-queue order.
func (k *Kernel) buildLocked(eventType, recipientID string, payload map[string]interface{}, p emitParams) *event.Envelope {
	var source = p.source
	if source == "" {
		source = SourceKernel
	}
	var correlation = p.correlationID
	if correlation == "" {
		correlation = k.current
	}
	if correlation == "" {
		correlation = "cor-" + uuid.NewString()
	}
	if !k.devMode {
		payload = event.RedactPayload(payload)
	}
	k.sequences[source]++
	return &event.Envelope{
		EventID:       "evt-" + uuid.NewString(),
		CorrelationID: correlation,
		CausationID:   p.causationID,
		Type:          eventType,
		Source:        source,
		RecipientID:   recipientID,
		Timestamp:     event.Millis(k.clock.Now()),
		Sequence:      k.sequences[source],
		Payload:       payload,
	}
}

// processEmit runs inside the loop: contract evaluation, action selection,
// fan-out and telemetry.
func (k *Kernel) processEmit(env *event.Envelope) {
	var decision = k.engine.Evaluate(
		env,
		k.state.Get(env.RecipientID),
		false,
		k.observer(env),
		func(c *contracts.Contract) { k.onEnforcedViolation(c) },
	)

	switch decision.Action {
	case contracts.ActionDefer:
		k.deferred.Push(env.RecipientID, &deferq.Entry{
			Event:      env,
			ContractID: decision.ContractID,
			DeferredAt: k.clock.Now(),
			TTL:        k.deferTTL,
		})
		k.bump(func(c *Counters) { c.Deferred++ })
		k.metrics.IncDeferred()
	case contracts.ActionBlock, contracts.ActionDrop:
		k.bump(func(c *Counters) { c.Dropped++ })
		k.metrics.IncDropped()
	case contracts.ActionSkip:
		env.Skipped = true
		k.dispatch(env)
	default:
		k.dispatch(env)
	}

	k.record(env)
	k.metrics.SetRingSize(k.ring.Size())
}

// observer returns the ObserveFunc wiring engine-originated events onto
// the internal emission path, caused by env.
func (k *Kernel) observer(env *event.Envelope) contracts.ObserveFunc {
	return func(eventType, recipientID string, payload map[string]interface{}) {
		k.emitInternal(eventType, recipientID, payload, env)
		if eventType == event.TypeContractChecked {
			k.metrics.IncContractCheck()
			return
		}
		k.noteViolation(payload)
	}
}

func (k *Kernel) noteViolation(payload map[string]interface{}) {
	var mode, _ = payload["mode"].(string)
	if recheck, _ := payload["isRecheck"].(bool); recheck {
		return
	}
	k.mu.Lock()
	if mode == string(contracts.ModeShadow) {
		k.counters.ShadowViolations++
	} else {
		k.counters.Violations++
	}
	k.mu.Unlock()
	k.metrics.IncViolation(mode)
}

// emitInternal publishes an engine-originated event, bypassing the
// contract engine: it goes straight to dispatcher and ring buffer. All
// kernel-originated types (contract.checked, violations, safemode.*,
// pane.state.changed, *.resumed, *.dropped, bus.error) use this path,
// which breaks the contracts-gating-their-own-events cycle.
func (k *Kernel) emitInternal(eventType, recipientID string, payload map[string]interface{}, cause *event.Envelope) *event.Envelope {
	var p = emitParams{source: SourceKernel}
	if cause != nil {
		p.correlationID = cause.CorrelationID
		p.causationID = cause.EventID
	}

	k.mu.Lock()
	var env = k.buildLocked(eventType, recipientID, payload, p)
	k.loop.push(func() {
		k.dispatch(env)
		k.record(env)
	})
	k.mu.Unlock()

	k.loop.drain()
	return env
}

// record appends to the ring buffer. Telemetry failures never propagate:
// they are demoted to a best-effort bus.error event. A fault while
// recording a bus.error envelope emits nothing further, so the path is
// never re-entrant.
func (k *Kernel) record(env *event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			k.bump(func(c *Counters) { c.RingFaults++ })
			k.metrics.IncRingFault()
			k.logger.WithField("eventId", env.EventID).Error("ring buffer append faulted")

			if env.Type != event.TypeBusError {
				k.emitInternal(event.TypeBusError, event.RecipientSystem, map[string]interface{}{
					"stage":   "ring_buffer",
					"eventId": env.EventID,
					"fault":   fmt.Sprint(r),
				}, env)
			}
		}
	}()
	k.ring.Append(env)
}

func (k *Kernel) bump(fn func(*Counters)) {
	k.mu.Lock()
	fn(&k.counters)
	k.mu.Unlock()
}
