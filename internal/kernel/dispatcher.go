package kernel

import (
	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/event"
)

// Handler receives dispatched envelopes. Envelopes are shared read-only
// references; handlers must not mutate them. A panicking handler is
// isolated: remaining handlers still run and the dispatch step completes.
type Handler func(ev *event.Envelope)

type subscription struct {
	id      int
	pattern string
	handler Handler
}

// Subscribe registers a handler for an exact type or a prefix pattern
// ending in `.*` (or the universal `*`). It returns an unsubscribe
// function. Fan-out invokes exact subscribers before wildcard subscribers;
// within each kind, registration order.
func (k *Kernel) Subscribe(pattern string, h Handler) (func(), error) {
	if err := event.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.nextSubID++
	var sub = &subscription{id: k.nextSubID, pattern: pattern, handler: h}
	if event.IsWildcard(pattern) {
		k.wildcard = append(k.wildcard, sub)
	} else {
		k.exact[pattern] = append(k.exact[pattern], sub)
	}
	k.mu.Unlock()

	return func() { k.unsubscribe(sub) }, nil
}

func (k *Kernel) unsubscribe(sub *subscription) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if event.IsWildcard(sub.pattern) {
		k.wildcard = removeSub(k.wildcard, sub.id)
		return
	}
	k.exact[sub.pattern] = removeSub(k.exact[sub.pattern], sub.id)
	if len(k.exact[sub.pattern]) == 0 {
		delete(k.exact, sub.pattern)
	}
}

func removeSub(subs []*subscription, id int) []*subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// dispatch fans the envelope out to matching subscribers. Runs inside the
// loop.
func (k *Kernel) dispatch(ev *event.Envelope) {
	k.mu.Lock()
	var targets = make([]*subscription, 0, 4)
	targets = append(targets, k.exact[ev.Type]...)
	for _, sub := range k.wildcard {
		if event.Match(sub.pattern, ev.Type) {
			targets = append(targets, sub)
		}
	}
	k.counters.Delivered++
	k.mu.Unlock()
	k.metrics.IncDelivered()

	for _, sub := range targets {
		k.invoke(sub, ev)
	}
}

func (k *Kernel) invoke(sub *subscription, ev *event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			k.mu.Lock()
			k.counters.HandlerFaults++
			k.mu.Unlock()
			k.metrics.IncHandlerFault()
			k.logger.WithFields(log.Fields{
				"pattern":   sub.pattern,
				"eventType": ev.Type,
				"eventId":   ev.EventID,
				"panic":     r,
			}).Warn("subscriber handler faulted")
		}
	}()
	sub.handler(ev)
}
