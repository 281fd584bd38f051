package telemetry

import (
	"sort"

	"github.com/hivemind/orchestrator/internal/event"
)

// Query filters ring-buffer entries. Zero fields are ignored; all set
// fields must match. Type and entries of Types accept exact types or
// `prefix.*` patterns.
type Query struct {
	CorrelationID string
	RecipientID   string
	Type          string
	Types         []string
	Since         int64 // inclusive, ms since epoch
	Until         int64 // inclusive, ms since epoch
	Limit         int
}

// Select returns matching entries, newest first, honoring Limit.
func (r *RingBuffer) Select(q Query) []*event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*event.Envelope
	for i := len(r.entries) - 1; i >= 0; i-- {
		var ev = r.entries[i]
		if !q.matches(ev) {
			continue
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}

func (q Query) matches(ev *event.Envelope) bool {
	if q.CorrelationID != "" && ev.CorrelationID != q.CorrelationID {
		return false
	}
	if q.RecipientID != "" && ev.RecipientID != q.RecipientID {
		return false
	}
	if q.Type != "" && !event.Match(q.Type, ev.Type) {
		return false
	}
	if len(q.Types) > 0 {
		var hit = false
		for _, t := range q.Types {
			if event.Match(t, ev.Type) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if q.Since != 0 && ev.Timestamp < q.Since {
		return false
	}
	if q.Until != 0 && ev.Timestamp > q.Until {
		return false
	}
	return true
}

// CausationChain collects all events sharing the correlation id and returns
// a topological traversal of their causation DAG: roots sorted by
// timestamp, children of each node sorted by timestamp, and any orphan
// whose causationId is unknown appended at the end. Every collected event
// appears exactly once, even when forged causation links form a cycle.
func (r *RingBuffer) CausationChain(correlationID string) []*event.Envelope {
	r.mu.Lock()
	var chain []*event.Envelope
	for _, ev := range r.entries {
		if ev.CorrelationID == correlationID {
			chain = append(chain, ev)
		}
	}
	r.mu.Unlock()

	var known = make(map[string]bool, len(chain))
	for _, ev := range chain {
		known[ev.EventID] = true
	}

	var roots, orphans []*event.Envelope
	var children = make(map[string][]*event.Envelope)
	for _, ev := range chain {
		switch {
		case ev.CausationID == "":
			roots = append(roots, ev)
		case known[ev.CausationID]:
			children[ev.CausationID] = append(children[ev.CausationID], ev)
		default:
			orphans = append(orphans, ev)
		}
	}

	byTimestamp(roots)
	byTimestamp(orphans)
	for _, kids := range children {
		byTimestamp(kids)
	}

	var out = make([]*event.Envelope, 0, len(chain))
	var visited = make(map[string]bool, len(chain))
	var visit func(ev *event.Envelope)
	visit = func(ev *event.Envelope) {
		if visited[ev.EventID] {
			return
		}
		visited[ev.EventID] = true
		out = append(out, ev)
		for _, kid := range children[ev.EventID] {
			visit(kid)
		}
	}
	for _, root := range roots {
		visit(root)
	}
	for _, orphan := range orphans {
		visit(orphan)
	}

	// Causation cycles reach neither a root nor an orphan; append whatever
	// the traversal could not reach so the result stays total.
	var leftovers []*event.Envelope
	for _, ev := range chain {
		if !visited[ev.EventID] {
			leftovers = append(leftovers, ev)
		}
	}
	byTimestamp(leftovers)
	return append(out, leftovers...)
}

func byTimestamp(evs []*event.Envelope) {
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Timestamp < evs[j].Timestamp
	})
}
