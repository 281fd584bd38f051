package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/event"
)

func entryAt(c clock.Clock, id, evType, recipient, correlation, causation string) *event.Envelope {
	return &event.Envelope{
		EventID:       id,
		CorrelationID: correlation,
		CausationID:   causation,
		Type:          evType,
		Source:        "test",
		RecipientID:   recipient,
		Timestamp:     event.Millis(c.Now()),
	}
}

func TestEvictionRequiresBothCountAndAge(t *testing.T) {
	var fc = clock.NewFake(time.Unix(1000, 0))
	var r = NewRingBuffer(3, time.Minute, fc)

	// Burst past the count limit while everything is fresh: nothing is
	// evicted.
	for i := 0; i < 5; i++ {
		r.Append(entryAt(fc, fmt.Sprintf("evt-%d", i), "inject.requested", "pane-1", "cor-1", ""))
	}
	assert.Equal(t, 5, r.Size())

	// Age the burst out: the next append trims down to the count limit.
	fc.Advance(2 * time.Minute)
	r.Append(entryAt(fc, "evt-5", "inject.requested", "pane-1", "cor-1", ""))
	assert.Equal(t, 3, r.Size())

	// Old entries within the count limit survive regardless of age.
	fc.Advance(2 * time.Minute)
	var got = r.Select(Query{})
	assert.Len(t, got, 3)
}

func TestSelectFiltersAndOrder(t *testing.T) {
	var fc = clock.NewFake(time.Unix(1000, 0))
	var r = NewRingBuffer(0, 0, fc)

	r.Append(entryAt(fc, "evt-1", "inject.requested", "pane-1", "cor-1", ""))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "evt-2", "resize.requested", "pane-2", "cor-1", ""))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "evt-3", "inject.resumed", "pane-1", "cor-2", ""))

	// Newest first.
	var all = r.Select(Query{})
	require.Len(t, all, 3)
	assert.Equal(t, "evt-3", all[0].EventID)
	assert.Equal(t, "evt-1", all[2].EventID)

	var byCor = r.Select(Query{CorrelationID: "cor-1"})
	require.Len(t, byCor, 2)

	var byType = r.Select(Query{Type: "inject.*"})
	require.Len(t, byType, 2)
	assert.Equal(t, "evt-3", byType[0].EventID)

	var byRecipient = r.Select(Query{RecipientID: "pane-2"})
	require.Len(t, byRecipient, 1)

	var limited = r.Select(Query{Limit: 1})
	require.Len(t, limited, 1)
	assert.Equal(t, "evt-3", limited[0].EventID)
}

func TestSelectTimeWindow(t *testing.T) {
	var fc = clock.NewFake(time.Unix(1000, 0))
	var r = NewRingBuffer(0, 0, fc)

	var t0 = event.Millis(fc.Now())
	r.Append(entryAt(fc, "evt-1", "inject.requested", "pane-1", "cor-1", ""))
	fc.Advance(10 * time.Second)
	r.Append(entryAt(fc, "evt-2", "inject.requested", "pane-1", "cor-1", ""))

	var late = r.Select(Query{Since: t0 + 1})
	require.Len(t, late, 1)
	assert.Equal(t, "evt-2", late[0].EventID)

	var early = r.Select(Query{Until: t0})
	require.Len(t, early, 1)
	assert.Equal(t, "evt-1", early[0].EventID)
}

func TestCausationChainTopologicalOrder(t *testing.T) {
	var fc = clock.NewFake(time.Unix(1000, 0))
	var r = NewRingBuffer(0, 0, fc)

	// root -> a -> b, plus an orphan whose cause was evicted.
	r.Append(entryAt(fc, "root", "inject.requested", "pane-1", "cor-1", ""))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "a", "contract.checked", "pane-1", "cor-1", "root"))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "b", "inject.resumed", "pane-1", "cor-1", "a"))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "orphan", "bus.error", "system", "cor-1", "gone"))

	var chain = r.CausationChain("cor-1")
	require.Len(t, chain, 4)
	assert.Equal(t, "root", chain[0].EventID)
	assert.Equal(t, "a", chain[1].EventID)
	assert.Equal(t, "b", chain[2].EventID)
	assert.Equal(t, "orphan", chain[3].EventID)

	assert.Empty(t, r.CausationChain("cor-unknown"))
}

func TestCausationChainIsTotalUnderCycles(t *testing.T) {
	var fc = clock.NewFake(time.Unix(1000, 0))
	var r = NewRingBuffer(0, 0, fc)

	// Forged ingested links: x and y cause each other, so neither is a
	// root nor an orphan. They must still appear, after the real tree.
	r.Append(entryAt(fc, "x", "inject.requested", "pane-1", "cor-1", "y"))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "y", "inject.requested", "pane-1", "cor-1", "x"))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "root", "resize.requested", "pane-2", "cor-1", ""))

	var chain = r.CausationChain("cor-1")
	require.Len(t, chain, 3)
	assert.Equal(t, "root", chain[0].EventID)
	assert.Equal(t, "x", chain[1].EventID)
	assert.Equal(t, "y", chain[2].EventID)
}

func TestCausationChainVisitsEachEventOnce(t *testing.T) {
	var fc = clock.NewFake(time.Unix(1000, 0))
	var r = NewRingBuffer(0, 0, fc)

	// A self-caused event is its own cycle.
	r.Append(entryAt(fc, "self", "inject.requested", "pane-1", "cor-1", "self"))
	fc.Advance(time.Second)
	r.Append(entryAt(fc, "kid", "inject.resumed", "pane-1", "cor-1", "self"))

	var chain = r.CausationChain("cor-1")
	require.Len(t, chain, 2)
	assert.Equal(t, "self", chain[0].EventID)
	assert.Equal(t, "kid", chain[1].EventID)
}
