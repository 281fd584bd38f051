package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/event"
)

type fakeEmitter struct {
	events []*event.Envelope
}

func (f *fakeEmitter) Publish(eventType, recipientID string, payload map[string]interface{}) *event.Envelope {
	var env = &event.Envelope{Type: eventType, RecipientID: recipientID, Payload: payload}
	f.events = append(f.events, env)
	return env
}

func newTestTracker(t *testing.T) (*Tracker, *fakeEmitter, *clock.Fake) {
	t.Helper()
	var fc = clock.NewFake(time.Unix(1000, 0))
	var em = &fakeEmitter{}
	var tr = NewTracker(TrackerOptions{
		Sequencer: NewSequencer("", fc),
		Emitter:   em,
		Clock:     fc,
		Timeout:   65 * time.Second,
	})
	return tr, em, fc
}

func TestBroadcastCommitsOnlyWhenAllVerified(t *testing.T) {
	var tr, _, fc = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2", "4"}, "message", ModeBroadcast)
	require.Equal(t, 1, tr.Outstanding())

	fc.Advance(time.Second)
	outcome, err := tr.Report("dlv-1", "2", Report{Accepted: true, Verified: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)

	// Watermark not committed while a recipient is outstanding.
	assert.Equal(t, uint64(0), tr.Sequencer().LastSeen("architect", "2"))

	fc.Advance(time.Second)
	outcome, err = tr.Report("dlv-1", "4", Report{Accepted: true, Verified: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeliveredVerified, outcome)

	assert.Equal(t, uint64(3), tr.Sequencer().LastSeen("architect", "2"))
	assert.Equal(t, uint64(3), tr.Sequencer().LastSeen("architect", "4"))
	assert.Equal(t, 0, tr.Outstanding())

	var snap = tr.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.Totals.Delivered)
	assert.Equal(t, 2*time.Second, snap.LatencyP50)
}

func TestUnverifiedAckPreventsCommit(t *testing.T) {
	var tr, _, _ = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2"}, "message", ModeDirect)
	outcome, err := tr.Report("dlv-1", "2", Report{Accepted: true, Verified: false})
	require.NoError(t, err)

	assert.Equal(t, OutcomeAcceptedUnverified, outcome)
	assert.Equal(t, uint64(0), tr.Sequencer().LastSeen("architect", "2"))
}

func TestFailedReportResolvesFailed(t *testing.T) {
	var tr, _, _ = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2", "4"}, "message", ModeBroadcast)
	tr.Report("dlv-1", "2", Report{Accepted: true, Verified: true})
	outcome, err := tr.Report("dlv-1", "4", Report{Accepted: false, Reason: "pane gone"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDeliveryFailed, outcome)
	assert.Equal(t, uint64(0), tr.Sequencer().LastSeen("architect", "2"))
}

func TestReportUnknownDeliveryErrors(t *testing.T) {
	var tr, _, _ = newTestTracker(t)
	var _, err = tr.Report("dlv-missing", "2", Report{Accepted: true, Verified: true})
	assert.Error(t, err)
}

func TestReportUnexpectedRecipientIgnored(t *testing.T) {
	var tr, _, _ = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2"}, "message", ModeDirect)
	outcome, err := tr.Report("dlv-1", "9", Report{Accepted: true, Verified: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, outcome)
	assert.Equal(t, 1, tr.Outstanding())
}

func TestTimeoutOutcomeByMode(t *testing.T) {
	var tr, em, fc = newTestTracker(t)

	tr.Start("dlv-direct", "architect", 3, []string{"2"}, "message", ModeDirect)
	tr.Start("dlv-broadcast", "architect", 4, []string{"2", "4"}, "message", ModeBroadcast)

	fc.Advance(65 * time.Second)

	assert.Equal(t, 0, tr.Outstanding())
	require.Len(t, em.events, 2)
	var outcomes = map[string]bool{}
	for _, ev := range em.events {
		require.Equal(t, event.TypeDeliveryTimeout, ev.Type)
		outcomes[ev.Payload["outcome"].(string)] = true
	}
	assert.True(t, outcomes[OutcomeRoutedTimeout])
	assert.True(t, outcomes[OutcomeBroadcastTimeout])
}

func TestLateReportAfterTimeoutErrors(t *testing.T) {
	var tr, _, fc = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2"}, "message", ModeDirect)
	fc.Advance(66 * time.Second)

	var _, err = tr.Report("dlv-1", "2", Report{Accepted: true, Verified: true})
	assert.Error(t, err)
}

func TestResolveStopsTimer(t *testing.T) {
	var tr, em, fc = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2"}, "message", ModeDirect)
	tr.Report("dlv-1", "2", Report{Accepted: true, Verified: true})

	fc.Advance(65 * time.Second)
	assert.Empty(t, em.events)
}

func TestShouldDeliverSuppressesDuplicates(t *testing.T) {
	var tr, em, _ = newTestTracker(t)
	tr.Sequencer().Commit("architect", "2", 5)

	assert.False(t, tr.ShouldDeliver("architect", "2", 5, "old"))
	assert.False(t, tr.ShouldDeliver("architect", "2", 3, "older"))
	assert.True(t, tr.ShouldDeliver("architect", "2", 6, "new"))

	require.Len(t, em.events, 2)
	assert.Equal(t, event.TypeDeliverySkipped, em.events[0].Type)
	assert.Equal(t, "duplicate_sequence", em.events[0].Payload["reason"])

	var snap = tr.Metrics().Snapshot()
	assert.Equal(t, uint64(2), snap.Totals.Skipped)
}

func TestShouldDeliverSessionResetZeroesWatermark(t *testing.T) {
	var tr, _, _ = newTestTracker(t)
	tr.Sequencer().Commit("architect", "2", 9)

	assert.True(t, tr.ShouldDeliver("architect", "2", 1, SessionResetMarker+" restarting"))
	assert.Equal(t, uint64(0), tr.Sequencer().LastSeen("architect", "2"))
	// Subsequent low sequences flow again.
	assert.True(t, tr.ShouldDeliver("architect", "2", 2, "hello"))
}

func TestTrackerReset(t *testing.T) {
	var tr, em, fc = newTestTracker(t)

	tr.Start("dlv-1", "architect", 3, []string{"2"}, "message", ModeDirect)
	tr.Reset()

	assert.Equal(t, 0, tr.Outstanding())
	fc.Advance(65 * time.Second)
	assert.Empty(t, em.events)
}
