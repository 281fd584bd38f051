package trigger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/delivery"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/kernel"
)

type captureEmitter struct {
	events []*event.Envelope
}

func (c *captureEmitter) Emit(eventType, recipientID string, payload map[string]interface{}, opts ...kernel.EmitOption) *event.Envelope {
	var env = &event.Envelope{Type: eventType, RecipientID: recipientID, Payload: payload}
	c.events = append(c.events, env)
	return env
}

type fixture struct {
	dir      string
	ingestor *Ingestor
	tracker  *delivery.Tracker
	emitter  *captureEmitter
	clock    *clock.Fake
	state    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var f = &fixture{
		dir:     t.TempDir(),
		emitter: &captureEmitter{},
		clock:   clock.NewFake(time.Now()),
		state:   "executing",
	}
	f.tracker = delivery.NewTracker(delivery.TrackerOptions{
		Sequencer: delivery.NewSequencer("", f.clock),
		Clock:     f.clock,
	})
	f.ingestor = NewIngestor(Options{
		Dir:           f.dir,
		Tracker:       f.tracker,
		Emitter:       f.emitter,
		Clock:         f.clock,
		WorkflowState: func() string { return f.state },
	})
	return f
}

func (f *fixture) drop(t *testing.T, name, content string) string {
	t.Helper()
	var path = filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProcessFileDirectDispatch(t *testing.T) {
	var f = newFixture(t)
	var path = f.drop(t, "builder.txt", "(architect #1): build it")

	var res = f.ingestor.ProcessFile(path)

	require.Equal(t, StatusDispatched, res.Status)
	assert.Equal(t, []string{"2"}, res.Targets)
	assert.NotEmpty(t, res.DeliveryID)

	require.Len(t, f.emitter.events, 1)
	var ev = f.emitter.events[0]
	assert.Equal(t, event.TypeInjectRequested, ev.Type)
	assert.Equal(t, "2", ev.RecipientID)
	assert.Equal(t, "build it", ev.Payload["message"])
	assert.Equal(t, "architect", ev.Payload["sender"])
	assert.Equal(t, uint64(1), ev.Payload["seq"])
	assert.Equal(t, res.DeliveryID, ev.Payload["deliveryId"])

	assert.Equal(t, 1, f.tracker.Outstanding())

	// Both the trigger file and the claim are gone.
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+".processing")
}

func TestProcessFileBroadcastExcludesSender(t *testing.T) {
	var f = newFixture(t)
	var path = f.drop(t, "all.txt", "(builder #1): status update")

	var res = f.ingestor.ProcessFile(path)

	require.Equal(t, StatusDispatched, res.Status)
	// architect pane 1 and oracle pane 4; builder excluded itself.
	assert.ElementsMatch(t, []string{"1", "4"}, res.Targets)
	assert.Len(t, f.emitter.events, 2)
	for _, ev := range f.emitter.events {
		assert.Equal(t, "broadcast", ev.Payload["mode"])
	}
}

func TestProcessFileWorkflowGateBlocksWorkers(t *testing.T) {
	var f = newFixture(t)
	f.state = "planning"
	var path = f.drop(t, "workers.txt", "(architect #1): start")

	var res = f.ingestor.ProcessFile(path)

	assert.Equal(t, StatusWorkflowGate, res.Status)
	assert.Equal(t, "planning", res.Reason)
	// The file is left in place for a later state.
	assert.FileExists(t, path)

	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, "trigger.blocked", f.emitter.events[0].Type)
}

func TestProcessFileWorkflowGateAllowsNonWorkers(t *testing.T) {
	var f = newFixture(t)
	f.state = "planning"
	var path = f.drop(t, "oracle.txt", "(architect #1): review please")

	var res = f.ingestor.ProcessFile(path)
	assert.Equal(t, StatusDispatched, res.Status)
}

func TestProcessFileUnknownStem(t *testing.T) {
	var f = newFixture(t)
	var path = f.drop(t, "stranger.txt", "(architect #1): hi")

	var res = f.ingestor.ProcessFile(path)
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, "unknown", res.Reason)
}

func TestProcessFileUnsequencedBody(t *testing.T) {
	var f = newFixture(t)
	var path = f.drop(t, "builder.txt", "just some text")

	var res = f.ingestor.ProcessFile(path)
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, "unsequenced_body", res.Reason)
	assert.Empty(t, f.emitter.events)
}

func TestProcessFileClaimConflict(t *testing.T) {
	var f = newFixture(t)
	var path = f.drop(t, "builder.txt", "(architect #1): hi")
	f.drop(t, "builder.txt.processing", "claimed by another consumer")

	var res = f.ingestor.ProcessFile(path)
	assert.Equal(t, StatusClaimConflict, res.Status)
	assert.FileExists(t, path)
}

func TestProcessFileStaleClaimRecovered(t *testing.T) {
	var f = newFixture(t)
	var path = f.drop(t, "builder.txt", "(architect #1): hi")
	var stale = f.drop(t, "builder.txt.processing", "stuck")
	var old = time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(stale, old, old))

	var res = f.ingestor.ProcessFile(path)
	assert.Equal(t, StatusDispatched, res.Status)
	assert.NoFileExists(t, stale)
}

func TestProcessFileMessageIDDedupe(t *testing.T) {
	var f = newFixture(t)
	var body = "[HM-MESSAGE-ID:msg-1]\n(architect #%d): attempt"

	var res = f.ingestor.ProcessFile(f.drop(t, "builder.txt", fmt.Sprintf(body, 1)))
	require.Equal(t, StatusDispatched, res.Status)

	// Same fallback id, different sequence: still a duplicate.
	res = f.ingestor.ProcessFile(f.drop(t, "builder.txt", fmt.Sprintf(body, 2)))
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Equal(t, "duplicate_message_id", res.Reason)
	assert.Len(t, f.emitter.events, 1)
}

func TestProcessFileSequenceDedupe(t *testing.T) {
	var f = newFixture(t)
	f.tracker.Sequencer().Commit("architect", "2", 5)

	var res = f.ingestor.ProcessFile(f.drop(t, "builder.txt", "(architect #4): stale"))
	assert.Equal(t, StatusDuplicate, res.Status)
	assert.Equal(t, "duplicate_sequence", res.Reason)
}

func TestProcessFileSessionReset(t *testing.T) {
	var f = newFixture(t)
	f.tracker.Sequencer().Commit("architect", "2", 9)

	var res = f.ingestor.ProcessFile(f.drop(t, "builder.txt",
		"(architect #1): "+delivery.SessionResetMarker+" starting over"))

	require.Equal(t, StatusDispatched, res.Status)
	assert.Equal(t, uint64(0), f.tracker.Sequencer().LastSeen("architect", "2"))
}

func TestProcessFileUTF16Body(t *testing.T) {
	var f = newFixture(t)
	var path = filepath.Join(f.dir, "builder.txt")
	require.NoError(t, os.WriteFile(path, utf16le("(architect #1): unicode ok"), 0o644))

	var res = f.ingestor.ProcessFile(path)
	require.Equal(t, StatusDispatched, res.Status)
	assert.Equal(t, "unicode ok", f.emitter.events[0].Payload["message"])
}

func TestProcessFileIgnoresNonTriggerNames(t *testing.T) {
	var f = newFixture(t)
	var res = f.ingestor.ProcessFile(filepath.Join(f.dir, "notes.md"))
	assert.Equal(t, StatusInvalid, res.Status)
	assert.Equal(t, "not_a_trigger", res.Reason)
}

func TestIsTriggerFile(t *testing.T) {
	assert.True(t, isTriggerFile("/tmp/x/builder.txt"))
	assert.True(t, isTriggerFile("ALL.TXT"))
	assert.False(t, isTriggerFile("builder.txt.processing"))
	assert.False(t, isTriggerFile("readme.md"))
}
