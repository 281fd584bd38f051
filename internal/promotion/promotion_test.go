package promotion

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/contracts"
	"github.com/hivemind/orchestrator/internal/event"
	"github.com/hivemind/orchestrator/internal/panestate"
)

type fakeKernel struct {
	registry  *contracts.Registry
	published []*event.Envelope
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{registry: contracts.NewRegistry()}
}

func (f *fakeKernel) RegisterContract(c contracts.Contract) error {
	return f.registry.Register(c)
}

func (f *fakeKernel) Contracts() *contracts.Registry {
	return f.registry
}

func (f *fakeKernel) Publish(eventType, recipientID string, payload map[string]interface{}) *event.Envelope {
	var env = &event.Envelope{Type: eventType, RecipientID: recipientID, Payload: payload}
	f.published = append(f.published, env)
	return env
}

func shadowContract(id string) contracts.Contract {
	return contracts.Contract{
		ID:        id,
		AppliesTo: []string{"inject.*"},
		Preconditions: []contracts.Predicate{{
			Name:  "check",
			Check: func(ev *event.Envelope, state panestate.Vector) bool { return true },
		}},
		Action: contracts.ActionBlock,
		Mode:   contracts.ModeShadow,
	}
}

func newTestEngine(t *testing.T, k *fakeKernel, path string) *Engine {
	t.Helper()
	return NewEngine(Options{
		Kernel: k,
		Clock:  clock.NewFake(time.Unix(1000, 0)),
		Path:   path,
	})
}

func makeReady(e *Engine, id string) {
	for i := 0; i < DefaultMinSessions; i++ {
		e.IncrementSession()
	}
	e.AddSignoff(id, "architect")
	e.AddSignoff(id, "oracle")
}

func TestReadinessCriteria(t *testing.T) {
	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("c1")))
	var e = newTestEngine(t, k, "")

	assert.False(t, e.Ready("c1"))

	for i := 0; i < DefaultMinSessions; i++ {
		e.IncrementSession()
	}
	assert.False(t, e.Ready("c1"), "sessions alone are not enough")

	e.AddSignoff("c1", "architect")
	e.AddSignoff("c1", "architect") // repeat counts once
	assert.False(t, e.Ready("c1"))

	e.AddSignoff("c1", "oracle")
	assert.True(t, e.Ready("c1"))

	// A false positive revokes readiness.
	e.RecordFalsePositive("c1")
	assert.False(t, e.Ready("c1"))
}

func TestViolationsDoNotBlockReadiness(t *testing.T) {
	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("c1")))
	var e = newTestEngine(t, k, "")

	makeReady(e, "c1")
	e.RecordViolation("c1")
	e.RecordViolation("c1")

	assert.True(t, e.Ready("c1"))
	assert.Equal(t, 2, e.Stats("c1").ShadowViolations)
}

func TestHandleShadowViolation(t *testing.T) {
	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("c1")))
	var e = newTestEngine(t, k, "")

	e.HandleShadowViolation(&event.Envelope{
		Type:    event.TypeContractShadowViolation,
		Payload: map[string]interface{}{"contractId": "c1"},
	})
	e.HandleShadowViolation(&event.Envelope{Type: event.TypeContractShadowViolation})

	assert.Equal(t, 1, e.Stats("c1").ShadowViolations)
}

func TestPromoteReRegistersEnforced(t *testing.T) {
	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("c1")))
	var e = newTestEngine(t, k, "")
	makeReady(e, "c1")

	require.NoError(t, e.Promote("c1"))

	assert.Equal(t, contracts.ModeEnforced, k.registry.Get("c1").Mode)
	assert.Equal(t, string(contracts.ModeEnforced), e.Stats("c1").Mode)

	require.Len(t, k.published, 1)
	assert.Equal(t, event.TypeContractPromoted, k.published[0].Type)
	assert.Equal(t, "c1", k.published[0].Payload["contractId"])
}

func TestPromoteRejectsUnreadyAndUnknown(t *testing.T) {
	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("c1")))
	var e = newTestEngine(t, k, "")

	assert.Error(t, e.Promote("c1"))
	assert.Error(t, e.Promote("missing"))

	makeReady(e, "c1")
	require.NoError(t, e.Promote("c1"))
	// Already enforced now.
	assert.Error(t, e.Promote("c1"))
}

func TestCheckAndPromote(t *testing.T) {
	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("ready")))
	require.NoError(t, k.RegisterContract(shadowContract("not-ready")))
	var e = newTestEngine(t, k, "")

	makeReady(e, "ready")
	// not-ready saw the sessions but has no signoffs.

	assert.Equal(t, []string{"ready"}, e.CheckAndPromote())
	assert.Equal(t, contracts.ModeEnforced, k.registry.Get("ready").Mode)
	assert.Equal(t, contracts.ModeShadow, k.registry.Get("not-ready").Mode)
}

func TestPersistAndLoadMerge(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "contract-stats.json")

	var k = newFakeKernel()
	require.NoError(t, k.RegisterContract(shadowContract("c1")))
	var e = newTestEngine(t, k, path)
	e.IncrementSession()
	e.IncrementSession()
	e.AddSignoff("c1", "architect")
	e.RecordViolation("c1")
	require.FileExists(t, path)

	// A second engine with its own in-memory progress merges by max /
	// union on load.
	var k2 = newFakeKernel()
	require.NoError(t, k2.RegisterContract(shadowContract("c1")))
	var e2 = newTestEngine(t, k2, path)
	e2.IncrementSession()
	e2.AddSignoff("c1", "oracle")

	require.NoError(t, e2.Load())
	var s = e2.Stats("c1")
	assert.Equal(t, 2, s.SessionsTracked)
	assert.Equal(t, 1, s.ShadowViolations)
	assert.ElementsMatch(t, []string{"architect", "oracle"}, s.AgentSignoffs)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	var e = newTestEngine(t, newFakeKernel(), filepath.Join(t.TempDir(), "absent.json"))
	assert.NoError(t, e.Load())
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "contract-stats.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	var e = newTestEngine(t, newFakeKernel(), path)
	assert.Error(t, e.Load())
}
