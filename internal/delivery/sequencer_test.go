package delivery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemind/orchestrator/internal/clock"
)

func TestNextIsMonotonicPerSender(t *testing.T) {
	var s = NewSequencer("", nil)

	assert.Equal(t, uint64(1), s.Next("architect"))
	assert.Equal(t, uint64(2), s.Next("architect"))
	assert.Equal(t, uint64(1), s.Next("builder"))
	assert.Equal(t, uint64(2), s.Outbound("architect"))
}

func TestCommitRaisesWatermarkMonotonically(t *testing.T) {
	var s = NewSequencer("", nil)

	s.Commit("architect", "builder", 5)
	assert.Equal(t, uint64(5), s.LastSeen("architect", "builder"))

	// A lower commit never lowers the watermark.
	s.Commit("architect", "builder", 3)
	assert.Equal(t, uint64(5), s.LastSeen("architect", "builder"))

	// Other pairs are independent.
	assert.Equal(t, uint64(0), s.LastSeen("architect", "oracle"))
}

func TestResetSession(t *testing.T) {
	var s = NewSequencer("", nil)
	s.Commit("architect", "builder", 9)

	s.ResetSession("architect", "builder")
	assert.Equal(t, uint64(0), s.LastSeen("architect", "builder"))
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "message-state.json")
	var fc = clock.NewFake(time.Unix(1000, 0))

	var s = NewSequencer(path, fc)
	s.Next("architect")
	s.Next("architect")
	s.Commit("architect", "builder", 2)

	var restored = NewSequencer(path, fc)
	require.NoError(t, restored.Load())
	assert.Equal(t, uint64(3), restored.Next("architect"))
	assert.Equal(t, uint64(2), restored.LastSeen("architect", "builder"))
}

func TestLoadMergesByMax(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "message-state.json")
	var s = NewSequencer(path, nil)

	// Memory already ahead of disk on one counter, behind on another.
	s.Next("architect")
	s.Next("architect")
	s.Next("architect")

	var onDisk = stateFile{
		Version: stateVersion,
		Sequences: map[string]roleState{
			"architect": {Outbound: 1},
			"builder":   {Outbound: 7, LastSeen: map[string]uint64{"architect": 4}},
		},
	}
	var data, err = json.MarshalIndent(onDisk, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.NoError(t, s.Load())
	assert.Equal(t, uint64(3), s.Outbound("architect"))
	assert.Equal(t, uint64(7), s.Outbound("builder"))
	assert.Equal(t, uint64(4), s.LastSeen("architect", "builder"))
}

func TestLoadMissingFileIsFine(t *testing.T) {
	var s = NewSequencer(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.NoError(t, s.Load())
}

func TestPersistedShapeKeyedByRole(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "message-state.json")
	var s = NewSequencer(path, nil)
	s.Next("architect")
	s.Commit("builder", "architect", 2)

	var data, err = os.ReadFile(path)
	require.NoError(t, err)
	var f stateFile
	require.NoError(t, json.Unmarshal(data, &f))

	assert.Equal(t, stateVersion, f.Version)
	assert.Equal(t, uint64(1), f.Sequences["architect"].Outbound)
	assert.Equal(t, uint64(2), f.Sequences["architect"].LastSeen["builder"])
}
