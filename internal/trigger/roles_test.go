package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirect(t *testing.T) {
	var table = DefaultTable()

	var targets, kind, err = table.Resolve("builder")
	require.NoError(t, err)
	assert.Equal(t, KindDirect, kind)
	require.Len(t, targets, 1)
	assert.Equal(t, "builder", targets[0].Role)
	assert.Equal(t, "2", targets[0].PaneID)
	assert.True(t, targets[0].Worker)
}

func TestResolveAll(t *testing.T) {
	var targets, kind, err = DefaultTable().Resolve("all")
	require.NoError(t, err)
	assert.Equal(t, KindBroadcast, kind)

	var roles []string
	for _, tg := range targets {
		roles = append(roles, tg.Role)
	}
	assert.Equal(t, []string{"architect", "builder", "oracle"}, roles)
}

func TestResolveWorkersAndAlias(t *testing.T) {
	var table = DefaultTable()

	var workers, kind, err = table.Resolve("workers")
	require.NoError(t, err)
	assert.Equal(t, KindBroadcast, kind)
	require.Len(t, workers, 1)
	assert.Equal(t, "builder", workers[0].Role)

	var aliased, _, err2 = table.Resolve("implementers")
	require.NoError(t, err2)
	assert.Equal(t, workers, aliased)
}

func TestResolveOthers(t *testing.T) {
	var targets, kind, err = DefaultTable().Resolve("others-builder")
	require.NoError(t, err)
	assert.Equal(t, KindOthers, kind)

	var roles []string
	for _, tg := range targets {
		roles = append(roles, tg.Role)
	}
	assert.Equal(t, []string{"architect", "oracle"}, roles)
}

func TestResolveUnknown(t *testing.T) {
	var _, _, err = DefaultTable().Resolve("stranger")
	assert.Error(t, err)

	_, _, err = DefaultTable().Resolve("others-stranger")
	assert.Error(t, err)
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	var targets, _, err = DefaultTable().Resolve("ORACLE")
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "4", targets[0].PaneID)
}

func TestExcludeSender(t *testing.T) {
	var all, _, err = DefaultTable().Resolve("all")
	require.NoError(t, err)

	var rest = exclude(all, "Builder")
	require.Len(t, rest, 2)
	for _, tg := range rest {
		assert.NotEqual(t, "builder", tg.Role)
	}
}
