package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	var cfg = Default()

	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Kernel.RingMaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.Kernel.RingMaxAge.Std())
	assert.Equal(t, 30*time.Second, cfg.Kernel.DeferTTL.Std())
	assert.Equal(t, 10*time.Second, cfg.SafeMode.Window.Std())
	assert.Equal(t, 3, cfg.SafeMode.Threshold)
	assert.Equal(t, 30*time.Second, cfg.SafeMode.Cooldown.Std())
	assert.Equal(t, 65*time.Second, cfg.Delivery.AckTimeout.Std())
	assert.Equal(t, 60*time.Second, cfg.Trigger.StaleClaimAge.Std())
	assert.Equal(t, []string{"executing", "reviewing"}, cfg.Trigger.AllowStates)
	assert.Equal(t, "2", cfg.Roles.Panes["builder"])
	assert.Equal(t, []string{"builder"}, cfg.Roles.Workers)
	assert.Equal(t, 5, cfg.Promotion.MinSessions)
	assert.Equal(t, 2, cfg.Promotion.MinSignoffs)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Kernel.DevMode)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	var cfg, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Kernel, cfg.Kernel)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "hivemind.yaml")
	var yaml = `
server:
  port: "9999"
kernel:
  ring_max_entries: 50
  defer_ttl: 10s
safe_mode:
  threshold: 5
roles:
  panes:
    architect: "0"
    builder: "1"
  workers: [builder]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	var cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 50, cfg.Kernel.RingMaxEntries)
	assert.Equal(t, 10*time.Second, cfg.Kernel.DeferTTL.Std())
	assert.Equal(t, 5, cfg.SafeMode.Threshold)
	assert.Equal(t, "0", cfg.Roles.Panes["architect"])
	// Untouched sections keep their defaults.
	assert.Equal(t, 65*time.Second, cfg.Delivery.AckTimeout.Std())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("HIVEMIND_PORT", "7777")
	t.Setenv("HIVEMIND_DEFER_TTL", "45s")
	t.Setenv("HIVEMIND_DEV_MODE", "true")
	t.Setenv("HIVEMIND_SAFEMODE_THRESHOLD", "9")

	var cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Kernel.DeferTTL.Std())
	assert.True(t, cfg.Kernel.DevMode)
	assert.Equal(t, 9, cfg.SafeMode.Threshold)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kernel: [not a map"), 0o644))

	var _, err = Load(path)
	assert.Error(t, err)
}
