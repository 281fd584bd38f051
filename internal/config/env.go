package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv layers HIVEMIND_* environment variables over the config. Env
// wins over file values.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.Port, "HIVEMIND_PORT")
	setString(&cfg.Server.Env, "HIVEMIND_ENV")

	setInt(&cfg.Kernel.RingMaxEntries, "HIVEMIND_RING_MAX_ENTRIES")
	setDuration(&cfg.Kernel.RingMaxAge, "HIVEMIND_RING_MAX_AGE")
	setDuration(&cfg.Kernel.DeferTTL, "HIVEMIND_DEFER_TTL")
	setBool(&cfg.Kernel.DevMode, "HIVEMIND_DEV_MODE")

	setDuration(&cfg.SafeMode.Window, "HIVEMIND_SAFEMODE_WINDOW")
	setInt(&cfg.SafeMode.Threshold, "HIVEMIND_SAFEMODE_THRESHOLD")
	setDuration(&cfg.SafeMode.Cooldown, "HIVEMIND_SAFEMODE_COOLDOWN")

	setDuration(&cfg.Delivery.AckTimeout, "HIVEMIND_ACK_TIMEOUT")
	setString(&cfg.Delivery.StatePath, "HIVEMIND_STATE_PATH")

	setString(&cfg.Trigger.Dir, "HIVEMIND_TRIGGER_DIR")
	setDuration(&cfg.Trigger.StaleClaimAge, "HIVEMIND_STALE_CLAIM_AGE")
	setDuration(&cfg.Trigger.RescanInterval, "HIVEMIND_RESCAN_INTERVAL")

	setString(&cfg.Promotion.StatsPath, "HIVEMIND_STATS_PATH")

	setBool(&cfg.Redis.Enabled, "HIVEMIND_REDIS_ENABLED")
	setString(&cfg.Redis.Addr, "HIVEMIND_REDIS_ADDR")
	setString(&cfg.Redis.Channel, "HIVEMIND_REDIS_CHANNEL")

	setString(&cfg.Logging.Level, "HIVEMIND_LOG_LEVEL")
	setString(&cfg.Logging.Format, "HIVEMIND_LOG_FORMAT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
