// Package config loads the orchestrator configuration: YAML file first,
// then environment overrides on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns the standard-library form.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Kernel    KernelConfig    `yaml:"kernel"`
	SafeMode  SafeModeConfig  `yaml:"safe_mode"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Trigger   TriggerConfig   `yaml:"trigger"`
	Roles     RolesConfig     `yaml:"roles"`
	Promotion PromotionConfig `yaml:"promotion"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type KernelConfig struct {
	RingMaxEntries int      `yaml:"ring_max_entries"`
	RingMaxAge     Duration `yaml:"ring_max_age"`
	DeferTTL       Duration `yaml:"defer_ttl"`
	DevMode        bool     `yaml:"dev_mode"`
}

type SafeModeConfig struct {
	Window    Duration `yaml:"window"`
	Threshold int      `yaml:"threshold"`
	Cooldown  Duration `yaml:"cooldown"`
}

type DeliveryConfig struct {
	AckTimeout Duration `yaml:"ack_timeout"`
	StatePath  string   `yaml:"state_path"`
}

type TriggerConfig struct {
	Dir            string   `yaml:"dir"`
	StaleClaimAge  Duration `yaml:"stale_claim_age"`
	DedupeTTL      Duration `yaml:"dedupe_ttl"`
	DedupeCap      int      `yaml:"dedupe_cap"`
	RescanInterval Duration `yaml:"rescan_interval"`
	AllowStates    []string `yaml:"allow_states"`
}

type RolesConfig struct {
	Panes   map[string]string `yaml:"panes"`
	Workers []string          `yaml:"workers"`
}

type PromotionConfig struct {
	MinSessions int    `yaml:"min_sessions"`
	MinSignoffs int    `yaml:"min_signoffs"`
	StatsPath   string `yaml:"stats_path"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the documented defaults. Load starts from these.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8090",
			Env:  "production",
		},
		Kernel: KernelConfig{
			RingMaxEntries: 1000,
			RingMaxAge:     Duration(5 * time.Minute),
			DeferTTL:       Duration(30 * time.Second),
		},
		SafeMode: SafeModeConfig{
			Window:    Duration(10 * time.Second),
			Threshold: 3,
			Cooldown:  Duration(30 * time.Second),
		},
		Delivery: DeliveryConfig{
			AckTimeout: Duration(65 * time.Second),
			StatePath:  "state/message-state.json",
		},
		Trigger: TriggerConfig{
			Dir:            "triggers",
			StaleClaimAge:  Duration(60 * time.Second),
			DedupeTTL:      Duration(5 * time.Minute),
			DedupeCap:      2000,
			RescanInterval: Duration(5 * time.Second),
			AllowStates:    []string{"executing", "reviewing"},
		},
		Roles: RolesConfig{
			Panes: map[string]string{
				"architect": "1",
				"builder":   "2",
				"oracle":    "4",
			},
			Workers: []string{"builder"},
		},
		Promotion: PromotionConfig{
			MinSessions: 5,
			MinSignoffs: 2,
			StatsPath:   "state/contract-stats.json",
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			Channel: "hivemind:events",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults and applies env
// overrides. A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	var cfg = Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config: %w", err)
		}
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode config: %w", err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}
