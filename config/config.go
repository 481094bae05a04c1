// Package config loads the single configuration payload for showcased.
// The file is supplied out-of-band (mounted secret), read once at startup
// and never mutated during a run.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	Platform   Platform   `yaml:"platform"`
	Rule       Rule       `yaml:"rule"`
	Storage    Storage    `yaml:"storage"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Metrics    Metrics    `yaml:"metrics"`
	Log        Log        `yaml:"log"`
}

// Platform holds chat platform endpoints and credentials
type Platform struct {
	GatewayURL string `yaml:"gateway_url"`
	APIBaseURL string `yaml:"api_base_url"`
	Token      string `yaml:"token"`
	BotUserID  string `yaml:"bot_user_id"`
}

// Rule configures the showcase rule. Immutable during a run; no hot-reload.
type Rule struct {
	RequireLink        bool     `yaml:"require_link"`
	RequireDescription bool     `yaml:"require_description"`
	MinLength          int      `yaml:"min_length"`
	MaxStrikes         int      `yaml:"max_strikes"`
	WatchedChannelIDs  []string `yaml:"watched_channel_ids"`
	EscalationChannel  string   `yaml:"escalation_channel_id"`
	WarnMessage        string   `yaml:"warn_message"`
	RemoveMessage      string   `yaml:"remove_message"`

	CooldownStr      string `yaml:"cooldown"`
	IgnoreHorizonStr string `yaml:"ignore_horizon"`

	Cooldown      time.Duration `yaml:"-"`
	IgnoreHorizon time.Duration `yaml:"-"`
}

// Storage holds state store and audit log paths
type Storage struct {
	Dir    string `yaml:"dir"`
	WALDir string `yaml:"wal_dir"`
}

// Dispatcher holds event pipeline settings
type Dispatcher struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	DedupSize int `yaml:"dedup_size"`
}

// Metrics holds the metrics HTTP server settings
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Log holds logging settings
type Log struct {
	Level string `yaml:"level"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	// token can arrive via environment instead of the file
	if env := os.Getenv("SHOWCASED_TOKEN"); env != "" {
		cfg.Platform.Token = env
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Rule.MinLength == 0 {
		cfg.Rule.MinLength = 20
	}
	if cfg.Rule.MaxStrikes == 0 {
		cfg.Rule.MaxStrikes = 3
	}
	if cfg.Rule.CooldownStr == "" {
		cfg.Rule.CooldownStr = "30m"
	}
	if cfg.Rule.IgnoreHorizonStr == "" {
		cfg.Rule.IgnoreHorizonStr = "12h"
	}
	if cfg.Rule.WarnMessage == "" {
		cfg.Rule.WarnMessage = "Showcase posts need a link and a short description. Please edit your post."
	}
	if cfg.Rule.RemoveMessage == "" {
		cfg.Rule.RemoveMessage = "Your showcase post was removed because it does not follow the showcase rule."
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "./data"
	}
	if cfg.Storage.WALDir == "" {
		cfg.Storage.WALDir = "./data/wal"
	}
	if cfg.Dispatcher.Workers == 0 {
		cfg.Dispatcher.Workers = 8
	}
	if cfg.Dispatcher.QueueSize == 0 {
		cfg.Dispatcher.QueueSize = 1000
	}
	if cfg.Dispatcher.DedupSize == 0 {
		cfg.Dispatcher.DedupSize = 4096
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":2112"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Rule.CooldownStr)
	if err != nil {
		return fmt.Errorf("parse cooldown %q: %w", cfg.Rule.CooldownStr, err)
	}
	cfg.Rule.Cooldown = d

	h, err := time.ParseDuration(cfg.Rule.IgnoreHorizonStr)
	if err != nil {
		return fmt.Errorf("parse ignore_horizon %q: %w", cfg.Rule.IgnoreHorizonStr, err)
	}
	cfg.Rule.IgnoreHorizon = h
	return nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.Platform.GatewayURL == "" {
		return fmt.Errorf("platform: gateway_url is required")
	}
	if c.Platform.APIBaseURL == "" {
		return fmt.Errorf("platform: api_base_url is required")
	}
	if c.Platform.Token == "" {
		return fmt.Errorf("platform: token is required (file or SHOWCASED_TOKEN)")
	}
	if len(c.Rule.WatchedChannelIDs) == 0 {
		return fmt.Errorf("rule: at least one watched channel required")
	}
	if c.Rule.MinLength < 0 {
		return fmt.Errorf("rule: min_length cannot be negative")
	}
	if c.Rule.MaxStrikes < 1 {
		return fmt.Errorf("rule: max_strikes must be at least 1")
	}
	if c.Rule.Cooldown < 0 {
		return fmt.Errorf("rule: cooldown cannot be negative")
	}
	return nil
}
