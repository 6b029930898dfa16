// Invigilo - Assessment Session Proctoring Engine
// Copyright 2026 Invigilo Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/invigilo/invigilo

// Package config loads the engine configuration using Koanf v2 with layered
// sources: struct defaults, an optional YAML file, then INVIGILO_* environment
// variables. Loaded configuration is validated with go-playground/validator.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/invigilo/invigilo/internal/proctor"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"invigilo.yaml",
	"invigilo.yml",
	"/etc/invigilo/config.yaml",
	"/etc/invigilo/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "INVIGILO_CONFIG"

// envPrefix scopes the environment variable layer.
const envPrefix = "INVIGILO_"

// Config is the full daemon configuration.
type Config struct {
	Session  SessionConfig  `koanf:"session"`
	Engine   EngineConfig   `koanf:"engine"`
	Adapters AdaptersConfig `koanf:"adapters"`
	Sinks    SinksConfig    `koanf:"sinks"`
	Ops      OpsConfig      `koanf:"ops"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// SessionConfig identifies the proctored session.
type SessionConfig struct {
	// SessionID is generated when empty.
	SessionID string `koanf:"session_id"`

	UserID string `koanf:"user_id" validate:"required"`
}

// EngineConfig mirrors the aggregation and termination tuning knobs.
type EngineConfig struct {
	NoFaceThreshold    int `koanf:"no_face_threshold" validate:"min=1"`
	MultiFaceThreshold int `koanf:"multi_face_threshold" validate:"min=1"`
	VoiceThreshold     int `koanf:"voice_threshold" validate:"min=1"`
	TabSwitchThreshold int `koanf:"tab_switch_threshold" validate:"min=1"`
	FocusLossThreshold int `koanf:"focus_loss_threshold" validate:"min=1"`

	MaxViolations int `koanf:"max_violations" validate:"min=1"`

	BurstLimit  int           `koanf:"burst_limit" validate:"min=1"`
	BurstWindow time.Duration `koanf:"burst_window" validate:"min=1s"`

	CooldownLimit  int           `koanf:"cooldown_limit" validate:"min=1"`
	CooldownWindow time.Duration `koanf:"cooldown_window" validate:"min=1s"`

	TotalViolationLimit int  `koanf:"total_violation_limit" validate:"min=1"`
	ZeroTolerance       bool `koanf:"zero_tolerance"`
}

// AdaptersConfig holds the per-detector settings.
type AdaptersConfig struct {
	Face  AdapterConfig `koanf:"face"`
	Voice VoiceConfig   `koanf:"voice"`
	Focus AdapterConfig `koanf:"focus"`
}

// AdapterConfig is the common detector adapter surface.
type AdapterConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"min=0"`
}

// VoiceConfig adds the microphone anomaly boundary.
type VoiceConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Interval    time.Duration `koanf:"interval" validate:"min=0"`
	Sensitivity float64       `koanf:"sensitivity" validate:"min=0"`
}

// SinksConfig holds the delivery backends.
type SinksConfig struct {
	Badger    BadgerConfig    `koanf:"badger"`
	Webhook   WebhookConfig   `koanf:"webhook"`
	Publisher PublisherConfig `koanf:"publisher"`
}

// BadgerConfig configures the embedded audit store sink.
type BadgerConfig struct {
	Enabled bool          `koanf:"enabled"`
	Dir     string        `koanf:"dir"`
	TTL     time.Duration `koanf:"ttl" validate:"min=0"`

	// GCInterval is the value-log garbage collection cadence.
	GCInterval time.Duration `koanf:"gc_interval" validate:"min=0"`
}

// WebhookConfig configures the outbound webhook sink.
type WebhookConfig struct {
	Enabled          bool              `koanf:"enabled"`
	URL              string            `koanf:"url" validate:"omitempty,url"`
	Headers          map[string]string `koanf:"headers"`
	Timeout          time.Duration     `koanf:"timeout" validate:"min=0"`
	RatePerSecond    float64           `koanf:"rate_per_second" validate:"min=0"`
	Burst            int               `koanf:"burst" validate:"min=0"`
	FailureThreshold uint32            `koanf:"failure_threshold" validate:"min=0"`
	OpenTimeout      time.Duration     `koanf:"open_timeout" validate:"min=0"`
}

// PublisherConfig configures the in-process pub/sub sink.
type PublisherConfig struct {
	Enabled        bool   `koanf:"enabled"`
	ViolationTopic string `koanf:"violation_topic"`
	EventTopic     string `koanf:"event_topic"`
}

// OpsConfig configures the operational HTTP surface.
type OpsConfig struct {
	Enabled bool          `koanf:"enabled"`
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=0"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults. These are applied first, then
// overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Session: SessionConfig{},
		Engine: EngineConfig{
			NoFaceThreshold:     5,
			MultiFaceThreshold:  3,
			VoiceThreshold:      3,
			TabSwitchThreshold:  2,
			FocusLossThreshold:  3,
			MaxViolations:       50,
			BurstLimit:          3,
			BurstWindow:         15 * time.Second,
			CooldownLimit:       2,
			CooldownWindow:      time.Minute,
			TotalViolationLimit: 5,
			ZeroTolerance:       false,
		},
		Adapters: AdaptersConfig{
			Face:  AdapterConfig{Enabled: true, Interval: 3 * time.Second},
			Voice: VoiceConfig{Enabled: true, Interval: 4 * time.Second, Sensitivity: 0.35},
			Focus: AdapterConfig{Enabled: true, Interval: 2 * time.Second},
		},
		Sinks: SinksConfig{
			Badger: BadgerConfig{
				Enabled:    true,
				Dir:        "/data/invigilo/audit",
				TTL:        0,
				GCInterval: 10 * time.Minute,
			},
			Webhook: WebhookConfig{
				Enabled:          false,
				Timeout:          10 * time.Second,
				RatePerSecond:    5,
				Burst:            10,
				FailureThreshold: 5,
				OpenTimeout:      30 * time.Second,
			},
			Publisher: PublisherConfig{
				Enabled:        true,
				ViolationTopic: "proctor.violations",
				EventTopic:     "proctor.events",
			},
		},
		Ops: OpsConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8642,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration with layered precedence: ENV > file > defaults.
func Load() (*Config, error) {
	return loadFrom(findConfigFile())
}

// LoadFile reads configuration from an explicit file path plus environment
// overrides. Used by the CLI's --config flag.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return loadFrom(path)
}

func loadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	return v.Struct(c)
}

// EngineConfig converts the tuning section into the engine's config type.
func (c *Config) EngineConfig() proctor.Config {
	return proctor.Config{
		NoFaceThreshold:     c.Engine.NoFaceThreshold,
		MultiFaceThreshold:  c.Engine.MultiFaceThreshold,
		VoiceThreshold:      c.Engine.VoiceThreshold,
		TabSwitchThreshold:  c.Engine.TabSwitchThreshold,
		FocusLossThreshold:  c.Engine.FocusLossThreshold,
		MaxViolations:       c.Engine.MaxViolations,
		BurstLimit:          c.Engine.BurstLimit,
		BurstWindow:         c.Engine.BurstWindow,
		CooldownLimit:       c.Engine.CooldownLimit,
		CooldownWindow:      c.Engine.CooldownWindow,
		TotalViolationLimit: c.Engine.TotalViolationLimit,
		ZeroTolerance:       c.Engine.ZeroTolerance,
	}
}

// findConfigFile returns the first existing config file, or empty.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps environment variable names to koanf paths. Double
// underscore separates levels; single underscores stay inside a key:
//
//	INVIGILO_ENGINE__NO_FACE_THRESHOLD -> engine.no_face_threshold
//	INVIGILO_SINKS__WEBHOOK__URL       -> sinks.webhook.url
func envTransform(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	key = strings.ToLower(key)
	return strings.ReplaceAll(key, "__", ".")
}
