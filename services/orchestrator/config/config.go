// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration.
//
// # Description
//
// Values are layered: Default(), then an optional YAML (or JSON) file, then
// INTENTCHAT_* environment variables. The result is checked by Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/intentchat/pkg/logging"
	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/dialogue/conversation"
	"github.com/AleutianAI/intentchat/services/dialogue/emotion"
	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/dialogue/intent"
	"github.com/AleutianAI/intentchat/services/dialogue/responder"
	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/embeddings"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INTENTCHAT_"

// =============================================================================
// Sections
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Logging  LoggingConfig     `yaml:"logging"`
	Tracing  TracingConfig     `yaml:"tracing"`
	Taxonomy TaxonomyConfig    `yaml:"taxonomy"`
	Encoder  embeddings.Config `yaml:"encoder"`
	Dialogue DialogueConfig    `yaml:"dialogue"`
	History  HistoryConfig     `yaml:"history"`
	Store    store.Config      `yaml:"store"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	GinMode         string        `yaml:"gin_mode" validate:"omitempty,oneof=debug release test"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`

	// AllowedOrigins restricts WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// EnableMetrics exposes /metrics.
	EnableMetrics bool `yaml:"enable_metrics"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Exporter is "none", "stdout" or "otlp".
	Exporter    string `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Exporter otlp"`
	ServiceName string `yaml:"service_name"`
}

// TaxonomyConfig locates the intent taxonomy.
type TaxonomyConfig struct {
	// Path is a YAML or JSON file. Empty uses the built-in taxonomy.
	Path string `yaml:"path"`

	// Watch reloads the file on change.
	Watch bool `yaml:"watch"`

	// DebounceWindow coalesces bursts of file events.
	DebounceWindow time.Duration `yaml:"debounce_window" validate:"gte=0"`
}

// DialogueConfig tunes the dialogue engine.
type DialogueConfig struct {
	Threshold       float64       `yaml:"threshold" validate:"gte=0,lte=1"`
	DefaultLanguage string        `yaml:"default_language" validate:"required"`
	Languages       []string      `yaml:"languages" validate:"required,min=1,dive,required"`
	HistoryCapacity int           `yaml:"history_capacity" validate:"min=1,max=100"`
	EncodeTimeout   time.Duration `yaml:"encode_timeout" validate:"gt=0"`
	PersistTimeout  time.Duration `yaml:"persist_timeout" validate:"gt=0"`

	// Seed makes response selection reproducible. 0 seeds from the clock.
	Seed uint64 `yaml:"seed"`

	// The tables below replace the built-in ones when set.
	Fallbacks    map[string]string                               `yaml:"fallbacks"`
	Lexicons     map[string]emotion.Lexicon                      `yaml:"lexicons"`
	Phrasing     map[string]map[emotion.Label]responder.Phrasing `yaml:"phrasing"`
	ContextRules map[string]conversation.Rules                   `yaml:"context_rules"`
}

// HistoryConfig selects the session history backend.
type HistoryConfig struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend" validate:"omitempty,oneof=memory redis"`

	// IdleTTL evicts idle in-memory sessions. 0 keeps them for the process
	// lifetime.
	IdleTTL time.Duration `yaml:"idle_ttl" validate:"gte=0"`

	// SweepInterval overrides the eviction period.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`

	Redis history.RedisConfig `yaml:"redis"`
}

// =============================================================================
// Loading
// =============================================================================

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            12210,
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
			EnableMetrics:   true,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{Exporter: "none", ServiceName: "intentchat"},
		Taxonomy: TaxonomyConfig{
			DebounceWindow: 250 * time.Millisecond,
		},
		Encoder: embeddings.DefaultConfig(),
		Dialogue: DialogueConfig{
			Threshold:       intent.DefaultThreshold,
			DefaultLanguage: "fr",
			Languages:       []string{"fr", "en"},
			HistoryCapacity: history.DefaultCapacity,
			EncodeTimeout:   2 * time.Second,
			PersistTimeout:  2 * time.Second,
		},
		History: HistoryConfig{
			Backend: "memory",
			Redis: history.RedisConfig{
				Addr:        "localhost:6379",
				KeyPrefix:   "intentchat:history:",
				DialTimeout: 5 * time.Second,
			},
		},
		Store: store.Config{Backend: store.BackendNone},
	}
}

// Load builds the configuration from path (optional) and the environment.
//
// # Inputs
//
//   - path: YAML or JSON file. Empty skips the file layer.
//
// # Outputs
//
//   - Config: Validated configuration.
//   - error: Unreadable file, parse error, bad environment value, or
//     validation failure.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var problems []string
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		problems = append(problems, err.Error())
	}
	supported := false
	for _, l := range c.Dialogue.Languages {
		if strings.EqualFold(l, c.Dialogue.DefaultLanguage) {
			supported = true
		}
	}
	if !supported {
		problems = append(problems, fmt.Sprintf("default language %q is not in languages %v",
			c.Dialogue.DefaultLanguage, c.Dialogue.Languages))
	}
	if c.History.Backend == "redis" && c.History.Redis.Addr == "" {
		problems = append(problems, "history.redis.addr is required for the redis backend")
	}
	if c.Store.Backend != "" && c.Store.Backend != store.BackendNone && c.Store.Path == "" && !c.Store.InMemory {
		problems = append(problems, fmt.Sprintf("store.path is required for the %s backend", c.Store.Backend))
	}
	if c.Taxonomy.Watch && c.Taxonomy.Path == "" {
		problems = append(problems, "taxonomy.watch requires taxonomy.path")
	}
	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// EngineConfig maps the dialogue section onto dialogue.Config.
func (c Config) EngineConfig() dialogue.Config {
	d := c.Dialogue
	cfg := dialogue.Config{
		Threshold:       dialogue.ThresholdOf(d.Threshold),
		DefaultLanguage: d.DefaultLanguage,
		Languages:       d.Languages,
		EncodeTimeout:   d.EncodeTimeout,
		PersistTimeout:  d.PersistTimeout,
		Lexicons:        d.Lexicons,
		ContextRules:    d.ContextRules,
		Fallbacks:       d.Fallbacks,
		Phrasing:        d.Phrasing,
	}
	if d.Seed != 0 {
		cfg.Rand = responder.NewSeededRand(d.Seed)
	}
	return cfg
}

// LoggerConfig maps the logging section onto logging.Config.
func (c Config) LoggerConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: "intentchat",
		JSON:    c.Logging.JSON,
	}
}
