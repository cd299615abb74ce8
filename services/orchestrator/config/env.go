// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type envBinding struct {
	name  string
	apply func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func float(dst func(c *Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

var envBindings = []envBinding{
	{"PORT", integer(func(c *Config) *int { return &c.Server.Port })},
	{"GIN_MODE", str(func(c *Config) *string { return &c.Server.GinMode })},
	{"ENABLE_METRICS", boolean(func(c *Config) *bool { return &c.Server.EnableMetrics })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_DIR", str(func(c *Config) *string { return &c.Logging.Dir })},
	{"LOG_JSON", boolean(func(c *Config) *bool { return &c.Logging.JSON })},
	{"TRACING_EXPORTER", str(func(c *Config) *string { return &c.Tracing.Exporter })},
	{"OTEL_ENDPOINT", str(func(c *Config) *string { return &c.Tracing.Endpoint })},
	{"TAXONOMY_PATH", str(func(c *Config) *string { return &c.Taxonomy.Path })},
	{"TAXONOMY_WATCH", boolean(func(c *Config) *bool { return &c.Taxonomy.Watch })},
	{"ENCODER", str(func(c *Config) *string { return &c.Encoder.Provider })},
	{"ENCODER_DIMENSIONS", integer(func(c *Config) *int { return &c.Encoder.Dimensions })},
	{"OLLAMA_URL", str(func(c *Config) *string { return &c.Encoder.OllamaURL })},
	{"OLLAMA_MODEL", str(func(c *Config) *string { return &c.Encoder.OllamaModel })},
	{"OPENAI_MODEL", str(func(c *Config) *string { return &c.Encoder.OpenAIModel })},
	{"OPENAI_BASE_URL", str(func(c *Config) *string { return &c.Encoder.OpenAIBaseURL })},
	{"THRESHOLD", float(func(c *Config) *float64 { return &c.Dialogue.Threshold })},
	{"DEFAULT_LANGUAGE", str(func(c *Config) *string { return &c.Dialogue.DefaultLanguage })},
	{"LANGUAGES", func(c *Config, v string) error {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		c.Dialogue.Languages = langs
		return nil
	}},
	{"HISTORY_CAPACITY", integer(func(c *Config) *int { return &c.Dialogue.HistoryCapacity })},
	{"ENCODE_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Dialogue.EncodeTimeout })},
	{"PERSIST_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Dialogue.PersistTimeout })},
	{"HISTORY_BACKEND", str(func(c *Config) *string { return &c.History.Backend })},
	{"HISTORY_IDLE_TTL", duration(func(c *Config) *time.Duration { return &c.History.IdleTTL })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.History.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.History.Redis.Password })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.History.Redis.DB })},
	{"STORE_BACKEND", str(func(c *Config) *string { return &c.Store.Backend })},
	{"STORE_PATH", str(func(c *Config) *string { return &c.Store.Path })},
}

// ApplyEnv overrides fields from INTENTCHAT_* variables. OPENAI_API_KEY is
// left to the encoder, which reads it directly.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err))
		}
	}
	return errors.Join(errs...)
}
