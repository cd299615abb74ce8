// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings maps text to fixed-dimensional vectors.
//
// # Description
//
// The dialogue engine treats the text encoder as an external, pre-trained
// capability. This package defines that capability (Encoder) and ships
// adapters for it:
//
//   - HashingEncoder: local, deterministic, no model download
//   - OllamaEncoder: a local Ollama server (/api/embed)
//   - OpenAIEncoder: the OpenAI embeddings API (or a compatible server)
//   - CachedEncoder: wraps any Encoder with de-duplication and a bounded cache
//
// Similarity between vectors is cosine similarity (CosineSimilarity).
//
// # Thread Safety
//
// All encoders in this package are safe for concurrent use.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("intentchat.embeddings")

// ErrDimensionMismatch is returned when two vectors cannot be compared.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// =============================================================================
// Interfaces
// =============================================================================

// Encoder maps text to vectors.
//
// # Description
//
// Implementations must be deterministic for a fixed model version: the same
// text always yields the same vector. EmbedBatch output is index-aligned with
// its input (result[i] encodes texts[i]).
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Encoder interface {
	// Embed encodes a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch encodes texts in one call. len(result) == len(texts).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector size, or 0 when not yet known.
	Dimensions() int

	// Name identifies the encoder and model, e.g. "ollama:nomic-embed-text".
	Name() string
}

// =============================================================================
// Configuration
// =============================================================================

// Provider names accepted by NewEncoder.
const (
	ProviderHashing = "hashing"
	ProviderOllama  = "ollama"
	ProviderOpenAI  = "openai"
)

// Config selects and configures an Encoder.
type Config struct {
	// Provider is one of "hashing", "ollama", "openai". Default: "hashing".
	Provider string `yaml:"provider" json:"provider" validate:"omitempty,oneof=hashing ollama openai"`

	// Dimensions is the vector size of the hashing encoder (default 512), and
	// the requested size for OpenAI models that support shortening. 0 leaves
	// the remote model at its native size.
	Dimensions int `yaml:"dimensions" json:"dimensions" validate:"gte=0"`

	// OllamaURL is the Ollama base URL. Default: "http://localhost:11434".
	OllamaURL string `yaml:"ollama_url" json:"ollama_url"`

	// OllamaModel is the Ollama embedding model. Default: "nomic-embed-text".
	OllamaModel string `yaml:"ollama_model" json:"ollama_model"`

	// OpenAIAPIKey authenticates against the OpenAI API.
	OpenAIAPIKey string `yaml:"openai_api_key" json:"-"`

	// OpenAIModel is the embedding model. Default: "text-embedding-3-small".
	OpenAIModel string `yaml:"openai_model" json:"openai_model"`

	// OpenAIBaseURL points at a compatible server. Empty uses api.openai.com.
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url"`

	// HTTPTimeout bounds one remote call. Default: 30s.
	HTTPTimeout time.Duration `yaml:"http_timeout" json:"http_timeout"`

	// CacheSize enables CachedEncoder with this many entries. 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size" validate:"gte=0"`
}

// DefaultHashingDimensions is the hashing encoder's vector size when
// Config.Dimensions is 0.
const DefaultHashingDimensions = 512

// DefaultConfig returns the local hashing encoder configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderHashing,
		OllamaURL:   "http://localhost:11434",
		OllamaModel: "nomic-embed-text",
		OpenAIModel: "text-embedding-3-small",
		HTTPTimeout: 30 * time.Second,
		CacheSize:   1024,
	}
}

// NewEncoder builds the Encoder selected by cfg.Provider.
//
// # Inputs
//
//   - cfg: Encoder configuration. Zero fields take DefaultConfig values.
//
// # Outputs
//
//   - Encoder: The configured encoder, wrapped in a CachedEncoder when
//     CacheSize > 0.
//   - error: Non-nil for an unknown provider or missing credentials.
//
// # Examples
//
//	enc, err := embeddings.NewEncoder(embeddings.Config{Provider: "ollama"})
func NewEncoder(cfg Config) (Encoder, error) {
	def := DefaultConfig()
	if cfg.Provider == "" {
		cfg.Provider = def.Provider
	}
	if cfg.Dimensions == 0 && strings.EqualFold(cfg.Provider, ProviderHashing) {
		cfg.Dimensions = DefaultHashingDimensions
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}

	var (
		enc Encoder
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderHashing:
		enc = NewHashingEncoder(cfg.Dimensions)
	case ProviderOllama:
		enc, err = NewOllamaEncoder(orDefault(cfg.OllamaURL, def.OllamaURL),
			orDefault(cfg.OllamaModel, def.OllamaModel), cfg.HTTPTimeout)
	case ProviderOpenAI:
		enc, err = NewOpenAIEncoder(cfg.OpenAIAPIKey, orDefault(cfg.OpenAIModel, def.OpenAIModel),
			cfg.OpenAIBaseURL, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unsupported encoder provider %q (use hashing, ollama or openai)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		enc = NewCachedEncoder(enc, cfg.CacheSize)
	}
	return enc, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// =============================================================================
// Similarity
// =============================================================================

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. A zero-magnitude vector yields 0. Vectors of different length
// yield ErrDimensionMismatch.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
