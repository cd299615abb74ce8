// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// openAISecretPath is checked when no API key is configured.
const openAISecretPath = "/run/secrets/openai_api_key"

// OpenAIEncoder calls the OpenAI embeddings API through go-openai.
type OpenAIEncoder struct {
	client    *openai.Client
	model     string
	requested int
	dims      atomic.Int64
}

// NewOpenAIEncoder creates an OpenAI embeddings encoder.
//
// # Description
//
// The API key is taken from apiKey, then OPENAI_API_KEY, then the container
// secret file /run/secrets/openai_api_key.
//
// # Inputs
//
//   - apiKey: API key, may be empty (see above).
//   - model: Embedding model, e.g. "text-embedding-3-small".
//   - baseURL: Optional compatible endpoint (must include the /v1 suffix).
//   - dims: Requested vector size for models supporting it, 0 for native.
//
// # Outputs
//
//   - *OpenAIEncoder: Encoder.
//   - error: Non-nil when no API key can be found.
func NewOpenAIEncoder(apiKey, model, baseURL string, dims int) (*OpenAIEncoder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		if raw, err := os.ReadFile(openAISecretPath); err == nil {
			apiKey = strings.TrimSpace(string(raw))
			slog.Info("Read the OpenAI API key from the secrets mount")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured (set encoder.openai_api_key or OPENAI_API_KEY)")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	slog.Info("Initializing OpenAI encoder", "model", model)
	return &OpenAIEncoder{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		requested: dims,
	}, nil
}

// Embed encodes one text.
func (o *OpenAIEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts with one CreateEmbeddings call. The response is
// re-ordered by each item's Index so output stays aligned with input.
func (o *OpenAIEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := tracer.Start(ctx, "OpenAIEncoder.EmbedBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", o.model),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(o.model),
	}
	if o.requested > 0 {
		req.Dimensions = o.requested
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("OpenAI embeddings call failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		err := fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) || out[item.Index] != nil {
			return nil, fmt.Errorf("OpenAI returned an invalid embedding index %d", item.Index)
		}
		out[item.Index] = item.Embedding
	}
	if len(out[0]) > 0 {
		o.dims.Store(int64(len(out[0])))
	}
	return out, nil
}

// Dimensions returns the vector size seen on the last response, or the
// requested size before the first call.
func (o *OpenAIEncoder) Dimensions() int {
	if d := o.dims.Load(); d > 0 {
		return int(d)
	}
	return o.requested
}

// Name returns "openai:<model>".
func (o *OpenAIEncoder) Name() string { return "openai:" + o.model }

var _ Encoder = (*OpenAIEncoder)(nil)
