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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OllamaEncoder calls a local Ollama server's /api/embed endpoint.
type OllamaEncoder struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dims       atomic.Int64
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEncoder creates an encoder for model served at baseURL.
//
// # Inputs
//
//   - baseURL: Ollama base URL, e.g. "http://localhost:11434".
//   - model: Embedding model name, e.g. "nomic-embed-text".
//   - timeout: Per-request HTTP timeout. <= 0 means 30s.
//
// # Outputs
//
//   - *OllamaEncoder: Encoder. No request is made until the first Embed.
//   - error: Non-nil when baseURL or model is empty.
func NewOllamaEncoder(baseURL, model string, timeout time.Duration) (*OllamaEncoder, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("ollama base URL is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("ollama embedding model is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	slog.Info("Initializing Ollama encoder", "base_url", baseURL, "model", model)
	return &OllamaEncoder{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
	}, nil
}

// Embed encodes one text.
func (o *OllamaEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch encodes texts in a single /api/embed request.
func (o *OllamaEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := tracer.Start(ctx, "OllamaEncoder.EmbedBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("embedding.model", o.model),
		attribute.Int("embedding.batch_size", len(texts)),
	)

	fail := func(err error) ([][]float32, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Input: texts})
	if err != nil {
		return fail(fmt.Errorf("marshal ollama embed request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("create ollama embed request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fail(fmt.Errorf("ollama embed call failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("read ollama embed response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNotFound && strings.Contains(string(raw), "not found") {
			return fail(fmt.Errorf("model '%s' not found, run: ollama pull %s", o.model, o.model))
		}
		return fail(fmt.Errorf("ollama embed failed with status %d: %s", resp.StatusCode, truncate(string(raw), 200)))
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fail(fmt.Errorf("parse ollama embed response: %w", err))
	}
	if len(parsed.Embeddings) != len(texts) {
		return fail(fmt.Errorf("ollama returned %d embeddings for %d inputs", len(parsed.Embeddings), len(texts)))
	}
	if len(parsed.Embeddings[0]) > 0 {
		o.dims.Store(int64(len(parsed.Embeddings[0])))
	}
	return parsed.Embeddings, nil
}

// Dimensions returns the vector size seen on the last response, 0 before
// the first call.
func (o *OllamaEncoder) Dimensions() int { return int(o.dims.Load()) }

// Name returns "ollama:<model>".
func (o *OllamaEncoder) Name() string { return "ollama:" + o.model }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

var _ Encoder = (*OllamaEncoder)(nil)
