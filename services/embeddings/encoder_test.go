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
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CosineSimilarity Tests
// =============================================================================

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", []float32{}, []float32{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	t.Parallel()

	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

// =============================================================================
// NewEncoder Tests
// =============================================================================

func TestNewEncoder_DefaultsToCachedHashing(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(DefaultConfig())
	require.NoError(t, err)

	_, cached := enc.(*CachedEncoder)
	assert.True(t, cached, "default config enables the cache")
	assert.Equal(t, 512, enc.Dimensions())
	assert.Equal(t, "hashing:512", enc.Name())
}

func TestNewEncoder_ZeroConfig(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(Config{})
	require.NoError(t, err)
	_, ok := enc.(*HashingEncoder)
	assert.True(t, ok, "zero config yields an uncached hashing encoder")
	assert.Equal(t, 512, enc.Dimensions())
}

func TestNewEncoder_Ollama(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(Config{Provider: "ollama", OllamaModel: "mxbai-embed-large"})
	require.NoError(t, err)
	assert.Equal(t, "ollama:mxbai-embed-large", enc.Name())
}

func TestNewEncoder_OpenAIWithKey(t *testing.T) {
	t.Parallel()

	enc, err := NewEncoder(Config{Provider: "openai", OpenAIAPIKey: "sk-test", Dimensions: 256})
	require.NoError(t, err)
	assert.Equal(t, "openai:text-embedding-3-small", enc.Name())
	assert.Equal(t, 256, enc.Dimensions())
}

func TestNewEncoder_DefaultDimensionsOnlyForHashing(t *testing.T) {
	t.Parallel()

	hashing, err := NewEncoder(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, DefaultHashingDimensions, hashing.Dimensions())

	var sawDimensions atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, ok := body["dimensions"]
		sawDimensions.Store(ok)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-ada-002",
			"data": [{"object": "embedding", "index": 0, "embedding": [0.6, 0.8, 0]}],
			"usage": {"prompt_tokens": 1, "total_tokens": 1}
		}`))
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.Provider = ProviderOpenAI
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIModel = "text-embedding-ada-002"
	cfg.OpenAIBaseURL = server.URL + "/v1"
	enc, err := NewEncoder(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, enc.Dimensions())

	vec, err := enc.Embed(context.Background(), "bonjour")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.False(t, sawDimensions.Load(), "no dimensions requested from the remote model")
}

func TestNewEncoder_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewEncoder(Config{Provider: "word2vec"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "word2vec")
}

// =============================================================================
// HashingEncoder Tests
// =============================================================================

func TestHashingEncoder_Deterministic(t *testing.T) {
	t.Parallel()

	enc := NewHashingEncoder(256)
	ctx := context.Background()

	a, err := enc.Embed(ctx, "Où est ma commande ?")
	require.NoError(t, err)
	b, err := enc.Embed(ctx, "Où est ma commande ?")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 256)

	sim, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-6)
}

func TestHashingEncoder_UnitNorm(t *testing.T) {
	t.Parallel()

	vec, err := NewHashingEncoder(128).Embed(context.Background(), "hello there friend")
	require.NoError(t, err)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestHashingEncoder_EmptyTextIsZeroVector(t *testing.T) {
	t.Parallel()

	vec, err := NewHashingEncoder(64).Embed(context.Background(), "  ?! ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestHashingEncoder_AccentAndCaseInsensitive(t *testing.T) {
	t.Parallel()

	enc := NewHashingEncoder(512)
	ctx := context.Background()
	a, _ := enc.Embed(ctx, "Délai de LIVRAISON")
	b, _ := enc.Embed(ctx, "delai de livraison")
	assert.Equal(t, a, b)
}

func TestHashingEncoder_SimilarTextsScoreHigher(t *testing.T) {
	t.Parallel()

	enc := NewHashingEncoder(512)
	ctx := context.Background()
	query, _ := enc.Embed(ctx, "where is my order")
	close1, _ := enc.Embed(ctx, "where is my order now")
	far, _ := enc.Embed(ctx, "refund policy details")

	simClose, err := CosineSimilarity(query, close1)
	require.NoError(t, err)
	simFar, err := CosineSimilarity(query, far)
	require.NoError(t, err)

	assert.Greater(t, simClose, simFar)
	assert.Greater(t, simClose, 0.35)
}

func TestHashingEncoder_EmbedBatchAligned(t *testing.T) {
	t.Parallel()

	enc := NewHashingEncoder(64)
	ctx := context.Background()
	texts := []string{"alpha", "beta", "gamma"}

	batch, err := enc.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, text := range texts {
		single, _ := enc.Embed(ctx, text)
		assert.Equal(t, single, batch[i], "index %d", i)
	}
}

func TestHashingEncoder_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashingEncoder(32).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"ou", "est", "ma", "commande"}, Tokenize("Où est ma commande?"))
	assert.Equal(t, []string{"l", "ete", "2024"}, Tokenize("l'été 2024"))
	assert.Empty(t, Tokenize("  ... "))
}

// =============================================================================
// OllamaEncoder Tests
// =============================================================================

func TestOllamaEncoder_EmbedBatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		out := ollamaEmbedResponse{Model: req.Model}
		for i := range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1, 0})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	enc, err := NewOllamaEncoder(server.URL+"/", "nomic-embed-text", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 0, enc.Dimensions())

	vecs, err := enc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 1, 0}, vecs[1])
	assert.Equal(t, 3, enc.Dimensions())

	single, err := enc.Embed(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, single)
}

func TestOllamaEncoder_ModelNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer server.Close()

	enc, err := NewOllamaEncoder(server.URL, "nope", time.Second)
	require.NoError(t, err)

	_, err = enc.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull nope")
}

func TestOllamaEncoder_CountMismatch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	defer server.Close()

	enc, _ := NewOllamaEncoder(server.URL, "m", time.Second)
	_, err := enc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
}

func TestOllamaEncoder_RespectsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	enc, _ := NewOllamaEncoder(server.URL, "m", 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := enc.Embed(ctx, "slow")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewOllamaEncoder_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewOllamaEncoder("", "m", 0)
	assert.Error(t, err)
	_, err = NewOllamaEncoder("http://x", " ", 0)
	assert.Error(t, err)
}

// =============================================================================
// OpenAIEncoder Tests
// =============================================================================

func TestOpenAIEncoder_ReordersByIndex(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "text-embedding-3-small",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	enc, err := NewOpenAIEncoder("sk-test", "text-embedding-3-small", server.URL+"/v1", 0)
	require.NoError(t, err)

	vecs, err := enc.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
	assert.Equal(t, 2, enc.Dimensions())
}

func TestOpenAIEncoder_APIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	enc, err := NewOpenAIEncoder("sk-bad", "text-embedding-3-small", server.URL+"/v1", 0)
	require.NoError(t, err)
	_, err = enc.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenAI embeddings call failed")
}

// =============================================================================
// CachedEncoder Tests
// =============================================================================

type countingEncoder struct {
	calls atomic.Int64
	delay time.Duration
	inner Encoder
}

func (c *countingEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.inner.Embed(ctx, text)
}

func (c *countingEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEncoder) Dimensions() int { return c.inner.Dimensions() }
func (c *countingEncoder) Name() string    { return "counting" }

func TestCachedEncoder_HitsAndCopies(t *testing.T) {
	t.Parallel()

	inner := &countingEncoder{inner: NewHashingEncoder(16)}
	enc := NewCachedEncoder(inner, 4)
	ctx := context.Background()

	a, err := enc.Embed(ctx, "hello")
	require.NoError(t, err)
	a[0] = 42

	b, err := enc.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), b[0], "cache must return copies")
	assert.Equal(t, int64(1), inner.calls.Load())

	hits, misses, size := enc.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Equal(t, 1, size)
	assert.Equal(t, "counting", enc.Name())
}

func TestCachedEncoder_EvictsOldest(t *testing.T) {
	t.Parallel()

	inner := &countingEncoder{inner: NewHashingEncoder(8)}
	enc := NewCachedEncoder(inner, 2)
	ctx := context.Background()

	for _, s := range []string{"a", "b", "c"} {
		_, err := enc.Embed(ctx, s)
		require.NoError(t, err)
	}
	_, _, size := enc.Stats()
	assert.Equal(t, 2, size)

	_, _ = enc.Embed(ctx, "a")
	assert.Equal(t, int64(4), inner.calls.Load(), "a was evicted")
	_, _ = enc.Embed(ctx, "c")
	assert.Equal(t, int64(4), inner.calls.Load(), "c is still cached")
}

func TestCachedEncoder_SingleflightDeduplicates(t *testing.T) {
	t.Parallel()

	inner := &countingEncoder{inner: NewHashingEncoder(8), delay: 50 * time.Millisecond}
	enc := NewCachedEncoder(inner, 8)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := enc.Embed(context.Background(), "same")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, inner.calls.Load(), int64(2))
}

// gatedEncoder blocks every Embed until release is closed or ctx is done.
type gatedEncoder struct {
	inner   Encoder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedEncoder() *gatedEncoder {
	return &gatedEncoder{
		inner:   NewHashingEncoder(8),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.inner.Embed(ctx, text)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return g.inner.EmbedBatch(ctx, texts)
}

func (g *gatedEncoder) Dimensions() int { return g.inner.Dimensions() }
func (g *gatedEncoder) Name() string    { return "gated" }

func TestCachedEncoder_CancelledCallerDoesNotFailOthers(t *testing.T) {
	t.Parallel()

	inner := newGatedEncoder()
	enc := NewCachedEncoder(inner, 8)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := enc.Embed(ctxA, "bonjour")
		errA <- err
	}()
	<-inner.started

	type result struct {
		vec []float32
		err error
	}
	resB := make(chan result, 1)
	go func() {
		vec, err := enc.Embed(context.Background(), "bonjour")
		resB <- result{vec, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(inner.release)
	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Len(t, r.vec, 8)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	_, _, size := enc.Stats()
	assert.Equal(t, 1, size, "the shared result is cached")
}

func TestCachedEncoder_SharedCallTimeout(t *testing.T) {
	t.Parallel()

	inner := newGatedEncoder()
	enc := NewCachedEncoder(inner, 8)
	enc.CallTimeout = 30 * time.Millisecond

	_, err := enc.Embed(context.Background(), "bonjour")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
