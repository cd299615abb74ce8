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
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CachedEncoder memoizes Embed results of an inner Encoder.
//
// # Description
//
// Concurrent Embed calls for the same text share one inner call
// (singleflight). The shared call runs on a context detached from every
// caller and bounded by CallTimeout, so one caller giving up never fails the
// others; each caller still returns as soon as its own ctx is done. Results
// are kept in a bounded cache evicted in insertion
// order. Returned vectors are copies; callers may modify them.
//
// EmbedBatch is used for index builds and is passed straight through.
//
// # Thread Safety
//
// Safe for concurrent use.
type CachedEncoder struct {
	inner   Encoder
	maxSize int
	group   singleflight.Group

	// CallTimeout bounds one shared inner call. Default: 30s.
	CallTimeout time.Duration

	mu      sync.Mutex
	entries map[string][]float32
	order   []string
	hits    uint64
	misses  uint64
}

// DefaultCachedCallTimeout bounds a shared inner Embed call.
const DefaultCachedCallTimeout = 30 * time.Second

// NewCachedEncoder wraps inner with a cache of maxSize entries (min 1).
func NewCachedEncoder(inner Encoder, maxSize int) *CachedEncoder {
	if maxSize < 1 {
		maxSize = 1
	}
	return &CachedEncoder{
		inner:       inner,
		maxSize:     maxSize,
		CallTimeout: DefaultCachedCallTimeout,
		entries:     make(map[string][]float32, maxSize),
	}
}

// Embed returns the cached vector for text or computes it once.
func (c *CachedEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	if v, ok := c.entries[text]; ok {
		c.hits++
		c.mu.Unlock()
		return cloneVector(v), nil
	}
	c.misses++
	c.mu.Unlock()

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(flightCtx, c.callTimeout())
		defer cancel()
		vec, err := c.inner.Embed(callCtx, text)
		if err != nil {
			return nil, err
		}
		c.store(text, vec)
		return vec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneVector(res.Val.([]float32)), nil
	}
}

func (c *CachedEncoder) callTimeout() time.Duration {
	if c.CallTimeout <= 0 {
		return DefaultCachedCallTimeout
	}
	return c.CallTimeout
}

// EmbedBatch delegates to the inner encoder without caching.
func (c *CachedEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the inner encoder's dimensions.
func (c *CachedEncoder) Dimensions() int { return c.inner.Dimensions() }

// Name returns the inner encoder's name.
func (c *CachedEncoder) Name() string { return c.inner.Name() }

// Stats returns cache hits, misses and the current entry count.
func (c *CachedEncoder) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

func (c *CachedEncoder) store(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[text]; ok {
		return
	}
	for len(c.order) >= c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[text] = cloneVector(vec)
	c.order = append(c.order, text)
}

var _ Encoder = (*CachedEncoder)(nil)
