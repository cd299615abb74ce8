// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent maps an utterance vector to the closest intent tag.
//
// An Index holds one encoded entry per taxonomy pattern. A Matcher scores a
// query vector against every entry and applies the confidence threshold.
package intent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
	"github.com/AleutianAI/intentchat/services/embeddings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("intentchat.intent")

// Entry is one encoded pattern.
type Entry struct {
	Text     string
	Tag      string
	Language string
	Vector   []float32
}

// BuildOptions controls how the index is encoded.
type BuildOptions struct {
	// BatchSize is the number of patterns per EmbedBatch call. Default: 64.
	BatchSize int

	// Concurrency is the maximum number of batches in flight. Default: 4.
	Concurrency int
}

// DefaultBuildOptions returns sensible defaults.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{BatchSize: 64, Concurrency: 4}
}

// Index is an immutable list of encoded patterns.
//
// # Description
//
// Entries are ordered by taxonomy intent order, then by language code, then
// by pattern order. The order decides ties in Matcher: the first registered
// entry wins.
//
// # Thread Safety
//
// Read-only after Build returns; safe for concurrent use without locking.
type Index struct {
	entries   []Entry
	dims      int
	encoder   string
	builtAt   time.Time
	byTagSize map[string]int
}

// Build encodes every pattern of tax.
//
// # Description
//
// Texts are split into BatchSize chunks encoded concurrently with an errgroup
// limited to Concurrency. Each chunk writes into its own offset, so vector i
// always belongs to text i regardless of completion order.
//
// # Inputs
//
//   - ctx: Cancels outstanding encoder calls.
//   - tax: Normalized taxonomy.
//   - enc: Encoder used for patterns. Queries must use the same encoder.
//   - opts: Optional build options (nil uses defaults).
//
// # Outputs
//
//   - *Index: Encoded index.
//   - error: Encoder failure, a vector count mismatch, or vectors of
//     differing dimensions.
func Build(ctx context.Context, tax *taxonomy.Taxonomy, enc embeddings.Encoder, opts *BuildOptions) (*Index, error) {
	o := DefaultBuildOptions()
	if opts != nil {
		if opts.BatchSize > 0 {
			o.BatchSize = opts.BatchSize
		}
		if opts.Concurrency > 0 {
			o.Concurrency = opts.Concurrency
		}
	}

	ctx, span := tracer.Start(ctx, "intent.Build")
	defer span.End()

	var entries []Entry
	for _, in := range tax.Intents {
		langs := make([]string, 0, len(in.Patterns))
		for lang := range in.Patterns {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		for _, lang := range langs {
			for _, p := range in.Patterns[lang] {
				entries = append(entries, Entry{Text: p, Tag: in.Tag, Language: lang})
			}
		}
	}
	span.SetAttributes(
		attribute.Int("index.patterns", len(entries)),
		attribute.String("index.encoder", enc.Name()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Concurrency)
	for start := 0; start < len(entries); start += o.BatchSize {
		end := min(start+o.BatchSize, len(entries))
		chunk := entries[start:end]
		g.Go(func() error {
			texts := make([]string, len(chunk))
			for i, e := range chunk {
				texts[i] = e.Text
			}
			vecs, err := enc.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("encode patterns %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != len(chunk) {
				return fmt.Errorf("encoder returned %d vectors for %d patterns", len(vecs), len(chunk))
			}
			for i := range chunk {
				chunk[i].Vector = vecs[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build pattern index: %w", err)
	}

	idx := &Index{
		entries:   entries,
		encoder:   enc.Name(),
		builtAt:   time.Now(),
		byTagSize: make(map[string]int),
	}
	for i, e := range entries {
		if i == 0 {
			idx.dims = len(e.Vector)
		} else if len(e.Vector) != idx.dims {
			err := fmt.Errorf("build pattern index: pattern %q has %d dimensions, expected %d", e.Text, len(e.Vector), idx.dims)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		idx.byTagSize[e.Tag]++
	}
	return idx, nil
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.entries) }

// Dimensions returns the vector size shared by all entries, 0 when empty.
func (idx *Index) Dimensions() int { return idx.dims }

// Entry returns entry i. It panics if i is out of range.
func (idx *Index) Entry(i int) Entry { return idx.entries[i] }

// PatternsFor returns the number of entries registered for tag.
func (idx *Index) PatternsFor(tag string) int { return idx.byTagSize[tag] }

// EncoderName returns the name of the encoder that built the index.
func (idx *Index) EncoderName() string { return idx.encoder }

// BuiltAt returns when the index was built.
func (idx *Index) BuiltAt() time.Time { return idx.builtAt }
