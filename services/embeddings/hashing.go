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
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Feature weights of the hashing encoder.
const (
	unigramWeight = 1.0
	bigramWeight  = 0.7
	trigramWeight = 0.4
)

// HashingEncoder is a local feature-hashing encoder.
//
// # Description
//
// Text is lower-cased and accent-folded ("Été" and "ete" are the same
// token), split on anything that is not a letter or digit, and projected into
// a fixed number of buckets with signed FNV-1a hashing. Features are word
// unigrams, word bigrams and character trigrams of each word padded with '#'.
// The result is L2-normalised.
//
// Identical texts always produce identical vectors, so a pattern queried
// verbatim scores 1.0 against itself. Similar wording shares trigram and
// unigram buckets, which gives useful, if shallow, fuzzy matching.
//
// # Limitations
//
//   - Lexical, not semantic: synonyms without shared characters score low.
//   - Bucket collisions add small noise; more dimensions reduce it.
type HashingEncoder struct {
	dims int
}

// NewHashingEncoder returns a HashingEncoder producing dims-sized vectors.
// dims < 1 falls back to 512.
func NewHashingEncoder(dims int) *HashingEncoder {
	if dims < 1 {
		dims = 512
	}
	return &HashingEncoder{dims: dims}
}

// Embed encodes text. Only fails when ctx is already done.
func (h *HashingEncoder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.vector(text), nil
}

// EmbedBatch encodes texts in order.
func (h *HashingEncoder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.vector(text)
	}
	return out, nil
}

// Dimensions returns the configured vector size.
func (h *HashingEncoder) Dimensions() int { return h.dims }

// Name returns "hashing:<dims>".
func (h *HashingEncoder) Name() string { return fmt.Sprintf("hashing:%d", h.dims) }

func (h *HashingEncoder) vector(text string) []float32 {
	acc := make([]float64, h.dims)
	words := Tokenize(text)

	for i, word := range words {
		h.add(acc, "w:"+word, unigramWeight)
		if i > 0 {
			h.add(acc, "b:"+words[i-1]+" "+word, bigramWeight)
		}
		padded := []rune("#" + word + "#")
		for j := 0; j+3 <= len(padded); j++ {
			h.add(acc, "t:"+string(padded[j:j+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}

func (h *HashingEncoder) add(acc []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	acc[idx] += weight
}

// Tokenize lower-cases and accent-folds text and splits it into words of
// letters and digits.
func Tokenize(text string) []string {
	folded := FoldAccents(strings.ToLower(text))
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// FoldAccents removes combining marks ("é" becomes "e"). The input is
// returned unchanged if the transformation fails.
func FoldAccents(s string) string {
	// transform.Chain is stateful; build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

var _ Encoder = (*HashingEncoder)(nil)
