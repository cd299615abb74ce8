// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"github.com/AleutianAI/intentchat/services/embeddings"
)

// DefaultThreshold is the minimum score for a match to be accepted.
const DefaultThreshold = 0.35

// Match is the best entry for a query.
type Match struct {
	// Tag of the best entry. Set even when Found is false, for diagnostics.
	Tag string

	// Score is the cosine similarity clamped to [0, 1].
	Score float64

	// Found is false when Score < Threshold or the index is empty.
	Found bool

	// Pattern is the text of the best entry.
	Pattern string
}

// Matcher finds the best-scoring index entry for a query vector.
type Matcher struct {
	index     *Index
	threshold float64
}

// NewMatcher returns a Matcher over index. A threshold outside [0, 1] falls
// back to DefaultThreshold.
func NewMatcher(index *Index, threshold float64) *Matcher {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Matcher{index: index, threshold: threshold}
}

// Threshold returns the configured threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Index returns the underlying index.
func (m *Matcher) Index() *Index { return m.index }

// Match scores query against every entry.
//
// # Description
//
// Cosine similarity against all entries, keeping the maximum. Comparison is
// strictly greater-than, so on ties the earliest entry wins. A query whose
// dimension differs from the index scores 0 and is not found.
//
// # Outputs
//
//   - Match: Best tag and clamped score; Found reports the threshold test.
func (m *Matcher) Match(query []float32) Match {
	if m.index == nil || m.index.Len() == 0 {
		return Match{}
	}
	if len(query) != m.index.Dimensions() {
		return Match{}
	}

	best := -1
	bestScore := 0.0
	for i := range m.index.entries {
		score, err := embeddings.CosineSimilarity(query, m.index.entries[i].Vector)
		if err != nil {
			continue
		}
		if best < 0 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	if best < 0 {
		return Match{}
	}

	score := clamp01(bestScore)
	e := m.index.entries[best]
	return Match{
		Tag:     e.Tag,
		Score:   score,
		Found:   score >= m.threshold,
		Pattern: e.Text,
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
