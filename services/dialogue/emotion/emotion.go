// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package emotion labels an utterance with a coarse emotional tone using
// keyword lexicons.
package emotion

import (
	"sort"
	"strings"
)

// Label is a coarse emotional tone.
type Label string

const (
	Happy      Label = "happy"
	Neutral    Label = "neutral"
	Frustrated Label = "frustrated"
	Concerned  Label = "concerned"
)

// Labels returns every label in a stable order.
func Labels() []Label {
	return []Label{Happy, Neutral, Frustrated, Concerned}
}

// Valid reports whether l is one of the four labels.
func (l Label) Valid() bool {
	switch l {
	case Happy, Neutral, Frustrated, Concerned:
		return true
	}
	return false
}

// Lexicon holds the keyword lists of one language.
type Lexicon struct {
	Positive []string `yaml:"positive" json:"positive"`
	Negative []string `yaml:"negative" json:"negative"`
	Urgent   []string `yaml:"urgent" json:"urgent"`
}

// DefaultLexicons returns the built-in French and English lexicons.
func DefaultLexicons() map[string]Lexicon {
	return map[string]Lexicon{
		"fr": {
			Positive: []string{"merci", "super", "génial", "parfait", "excellent", "ravi", "au top", "bravo"},
			Negative: []string{"problème", "erreur", "bug", "c'est nul", "mauvais", "déçu", "énervé", "cassé", "inacceptable", "inquiet"},
			Urgent:   []string{"urgent", "vite", "rapidement", "immédiatement", "tout de suite", "au plus vite"},
		},
		"en": {
			Positive: []string{"thanks", "thank you", "great", "awesome", "perfect", "excellent", "happy", "love"},
			Negative: []string{"problem", "error", "bug", "bad", "terrible", "disappointed", "angry", "broken", "unacceptable"},
			Urgent:   []string{"urgent", "asap", "immediately", "right now", "quickly", "hurry"},
		},
	}
}

// Classifier applies the union of several lexicons.
//
// # Description
//
// Matching is a case-insensitive substring search. Each distinct lexicon
// entry counts once when present, whichever language it came from. The rule,
// evaluated in order:
//
//   - 2 or more negative entries, or any urgent entry: frustrated
//   - any positive entry: happy
//   - exactly 1 negative entry: concerned
//   - otherwise: neutral
//
// # Thread Safety
//
// Immutable after construction; Classify is pure.
type Classifier struct {
	positive []string
	negative []string
	urgent   []string
}

// NewClassifier merges lexicons into one classifier. Entries are lower-cased
// and de-duplicated. A nil map uses DefaultLexicons.
func NewClassifier(lexicons map[string]Lexicon) *Classifier {
	if lexicons == nil {
		lexicons = DefaultLexicons()
	}
	var pos, neg, urg []string
	for _, lex := range lexicons {
		pos = append(pos, lex.Positive...)
		neg = append(neg, lex.Negative...)
		urg = append(urg, lex.Urgent...)
	}
	return &Classifier{
		positive: dedupe(pos),
		negative: dedupe(neg),
		urgent:   dedupe(urg),
	}
}

// Classify returns the label of text.
func (c *Classifier) Classify(text string) Label {
	lower := strings.ToLower(text)
	negative := count(lower, c.negative)
	urgent := count(lower, c.urgent)

	switch {
	case negative >= 2 || urgent >= 1:
		return Frustrated
	case count(lower, c.positive) >= 1:
		return Happy
	case negative == 1:
		return Concerned
	default:
		return Neutral
	}
}

func count(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func dedupe(words []string) []string {
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
