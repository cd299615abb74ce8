// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taxonomy loads the intent catalog: tags, example patterns and
// candidate responses per language.
//
// # Document Format
//
// JSON or YAML (JSON is parsed as YAML):
//
//	intents:
//	  - tag: greeting
//	    category: greeting        # optional, defaults to the tag
//	    patterns: ["bonjour", "salut"]          # flat list -> default language
//	    responses:
//	      fr: ["Bonjour !"]                     # or a map language -> list
//	      en: ["Hello!"]
//
// Both shapes are accepted for patterns and responses, and are normalized once
// at load time into map[language][]string. Downstream code never sees the flat
// shape.
package taxonomy

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownTag is reported when no intent matches. It is reserved.
const UnknownTag = "unknown"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid taxonomy")

// =============================================================================
// Types
// =============================================================================

// Taxonomy is a normalized intent catalog. Intents keep document order.
type Taxonomy struct {
	// DefaultLanguage received the flat pattern/response lists and is the
	// fallback language for responses.
	DefaultLanguage string `json:"default_language" yaml:"default_language"`

	Intents []Intent `json:"intents" yaml:"intents"`
}

// Intent is one tag with its per-language patterns and responses.
type Intent struct {
	Tag       string              `json:"tag" yaml:"tag"`
	Category  string              `json:"category" yaml:"category"`
	Patterns  map[string][]string `json:"patterns" yaml:"patterns"`
	Responses map[string][]string `json:"responses" yaml:"responses"`
}

// document is the on-disk shape before normalization.
type document struct {
	Intents []rawIntent `yaml:"intents"`
}

type rawIntent struct {
	Tag       string        `yaml:"tag"`
	Category  string        `yaml:"category"`
	Patterns  localizedList `yaml:"patterns"`
	Responses localizedList `yaml:"responses"`
}

// localizedList accepts either a sequence of strings or a mapping of
// language code to sequence of strings.
type localizedList struct {
	flat   []string
	byLang map[string][]string
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *localizedList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		return value.Decode(&l.flat)
	case yaml.MappingNode:
		return value.Decode(&l.byLang)
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return nil
		}
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		l.flat = []string{single}
		return nil
	default:
		return fmt.Errorf("line %d: expected a list or a language map", value.Line)
	}
}

// normalize merges both shapes into map[lang][]string. Flat entries go to
// defaultLang. Strings are trimmed, empties and duplicates dropped.
func (l localizedList) normalize(defaultLang string) map[string][]string {
	out := make(map[string][]string)
	add := func(lang string, items []string) {
		lang = NormalizeLanguage(lang)
		if lang == "" {
			lang = defaultLang
		}
		seen := make(map[string]bool, len(out[lang]))
		for _, s := range out[lang] {
			seen[s] = true
		}
		for _, s := range items {
			s = strings.TrimSpace(s)
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out[lang] = append(out[lang], s)
		}
	}
	add(defaultLang, l.flat)

	langs := make([]string, 0, len(l.byLang))
	for lang := range l.byLang {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		add(lang, l.byLang[lang])
	}
	for lang, items := range out {
		if len(items) == 0 {
			delete(out, lang)
		}
	}
	return out
}

// =============================================================================
// Loading
// =============================================================================

// Parse decodes, normalizes and validates a taxonomy document.
//
// # Inputs
//
//   - data: JSON or YAML document.
//   - defaultLanguage: Language assigned to flat lists, e.g. "fr".
//
// # Outputs
//
//   - *Taxonomy: Normalized catalog.
//   - error: Decode error, or a validation error wrapping ErrInvalid.
func Parse(data []byte, defaultLanguage string) (*Taxonomy, error) {
	defaultLanguage = NormalizeLanguage(defaultLanguage)
	if defaultLanguage == "" {
		return nil, fmt.Errorf("%w: default language is required", ErrInvalid)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode taxonomy: %w", err)
	}

	tax := &Taxonomy{
		DefaultLanguage: defaultLanguage,
		Intents:         make([]Intent, 0, len(doc.Intents)),
	}
	for _, raw := range doc.Intents {
		tag := strings.TrimSpace(raw.Tag)
		category := strings.TrimSpace(raw.Category)
		if category == "" {
			category = tag
		}
		tax.Intents = append(tax.Intents, Intent{
			Tag:       tag,
			Category:  category,
			Patterns:  raw.Patterns.normalize(defaultLanguage),
			Responses: raw.Responses.normalize(defaultLanguage),
		})
	}

	if err := tax.Validate(); err != nil {
		return nil, err
	}
	return tax, nil
}

// LoadFile reads and parses the taxonomy at path.
func LoadFile(path, defaultLanguage string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	tax, err := Parse(data, defaultLanguage)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return tax, nil
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks that tags are unique and every intent has patterns and responses.
//
// # Description
//
// A valid taxonomy has at least one intent. Every intent has a unique,
// non-empty tag other than "unknown", at least one pattern, and at least one
// response in the default language. A pattern text belongs to exactly one
// tag within a language.
//
// # Outputs
//
//   - error: nil, or an error wrapping ErrInvalid listing every problem.
func (t *Taxonomy) Validate() error {
	var problems []string
	if t.DefaultLanguage == "" {
		problems = append(problems, "default language is empty")
	}
	if len(t.Intents) == 0 {
		problems = append(problems, "no intents defined")
	}

	tags := make(map[string]bool, len(t.Intents))
	owners := make(map[string]string)
	for i, in := range t.Intents {
		label := in.Tag
		if label == "" {
			label = fmt.Sprintf("#%d", i)
			problems = append(problems, fmt.Sprintf("intent %s has an empty tag", label))
		}
		if strings.EqualFold(in.Tag, UnknownTag) {
			problems = append(problems, fmt.Sprintf("tag %q is reserved", UnknownTag))
		}
		if in.Tag != "" && tags[in.Tag] {
			problems = append(problems, fmt.Sprintf("duplicate tag %q", in.Tag))
		}
		tags[in.Tag] = true

		if countAll(in.Patterns) == 0 {
			problems = append(problems, fmt.Sprintf("intent %s has no patterns", label))
		}
		if len(in.Responses[t.DefaultLanguage]) == 0 {
			problems = append(problems, fmt.Sprintf("intent %s has no %s responses", label, t.DefaultLanguage))
		}

		for _, lang := range sortedKeys(in.Patterns) {
			for _, p := range in.Patterns[lang] {
				key := lang + "\x00" + strings.ToLower(p)
				if owner, ok := owners[key]; ok && owner != in.Tag {
					problems = append(problems, fmt.Sprintf("pattern %q (%s) belongs to both %s and %s", p, lang, owner, label))
					continue
				}
				owners[key] = in.Tag
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// =============================================================================
// Queries
// =============================================================================

// Lookup returns the intent with the given tag.
func (t *Taxonomy) Lookup(tag string) (Intent, bool) {
	for _, in := range t.Intents {
		if in.Tag == tag {
			return in, true
		}
	}
	return Intent{}, false
}

// Tags returns every tag in document order.
func (t *Taxonomy) Tags() []string {
	out := make([]string, len(t.Intents))
	for i, in := range t.Intents {
		out[i] = in.Tag
	}
	return out
}

// Languages returns the sorted set of languages used by any pattern or
// response.
func (t *Taxonomy) Languages() []string {
	set := map[string]bool{}
	for _, in := range t.Intents {
		for lang := range in.Patterns {
			set[lang] = true
		}
		for lang := range in.Responses {
			set[lang] = true
		}
	}
	return sortedKeys(set)
}

// Categories maps each tag to its category.
func (t *Taxonomy) Categories() map[string]string {
	out := make(map[string]string, len(t.Intents))
	for _, in := range t.Intents {
		out[in.Tag] = in.Category
	}
	return out
}

// PatternCount returns the total number of patterns over all languages.
func (t *Taxonomy) PatternCount() int {
	n := 0
	for _, in := range t.Intents {
		n += countAll(in.Patterns)
	}
	return n
}

// NormalizeLanguage lower-cases a language tag and keeps its primary subtag:
// "FR-ca" and "fr_CA" both become "fr".
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	return lang
}

func countAll(m map[string][]string) int {
	n := 0
	for _, items := range m {
		n += len(items)
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
