// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package responder picks and phrases the reply for a resolved intent.
package responder

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/emotion"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
)

// Phrasing is text added around a response for one emotion.
type Phrasing struct {
	Prefix string `yaml:"prefix" json:"prefix"`
	Suffix string `yaml:"suffix" json:"suffix"`
}

// DefaultFallbacks returns the reply used when no intent matched.
func DefaultFallbacks() map[string]string {
	return map[string]string{
		"fr": "Je ne suis pas sûr de comprendre votre question. Pouvez-vous la reformuler ou contacter notre support ?",
		"en": "I'm not sure I understand your question. Could you rephrase it or contact our support team?",
	}
}

// DefaultPhrasing returns the built-in emotion phrasing per language.
func DefaultPhrasing() map[string]map[emotion.Label]Phrasing {
	return map[string]map[emotion.Label]Phrasing{
		"fr": {
			emotion.Frustrated: {Prefix: "Je comprends votre frustration et je vais faire de mon mieux pour vous aider. "},
			emotion.Concerned:  {Prefix: "Je comprends votre inquiétude. "},
			emotion.Happy:      {Suffix: " 😊"},
		},
		"en": {
			emotion.Frustrated: {Prefix: "I understand your frustration and I'll do my best to help. "},
			emotion.Concerned:  {Prefix: "I understand your concern. "},
			emotion.Happy:      {Suffix: " 😊"},
		},
	}
}

// Config configures a Selector.
type Config struct {
	// DefaultLanguage is used when a language has no responses or fallback.
	DefaultLanguage string

	// Fallbacks maps language to the unresolved-intent reply. nil uses
	// DefaultFallbacks.
	Fallbacks map[string]string

	// Phrasing maps language and emotion to added text. nil uses
	// DefaultPhrasing; an empty map disables phrasing.
	Phrasing map[string]map[emotion.Label]Phrasing

	// Rand is the random source. nil seeds one from the clock.
	Rand *rand.Rand
}

// Selector chooses responses.
//
// # Description
//
// For a tag present in the taxonomy, one candidate is drawn uniformly from
// the requested language's responses, or from the default language's when
// the requested language has none. Emotion phrasing is then added when a
// phrasing entry exists for the chosen response's language and the emotion.
// Phrasing only adds text; the base response is unchanged.
//
// For an absent tag (including "unknown") the fallback of the requested
// language is returned, or the default language's fallback. Fallbacks carry
// no emotion phrasing.
//
// # Thread Safety
//
// Safe for concurrent use; draws from the random source are serialized.
type Selector struct {
	responses       map[string]map[string][]string
	fallbacks       map[string]string
	phrasing        map[string]map[emotion.Label]Phrasing
	defaultLanguage string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a Selector over tax.
func NewSelector(tax *taxonomy.Taxonomy, cfg Config) *Selector {
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = tax.DefaultLanguage
	}
	if cfg.Fallbacks == nil {
		cfg.Fallbacks = DefaultFallbacks()
	}
	if cfg.Phrasing == nil {
		cfg.Phrasing = DefaultPhrasing()
	}
	if cfg.Rand == nil {
		seed := uint64(time.Now().UnixNano())
		cfg.Rand = rand.New(rand.NewPCG(seed, seed>>1|1))
	}

	responses := make(map[string]map[string][]string, len(tax.Intents))
	for _, in := range tax.Intents {
		responses[in.Tag] = in.Responses
	}
	fallbacks := make(map[string]string, len(cfg.Fallbacks))
	for lang, text := range cfg.Fallbacks {
		fallbacks[taxonomy.NormalizeLanguage(lang)] = text
	}
	return &Selector{
		responses:       responses,
		fallbacks:       fallbacks,
		phrasing:        cfg.Phrasing,
		defaultLanguage: taxonomy.NormalizeLanguage(cfg.DefaultLanguage),
		rng:             cfg.Rand,
	}
}

// NewSeededRand returns a deterministic random source for tests and
// reproducible runs.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// Select returns the reply for tag, phrased for emo, in language.
func (s *Selector) Select(tag string, emo emotion.Label, language string) string {
	byLang, ok := s.responses[tag]
	if !ok {
		return s.Fallback(language)
	}

	lang := language
	candidates := byLang[lang]
	if len(candidates) == 0 {
		lang = s.defaultLanguage
		candidates = byLang[lang]
	}
	if len(candidates) == 0 {
		return s.Fallback(language)
	}

	s.mu.Lock()
	base := candidates[s.rng.IntN(len(candidates))]
	s.mu.Unlock()

	if p, ok := s.phrasing[lang][emo]; ok {
		return p.Prefix + base + p.Suffix
	}
	return base
}

// Fallback returns the unresolved-intent reply for language.
func (s *Selector) Fallback(language string) string {
	if text, ok := s.fallbacks[language]; ok && text != "" {
		return text
	}
	return s.fallbacks[s.defaultLanguage]
}

// HasTag reports whether tag has responses.
func (s *Selector) HasTag(tag string) bool {
	_, ok := s.responses[tag]
	return ok
}
