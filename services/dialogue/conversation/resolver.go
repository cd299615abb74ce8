// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation rewrites an utterance using the session's recent turns
// before it is encoded.
//
// # Description
//
// Two independent heuristics apply when the session has history:
//
//   - Anaphora: a referring marker ("ça", "it") is replaced by the canonical
//     phrase of the previous intent's category ("ma commande", "my order").
//   - Follow-up: when a follow-up marker ("combien", "how much") is present,
//     the previous intent tag is appended as a disambiguation hint.
//
// The marker tables are a small heuristic with deliberately limited
// coverage; they are configuration, not linguistics.
package conversation

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
)

// Rules holds the marker tables of one language.
type Rules struct {
	// AnaphoraMarkers are referring expressions, e.g. "ça", "it".
	AnaphoraMarkers []string `yaml:"anaphora_markers" json:"anaphora_markers"`

	// CategoryPhrases maps an intent category to the phrase substituted for
	// an anaphora marker, e.g. "order" -> "ma commande".
	CategoryPhrases map[string]string `yaml:"category_phrases" json:"category_phrases"`

	// FollowUpMarkers trigger appending the previous tag, e.g. "combien".
	FollowUpMarkers []string `yaml:"follow_up_markers" json:"follow_up_markers"`

	// TopicSwitchPhrases disable the anaphora substitution, e.g. "autre sujet".
	TopicSwitchPhrases []string `yaml:"topic_switch_phrases" json:"topic_switch_phrases"`
}

// DefaultRules returns the built-in French and English tables.
func DefaultRules() map[string]Rules {
	return map[string]Rules{
		"fr": {
			AnaphoraMarkers: []string{"ça", "ca", "cela", "celui-ci", "celle-ci", "celui-là", "celle-là"},
			CategoryPhrases: map[string]string{
				"order":    "ma commande",
				"delivery": "la livraison",
				"refund":   "le remboursement",
				"payment":  "le paiement",
			},
			FollowUpMarkers:    []string{"combien", "quand", "pourquoi", "comment", "et si"},
			TopicSwitchPhrases: []string{"autre sujet", "autre question", "rien à voir", "changeons de sujet"},
		},
		"en": {
			AnaphoraMarkers: []string{"it", "that", "this one", "that one"},
			CategoryPhrases: map[string]string{
				"order":    "my order",
				"delivery": "the delivery",
				"refund":   "the refund",
				"payment":  "the payment",
			},
			FollowUpMarkers:    []string{"how much", "when", "why", "how long", "what about"},
			TopicSwitchPhrases: []string{"different topic", "unrelated", "change of subject", "something else", "new question"},
		},
	}
}

// compiledRules is Rules with markers compiled to whole-word patterns.
type compiledRules struct {
	anaphora    []*regexp.Regexp
	phrases     map[string]string
	followUp    []*regexp.Regexp
	topicSwitch []*regexp.Regexp
}

// Resolver applies the context rewrites.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Resolver struct {
	rules           map[string]compiledRules
	categories      map[string]string
	defaultLanguage string
}

// NewResolver compiles rules.
//
// # Inputs
//
//   - rules: Tables per language. nil uses DefaultRules.
//   - categories: Intent tag to category, usually Taxonomy.Categories().
//     Tags missing from it are their own category.
//   - defaultLanguage: Tables used when a language has none.
//
// # Outputs
//
//   - *Resolver: Ready to use.
func NewResolver(rules map[string]Rules, categories map[string]string, defaultLanguage string) *Resolver {
	if rules == nil {
		rules = DefaultRules()
	}
	r := &Resolver{
		rules:           make(map[string]compiledRules, len(rules)),
		categories:      categories,
		defaultLanguage: taxonomy.NormalizeLanguage(defaultLanguage),
	}
	for lang, rl := range rules {
		r.rules[taxonomy.NormalizeLanguage(lang)] = compiledRules{
			anaphora:    compileMarkers(rl.AnaphoraMarkers),
			phrases:     rl.CategoryPhrases,
			followUp:    compileMarkers(rl.FollowUpMarkers),
			topicSwitch: compileMarkers(rl.TopicSwitchPhrases),
		}
	}
	return r
}

// Resolve returns the text to encode for utterance.
//
// # Description
//
// With an empty history the utterance is returned unchanged. Otherwise the
// most recent turn's intent drives both rewrites:
//
//  1. The first anaphora marker found (longest markers tried first) is
//     replaced at its first occurrence by the phrase of the previous
//     intent's category. No phrase for that category means no substitution.
//  2. If any follow-up marker is present, " " + previous tag is appended.
//
// A topic-switch phrase disables step 1 only; the follow-up hint still
// applies.
// Matching is case-insensitive on whole words.
//
// # Inputs
//
//   - utterance: Raw user text.
//   - language: Normalized language code.
//   - turns: Session history, oldest first.
//
// # Outputs
//
//   - string: Text to encode. The stored utterance is never modified.
func (r *Resolver) Resolve(utterance, language string, turns []history.Turn) string {
	prev, ok := history.Last(turns)
	if !ok || prev.Intent == "" || prev.Intent == taxonomy.UnknownTag {
		return utterance
	}
	rules, ok := r.rules[language]
	if !ok {
		if rules, ok = r.rules[r.defaultLanguage]; !ok {
			return utterance
		}
	}
	out := utterance
	switched := anyMatch(rules.topicSwitch, utterance)
	if phrase, ok := rules.phrases[r.category(prev.Intent)]; ok && phrase != "" && !switched {
		for _, re := range rules.anaphora {
			loc := re.FindStringSubmatchIndex(out)
			if loc == nil {
				continue
			}
			// Group 1 is the marker itself, without the boundary characters.
			out = out[:loc[2]] + phrase + out[loc[3]:]
			break
		}
	}
	if anyMatch(rules.followUp, utterance) {
		out = out + " " + prev.Intent
	}
	return out
}

func (r *Resolver) category(tag string) string {
	if c, ok := r.categories[tag]; ok && c != "" {
		return c
	}
	return tag
}

// compileMarkers builds case-insensitive whole-word patterns, longest
// marker first.
func compileMarkers(markers []string) []*regexp.Regexp {
	sorted := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.TrimSpace(m); m != "" {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len([]rune(sorted[i])) > len([]rune(sorted[j]))
	})

	out := make([]*regexp.Regexp, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(`+regexp.QuoteMeta(m)+`)(?:$|[^\p{L}\p{N}])`))
	}
	return out
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
