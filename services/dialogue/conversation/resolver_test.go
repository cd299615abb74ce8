// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"testing"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/stretchr/testify/assert"
)

func previous(tag string) []history.Turn {
	return []history.Turn{
		{Utterance: "bonjour", Intent: "greeting", Timestamp: time.Now()},
		{Utterance: "earlier", Intent: tag, Timestamp: time.Now()},
	}
}

func newTestResolver() *Resolver {
	return NewResolver(nil, map[string]string{
		"order_status": "order",
		"delivery":     "delivery",
	}, "fr")
}

func TestResolve_EmptyHistoryIsIdentity(t *testing.T) {
	r := newTestResolver()
	for _, m := range []string{"", "ça coûte combien ?", "where is it", "  spaced  "} {
		assert.Equal(t, m, r.Resolve(m, "fr", nil))
		assert.Equal(t, m, r.Resolve(m, "en", []history.Turn{}))
	}
}

func TestResolve(t *testing.T) {
	r := newTestResolver()

	tests := []struct {
		name      string
		utterance string
		language  string
		prevTag   string
		want      string
	}{
		{
			name:      "french anaphora replaced by category phrase",
			utterance: "ça arrive bientôt ?",
			language:  "fr",
			prevTag:   "order_status",
			want:      "ma commande arrive bientôt ?",
		},
		{
			name:      "case insensitive marker",
			utterance: "Et CELA alors",
			language:  "fr",
			prevTag:   "delivery",
			want:      "Et la livraison alors",
		},
		{
			name:      "only the first occurrence is replaced",
			utterance: "it is late, is it lost",
			language:  "en",
			prevTag:   "order_status",
			want:      "my order is late, is it lost",
		},
		{
			name:      "longest marker wins",
			utterance: "is that one shipped",
			language:  "en",
			prevTag:   "order_status",
			want:      "is my order shipped",
		},
		{
			name:      "whole words only",
			utterance: "submit the form",
			language:  "en",
			prevTag:   "order_status",
			want:      "submit the form",
		},
		{
			name:      "no phrase for the category",
			utterance: "ça va ?",
			language:  "fr",
			prevTag:   "greeting",
			want:      "ça va ?",
		},
		{
			name:      "follow-up appends previous tag",
			utterance: "combien de temps ?",
			language:  "fr",
			prevTag:   "delivery",
			want:      "combien de temps ? delivery",
		},
		{
			name:      "both rewrites apply",
			utterance: "why is it late",
			language:  "en",
			prevTag:   "order_status",
			want:      "why is my order late order_status",
		},
		{
			name:      "topic switch keeps the anaphora but still adds the follow-up hint",
			utterance: "autre sujet : combien ça coûte",
			language:  "fr",
			prevTag:   "order_status",
			want:      "autre sujet : combien ça coûte order_status",
		},
		{
			name:      "topic switch without follow-up is unchanged",
			utterance: "different topic, is it open today",
			language:  "en",
			prevTag:   "order_status",
			want:      "different topic, is it open today",
		},
		{
			name:      "unsupported language uses default tables",
			utterance: "quand ?",
			language:  "de",
			prevTag:   "delivery",
			want:      "quand ? delivery",
		},
		{
			name:      "tag without category mapping is its own category",
			utterance: "pourquoi",
			language:  "fr",
			prevTag:   "refund",
			want:      "pourquoi refund",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.utterance, tt.language, previous(tt.prevTag)))
		})
	}
}

func TestResolve_UsesMostRecentTurn(t *testing.T) {
	r := newTestResolver()
	turns := []history.Turn{
		{Intent: "delivery"},
		{Intent: "order_status"},
	}
	assert.Equal(t, "ma commande ?", r.Resolve("ça ?", "fr", turns))
}

func TestResolve_CustomRules(t *testing.T) {
	r := NewResolver(map[string]Rules{
		"EN": {
			AnaphoraMarkers: []string{"the thing"},
			CategoryPhrases: map[string]string{"billing": "my invoice"},
		},
	}, map[string]string{"invoice_copy": "billing"}, "en")

	got := r.Resolve("send the thing again", "en", []history.Turn{{Intent: "invoice_copy"}})
	assert.Equal(t, "send my invoice again", got)
}
