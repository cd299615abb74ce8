// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dialogue

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/conversation"
	"github.com/AleutianAI/intentchat/services/dialogue/intent"
	"github.com/AleutianAI/intentchat/services/dialogue/responder"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
)

// catalog is everything derived from one taxonomy. It is immutable once
// built and replaced as a whole on reload.
type catalog struct {
	taxonomy *taxonomy.Taxonomy
	index    *intent.Index
	matcher  *intent.Matcher
	resolver *conversation.Resolver
	selector *responder.Selector
	builtAt  time.Time
}

// CatalogInfo describes the serving catalog.
type CatalogInfo struct {
	Intents    int       `json:"intents"`
	Patterns   int       `json:"patterns"`
	Languages  []string  `json:"languages"`
	Encoder    string    `json:"encoder"`
	Dimensions int       `json:"dimensions"`
	Threshold  float64   `json:"threshold"`
	BuiltAt    time.Time `json:"built_at"`
}

func (e *Engine) buildCatalog(ctx context.Context, tax *taxonomy.Taxonomy) (*catalog, error) {
	ctx, span := tracer.Start(ctx, "dialogue.Engine.buildCatalog")
	defer span.End()

	if err := tax.Validate(); err != nil {
		return nil, err
	}
	idx, err := intent.Build(ctx, tax, e.encoder, e.config.BuildOptions)
	if err != nil {
		return nil, fmt.Errorf("build pattern index: %w", err)
	}

	selector := responder.NewSelector(tax, responder.Config{
		DefaultLanguage: e.config.DefaultLanguage,
		Fallbacks:       e.config.Fallbacks,
		Phrasing:        e.config.Phrasing,
		Rand:            e.nextRand(),
	})

	return &catalog{
		taxonomy: tax,
		index:    idx,
		matcher:  intent.NewMatcher(idx, *e.config.Threshold),
		resolver: conversation.NewResolver(e.config.ContextRules, tax.Categories(), e.config.DefaultLanguage),
		selector: selector,
		builtAt:  time.Now(),
	}, nil
}

// nextRand derives a private source for a new selector so that catalogs
// never share one. Callers hold e.reloadMu.
func (e *Engine) nextRand() *rand.Rand {
	if e.config.Rand == nil {
		return nil
	}
	return rand.New(rand.NewPCG(e.config.Rand.Uint64(), e.config.Rand.Uint64()))
}

func (c *catalog) info() CatalogInfo {
	return CatalogInfo{
		Intents:    len(c.taxonomy.Intents),
		Patterns:   c.index.Len(),
		Languages:  c.taxonomy.Languages(),
		Encoder:    c.index.EncoderName(),
		Dimensions: c.index.Dimensions(),
		Threshold:  c.matcher.Threshold(),
		BuiltAt:    c.builtAt,
	}
}
