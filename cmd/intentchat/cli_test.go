// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/intentchat/services/dialogue"
	"github.com/AleutianAI/intentchat/services/dialogue/responder"
	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
	"github.com/AleutianAI/intentchat/services/embeddings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestEngine(t *testing.T) *dialogue.Engine {
	t.Helper()
	c := dialogue.DefaultConfig()
	c.Rand = responder.NewSeededRand(5)
	e, err := dialogue.New(context.Background(), taxonomy.MustLoadDefault("fr"), c, dialogue.Dependencies{
		Encoder: embeddings.NewHashingEncoder(512),
	})
	require.NoError(t, err)
	return e
}

// =============================================================================
// Chat REPL Tests
// =============================================================================

func TestChatREPL_Conversation(t *testing.T) {
	engine := newTestEngine(t)
	in := strings.NewReader("bonjour\n\n/lang en\ngoodbye\nexit\nbonjour\n")
	var out bytes.Buffer

	repl := newChatREPL(engine, in, &out, "repl", "")
	require.NoError(t, repl.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Session repl (languages: fr, en)")
	assert.Contains(t, text, "[greeting")
	assert.Contains(t, text, "(language: en)")
	assert.Contains(t, text, "[goodbye")
	assert.Equal(t, 2, strings.Count(text, "  ["), "input after exit is not processed")

	turns, err := engine.History(context.Background(), "repl")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestChatREPL_ResetAndEOF(t *testing.T) {
	engine := newTestEngine(t)
	var out bytes.Buffer

	repl := newChatREPL(engine, strings.NewReader("bonjour\n/reset\n"), &out, "r2", "fr")
	require.NoError(t, repl.run(context.Background()))

	assert.Contains(t, out.String(), "(history cleared)")
	turns, err := engine.History(context.Background(), "r2")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestChatREPL_GeneratesSessionID(t *testing.T) {
	repl := newChatREPL(newTestEngine(t), strings.NewReader(""), &bytes.Buffer{}, "", "")
	assert.NotEmpty(t, repl.sessionID)
}

func TestChatREPL_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repl := newChatREPL(newTestEngine(t), strings.NewReader("bonjour\n"), &bytes.Buffer{}, "c", "")
	assert.ErrorIs(t, repl.run(ctx), context.Canceled)
}

func TestIsExitCommand(t *testing.T) {
	assert.True(t, isExitCommand("exit"))
	assert.True(t, isExitCommand("quit"))
	assert.False(t, isExitCommand("Exit now"))
}

// =============================================================================
// Taxonomy Validate Tests
// =============================================================================

func TestValidateTaxonomy(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(`intents:
  - tag: greeting
    patterns:
      fr: [bonjour, salut]
      en: [hello]
    responses:
      fr: [Bonjour !]
      en: [Hello!]
  - tag: thanks
    patterns: [merci]
    responses: [De rien.]
`), 0o644))

	var out bytes.Buffer
	require.NoError(t, validateTaxonomy(&out, good, "fr"))
	assert.Contains(t, out.String(), "OK")
	assert.Contains(t, out.String(), "intents:   2")
	assert.Contains(t, out.String(), "patterns:  4")
	assert.Contains(t, out.String(), "en:        1 patterns, 1 responses")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"intents":[{"tag":"x","patterns":[],"responses":["r"]}]}`), 0o644))
	err := validateTaxonomy(&bytes.Buffer{}, bad, "fr")
	require.Error(t, err)
	assert.ErrorIs(t, err, taxonomy.ErrInvalid)

	assert.Error(t, validateTaxonomy(&bytes.Buffer{}, filepath.Join(dir, "missing.yaml"), "fr"))
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestFetchStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/stats" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(store.Stats{
			TotalConversations: 3,
			TopIntents:         []store.IntentCount{{Intent: "greeting", Count: 2}},
			AvgConfidence:      0.8,
		})
	}))
	defer srv.Close()

	st, err := fetchStats(context.Background(), srv.Client(), srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalConversations)

	var out bytes.Buffer
	printStats(&out, st)
	assert.Contains(t, out.String(), "Conversations:  3")
	assert.Contains(t, out.String(), "greeting")
}

func TestFetchStats_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := fetchStats(context.Background(), srv.Client(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestLocalStats(t *testing.T) {
	_, err := localStats(context.Background(), store.Config{Backend: store.BackendNone}, nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "conv.db")
	st, err := store.OpenSQLiteStore(path)
	require.NoError(t, err)
	_, err = st.Save(context.Background(), store.Record{SessionID: "s", Intent: "greeting", Confidence: 0.9})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	stats, err := localStats(context.Background(), store.Config{Backend: store.BackendSQLite, Path: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalConversations)
}
