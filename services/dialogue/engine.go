// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dialogue runs one conversational turn end to end.
//
// # Description
//
// Engine.Process classifies the emotion of an utterance, rewrites it using the
// session's recent turns, encodes it, matches it against the pattern index,
// records the turn, selects a localized reply and persists the exchange.
//
// Everything derived from the taxonomy (index, matcher, resolver, selector)
// lives in an immutable catalog swapped atomically by Reload, so turns in
// flight finish on the catalog they started with.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Turns for the same session id are
// serialized; turns for different sessions run in parallel.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/intentchat/services/dialogue/conversation"
	"github.com/AleutianAI/intentchat/services/dialogue/emotion"
	"github.com/AleutianAI/intentchat/services/dialogue/history"
	"github.com/AleutianAI/intentchat/services/dialogue/intent"
	"github.com/AleutianAI/intentchat/services/dialogue/responder"
	"github.com/AleutianAI/intentchat/services/dialogue/store"
	"github.com/AleutianAI/intentchat/services/dialogue/taxonomy"
	"github.com/AleutianAI/intentchat/services/embeddings"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("intentchat.dialogue")

// ErrEmptyUtterance is returned by Process for blank input.
var ErrEmptyUtterance = errors.New("utterance is empty")

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the engine. Zero values take the defaults from DefaultConfig.
type Config struct {
	// Threshold is the minimum similarity for a match, in [0, 1]. 0 accepts
	// every non-empty index. nil or out of range uses 0.35.
	Threshold *float64

	// DefaultLanguage is used for unsupported languages. Default: "fr".
	DefaultLanguage string

	// Languages lists the supported language codes. Default: fr, en.
	Languages []string

	// EncodeTimeout bounds one encoder call. Default: 2s.
	EncodeTimeout time.Duration

	// PersistTimeout bounds one store call. Default: 2s.
	PersistTimeout time.Duration

	// Lexicons overrides the emotion lexicons. nil uses the defaults.
	Lexicons map[string]emotion.Lexicon

	// ContextRules overrides the anaphora tables. nil uses the defaults.
	ContextRules map[string]conversation.Rules

	// Fallbacks overrides the unresolved-intent replies.
	Fallbacks map[string]string

	// Phrasing overrides the emotion phrasing.
	Phrasing map[string]map[emotion.Label]responder.Phrasing

	// Rand seeds response selection. nil uses a clock-seeded source.
	Rand *rand.Rand

	// BuildOptions tunes index construction. nil uses the defaults.
	BuildOptions *intent.BuildOptions
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:       ThresholdOf(intent.DefaultThreshold),
		DefaultLanguage: "fr",
		Languages:       []string{"fr", "en"},
		EncodeTimeout:   2 * time.Second,
		PersistTimeout:  2 * time.Second,
	}
}

// ThresholdOf returns a pointer for Config.Threshold.
func ThresholdOf(v float64) *float64 { return &v }

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold == nil || *c.Threshold < 0 || *c.Threshold > 1 {
		c.Threshold = d.Threshold
	} else {
		c.Threshold = ThresholdOf(*c.Threshold)
	}
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = d.DefaultLanguage
	}
	c.DefaultLanguage = taxonomy.NormalizeLanguage(c.DefaultLanguage)
	if len(c.Languages) == 0 {
		c.Languages = d.Languages
	}
	langs := make([]string, 0, len(c.Languages)+1)
	for _, l := range c.Languages {
		l = taxonomy.NormalizeLanguage(l)
		if l != "" && !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	if !slices.Contains(langs, c.DefaultLanguage) {
		langs = append(langs, c.DefaultLanguage)
	}
	c.Languages = langs
	if c.EncodeTimeout <= 0 {
		c.EncodeTimeout = d.EncodeTimeout
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = d.PersistTimeout
	}
	return c
}

// Dependencies are the engine's collaborators. Only Encoder is required.
type Dependencies struct {
	// Encoder turns text into vectors. Required.
	Encoder embeddings.Encoder

	// History stores recent turns. nil uses an in-memory store of capacity 5.
	History history.Store

	// Store persists exchanges. nil uses store.NopStore.
	Store store.ConversationStore

	// Metrics receives per-turn observations. nil discards them.
	Metrics MetricsRecorder

	// Logger. nil uses slog.Default().
	Logger *slog.Logger

	// Now is the clock for turn timestamps. nil uses time.Now.
	Now func() time.Time
}

// MetricsRecorder receives engine observations.
type MetricsRecorder interface {
	ObserveTurn(intent string, emo emotion.Label, language string, confidence float64, duration time.Duration)
	EncoderFailure(reason string)
	PersistFailure(operation string)
	CatalogReload(success bool, patterns int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTurn(string, emotion.Label, string, float64, time.Duration) {}
func (nopMetrics) EncoderFailure(string)                                             {}
func (nopMetrics) PersistFailure(string)                                             {}
func (nopMetrics) CatalogReload(bool, int)                                           {}

// =============================================================================
// Engine
// =============================================================================

// ChatResult is the outcome of one turn.
type ChatResult struct {
	Response       string         `json:"response"`
	Intent         string         `json:"intent"`
	Confidence     float64        `json:"confidence"`
	Emotion        emotion.Label  `json:"emotion"`
	Language       string         `json:"language"`
	SessionID      string         `json:"session_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Context        []history.Turn `json:"context"`
	Degraded       bool           `json:"degraded,omitempty"`
}

// Engine is the dialogue orchestrator.
type Engine struct {
	config     Config
	encoder    embeddings.Encoder
	history    history.Store
	store      store.ConversationStore
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
	classifier *emotion.Classifier
	locker     *history.SessionLocker

	reloadMu sync.Mutex
	catalog  atomic.Pointer[catalog]
}

// New builds an engine serving tax.
//
// # Description
//
// Validates tax and encodes every pattern before returning, so the first turn
// never waits on index construction.
//
// # Inputs
//
//   - ctx: Bounds index construction.
//   - tax: Intent taxonomy. Required.
//   - cfg: Tuning; zero values take defaults.
//   - deps: Collaborators; Encoder is required.
//
// # Outputs
//
//   - *Engine: Ready engine.
//   - error: Invalid taxonomy (wraps taxonomy.ErrInvalid) or encoder failure.
func New(ctx context.Context, tax *taxonomy.Taxonomy, cfg Config, deps Dependencies) (*Engine, error) {
	if tax == nil {
		return nil, errors.New("taxonomy is required")
	}
	if deps.Encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if deps.History == nil {
		deps.History = history.NewMemoryStore(history.DefaultCapacity)
	}
	if deps.Store == nil {
		deps.Store = store.NopStore{}
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	e := &Engine{
		config:     cfg.withDefaults(),
		encoder:    deps.Encoder,
		history:    deps.History,
		store:      deps.Store,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		now:        deps.Now,
		classifier: emotion.NewClassifier(cfg.Lexicons),
		locker:     history.NewSessionLocker(),
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	cat, err := e.buildCatalog(ctx, tax)
	if err != nil {
		return nil, err
	}
	e.catalog.Store(cat)
	e.metrics.CatalogReload(true, cat.index.Len())
	e.logger.Info("dialogue catalog ready",
		slog.Int("intents", len(tax.Intents)),
		slog.Int("patterns", cat.index.Len()),
		slog.String("encoder", cat.index.EncoderName()),
		slog.Float64("threshold", cat.matcher.Threshold()))
	return e, nil
}

// Process runs one turn.
//
// # Description
//
//  1. Rejects a blank utterance; normalizes language (unsupported → default).
//  2. Classifies the emotion of the raw utterance.
//  3. Resolves references using the session's history.
//  4. Encodes the resolved text under EncodeTimeout and matches it. An encoder
//     failure degrades the turn to "unknown" with confidence 0.
//  5. Appends (utterance, intent, now) to the history when an intent matched.
//  6. Selects the reply and snapshots the history.
//  7. Persists the exchange under PersistTimeout. Failures are logged only.
//
// An empty sessionID starts a new session; the generated id is returned in
// the result.
//
// # Outputs
//
//   - ChatResult: Always populated unless err is non-nil.
//   - error: ErrEmptyUtterance only.
func (e *Engine) Process(ctx context.Context, utterance, sessionID, language string) (ChatResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "dialogue.Engine.Process")
	defer span.End()

	if strings.TrimSpace(utterance) == "" {
		span.SetStatus(codes.Error, ErrEmptyUtterance.Error())
		return ChatResult{}, ErrEmptyUtterance
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	lang := e.NormalizeLanguage(language)
	cat := e.catalog.Load()
	logger := e.logger.With(slog.String("session_id", sessionID))

	unlock := e.locker.Lock(sessionID)
	defer unlock()

	emo := e.classifier.Classify(utterance)

	turns, err := e.history.Get(ctx, sessionID)
	if err != nil {
		logger.Warn("history read failed, continuing without context", slog.String("error", err.Error()))
		turns = nil
	}
	resolved := cat.resolver.Resolve(utterance, lang, turns)

	tag, confidence, degraded := e.classifyIntent(ctx, cat, resolved, logger)

	if tag != taxonomy.UnknownTag {
		turn := history.Turn{Utterance: utterance, Intent: tag, Timestamp: e.now()}
		if err := e.history.Append(ctx, sessionID, turn); err != nil {
			logger.Warn("history append failed", slog.String("error", err.Error()))
		} else {
			turns = appendBounded(turns, turn, e.history.Capacity())
		}
	}

	response := cat.selector.Select(tag, emo, lang)

	snapshot, err := e.history.Get(ctx, sessionID)
	if err != nil {
		snapshot = turns
	}
	if snapshot == nil {
		snapshot = []history.Turn{}
	}

	result := ChatResult{
		Response:   response,
		Intent:     tag,
		Confidence: confidence,
		Emotion:    emo,
		Language:   lang,
		SessionID:  sessionID,
		Context:    snapshot,
		Degraded:   degraded,
	}
	result.ConversationID = e.persist(ctx, result, utterance, logger)

	e.metrics.ObserveTurn(tag, emo, lang, confidence, time.Since(start))
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("intent", tag),
		attribute.Float64("confidence", confidence),
		attribute.String("emotion", string(emo)),
		attribute.String("language", lang),
		attribute.Bool("degraded", degraded),
	)
	logger.Debug("turn processed",
		slog.String("intent", tag),
		slog.Float64("confidence", confidence),
		slog.String("emotion", string(emo)),
		slog.String("language", lang))
	return result, nil
}

// classifyIntent encodes text and matches it. Returns the tag (or "unknown"),
// the confidence and whether the encoder failed.
func (e *Engine) classifyIntent(ctx context.Context, cat *catalog, text string, logger *slog.Logger) (string, float64, bool) {
	encCtx, cancel := context.WithTimeout(ctx, e.config.EncodeTimeout)
	defer cancel()

	vec, err := e.encoder.Embed(encCtx, text)
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(encCtx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		logger.Warn("encoder failed, degrading to unknown intent",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		e.metrics.EncoderFailure(reason)
		return taxonomy.UnknownTag, 0, true
	}

	m := cat.matcher.Match(vec)
	if !m.Found {
		return taxonomy.UnknownTag, m.Score, false
	}
	return m.Tag, m.Score, false
}

func (e *Engine) persist(ctx context.Context, res ChatResult, utterance string, logger *slog.Logger) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.PersistTimeout)
	defer cancel()

	id, err := e.store.Save(ctx, store.Record{
		SessionID:   res.SessionID,
		UserMessage: utterance,
		BotResponse: res.Response,
		Intent:      res.Intent,
		Confidence:  res.Confidence,
		Emotion:     string(res.Emotion),
		Language:    res.Language,
		Timestamp:   e.now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to persist conversation", slog.String("error", err.Error()))
		e.metrics.PersistFailure("save")
		return ""
	}
	return id
}

// Rate records a 1 to 5 rating for a persisted conversation.
func (e *Engine) Rate(ctx context.Context, conversationID string, rating int) error {
	ctx, span := tracer.Start(ctx, "dialogue.Engine.Rate")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.config.PersistTimeout)
	defer cancel()
	if err := e.store.UpdateRating(ctx, conversationID, rating); err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrInvalidRating) {
			e.metrics.PersistFailure("rate")
			span.RecordError(err)
			span.SetStatus(codes.Error, "rating failed")
		}
		return fmt.Errorf("rate conversation: %w", err)
	}
	return nil
}

// Stats returns aggregate conversation statistics.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	st, err := e.store.Stats(ctx)
	if err != nil {
		return store.Stats{}, fmt.Errorf("conversation stats: %w", err)
	}
	return st, nil
}

// History returns the session's recent turns, oldest first.
func (e *Engine) History(ctx context.Context, sessionID string) ([]history.Turn, error) {
	return e.history.Get(ctx, sessionID)
}

// ResetSession forgets the session's turns.
func (e *Engine) ResetSession(ctx context.Context, sessionID string) error {
	unlock := e.locker.Lock(sessionID)
	defer unlock()
	return e.history.Delete(ctx, sessionID)
}

// Reload builds a catalog from tax and swaps it in.
//
// # Description
//
// On any error the serving catalog is left untouched.
func (e *Engine) Reload(ctx context.Context, tax *taxonomy.Taxonomy) error {
	ctx, span := tracer.Start(ctx, "dialogue.Engine.Reload")
	defer span.End()

	if tax == nil {
		return errors.New("taxonomy is required")
	}

	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	cat, err := e.buildCatalog(ctx, tax)
	if err != nil {
		e.metrics.CatalogReload(false, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload failed")
		return fmt.Errorf("reload catalog: %w", err)
	}
	e.catalog.Store(cat)
	e.metrics.CatalogReload(true, cat.index.Len())
	e.logger.Info("dialogue catalog reloaded",
		slog.Int("intents", len(tax.Intents)),
		slog.Int("patterns", cat.index.Len()))
	return nil
}

// Catalog describes the serving catalog.
func (e *Engine) Catalog() CatalogInfo {
	return e.catalog.Load().info()
}

// Languages returns the supported language codes, default first.
func (e *Engine) Languages() []string {
	out := []string{e.config.DefaultLanguage}
	for _, l := range e.config.Languages {
		if l != e.config.DefaultLanguage {
			out = append(out, l)
		}
	}
	return out
}

// DefaultLanguage returns the fallback language.
func (e *Engine) DefaultLanguage() string { return e.config.DefaultLanguage }

// NormalizeLanguage maps language to a supported code, or the default.
func (e *Engine) NormalizeLanguage(language string) string {
	lang := taxonomy.NormalizeLanguage(language)
	if slices.Contains(e.config.Languages, lang) {
		return lang
	}
	return e.config.DefaultLanguage
}

func appendBounded(turns []history.Turn, turn history.Turn, capacity int) []history.Turn {
	out := append(slices.Clone(turns), turn)
	if capacity > 0 && len(out) > capacity {
		out = out[len(out)-capacity:]
	}
	return out
}
