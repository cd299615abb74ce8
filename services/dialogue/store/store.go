// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists processed conversations, their ratings and
// aggregate statistics.
//
// # Backends
//
//   - badger: embedded key-value store (dgraph-io/badger/v4)
//   - sqlite: single-file relational store (mattn/go-sqlite3)
//   - none: discards everything (NopStore)
//
// The dialogue engine treats every store error as non-fatal.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors.
var (
	// ErrNotFound is returned when a conversation id does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidRating is returned for ratings outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// topIntentsLimit is the number of intents reported by Stats.
const topIntentsLimit = 5

// unknownIntent is excluded from intent statistics.
const unknownIntent = "unknown"

// Record is one processed turn.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	BotResponse string    `json:"bot_response"`
	Intent      string    `json:"intent"`
	Confidence  float64   `json:"confidence"`
	Emotion     string    `json:"emotion"`
	Language    string    `json:"language"`
	Rating      int       `json:"rating,omitempty"` // 0 = not rated
	Timestamp   time.Time `json:"timestamp"`
}

// IntentCount is one row of Stats.TopIntents.
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}

// Stats aggregates all stored conversations.
type Stats struct {
	// TotalConversations counts every record, unknown intents included.
	TotalConversations int `json:"total_conversations"`

	// TopIntents lists the 5 most frequent intents, excluding "unknown",
	// by count descending then tag ascending.
	TopIntents []IntentCount `json:"top_intents"`

	// AvgConfidence is the mean confidence of records with a known intent,
	// rounded to 2 decimals.
	AvgConfidence float64 `json:"avg_confidence"`

	// RatedConversations counts records with a rating.
	RatedConversations int `json:"rated_conversations"`

	// AvgRating is the mean rating of rated records, rounded to 2 decimals.
	AvgRating float64 `json:"avg_rating"`
}

// ConversationStore is the persistence collaborator of the dialogue engine.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Save stores rec and returns its id. An empty rec.ID is assigned a
	// UUID; a zero Timestamp is set to now.
	Save(ctx context.Context, rec Record) (string, error)

	// UpdateRating sets the rating of a stored conversation. Returns
	// ErrNotFound for an unknown id and ErrInvalidRating outside 1..5.
	UpdateRating(ctx context.Context, id string, rating int) error

	// Get returns one record or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Stats aggregates all records.
	Stats(ctx context.Context) (Stats, error)

	// Close releases resources.
	Close() error
}

// =============================================================================
// Factory
// =============================================================================

// Backend names accepted by Open.
const (
	BackendNone   = "none"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// Config selects a backend.
type Config struct {
	// Backend is "none", "badger" or "sqlite". Default: "none".
	Backend string `yaml:"backend" json:"backend" validate:"omitempty,oneof=none badger sqlite"`

	// Path is the badger directory or the sqlite file.
	Path string `yaml:"path" json:"path"`

	// InMemory opens badger without touching disk.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// GCInterval runs badger value-log GC periodically. 0 disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`
}

// Open returns the configured store.
//
// # Outputs
//
//   - ConversationStore: Ready store. Callers must Close it.
//   - error: Unknown backend, missing path, or open failure.
func Open(cfg Config, logger *slog.Logger) (ConversationStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		return NopStore{}, nil
	case BackendBadger:
		bcfg := DefaultBadgerConfig()
		bcfg.Path = cfg.Path
		bcfg.InMemory = cfg.InMemory
		bcfg.Logger = logger
		if cfg.GCInterval > 0 {
			bcfg.GCInterval = cfg.GCInterval
		}
		if cfg.InMemory {
			bcfg.GCInterval = 0
		}
		return OpenBadgerStore(bcfg)
	case BackendSQLite:
		return OpenSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (use none, badger or sqlite)", cfg.Backend)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func prepareRecord(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return rec
}

func validateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("%w: got %d", ErrInvalidRating, rating)
	}
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// statsAccumulator builds Stats from a stream of records.
type statsAccumulator struct {
	total        int
	counts       map[string]int
	confSum      float64
	confN        int
	ratingSum    int
	ratedRecords int
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{counts: make(map[string]int)}
}

func (a *statsAccumulator) add(rec Record) {
	a.total++
	if rec.Intent != unknownIntent {
		a.counts[rec.Intent]++
		a.confSum += rec.Confidence
		a.confN++
	}
	if rec.Rating > 0 {
		a.ratingSum += rec.Rating
		a.ratedRecords++
	}
}

func (a *statsAccumulator) result() Stats {
	top := make([]IntentCount, 0, len(a.counts))
	for intent, n := range a.counts {
		top = append(top, IntentCount{Intent: intent, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Intent < top[j].Intent
	})
	if len(top) > topIntentsLimit {
		top = top[:topIntentsLimit]
	}

	s := Stats{
		TotalConversations: a.total,
		TopIntents:         top,
		RatedConversations: a.ratedRecords,
	}
	if a.confN > 0 {
		s.AvgConfidence = round2(a.confSum / float64(a.confN))
	}
	if a.ratedRecords > 0 {
		s.AvgRating = round2(float64(a.ratingSum) / float64(a.ratedRecords))
	}
	return s
}

// =============================================================================
// NopStore
// =============================================================================

// NopStore discards records. Save returns an empty id.
type NopStore struct{}

// Save discards rec.
func (NopStore) Save(ctx context.Context, rec Record) (string, error) { return "", nil }

// UpdateRating always reports ErrNotFound, since nothing is stored.
func (NopStore) UpdateRating(ctx context.Context, id string, rating int) error {
	if err := validateRating(rating); err != nil {
		return err
	}
	return ErrNotFound
}

// Get always reports ErrNotFound.
func (NopStore) Get(ctx context.Context, id string) (Record, error) { return Record{}, ErrNotFound }

// Stats returns empty statistics.
func (NopStore) Stats(ctx context.Context) (Stats, error) {
	return Stats{TopIntents: []IntentCount{}}, nil
}

// Close is a no-op.
func (NopStore) Close() error { return nil }

var _ ConversationStore = NopStore{}
