// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history keeps the recent turns of each dialogue session.
//
// # Description
//
// Every session holds at most Capacity turns, oldest first. Appending to a
// full session evicts the oldest turn. Sessions are created lazily on first
// append; an unknown session id reads as an empty history.
//
// Two backends are provided: MemoryStore (process-local) and RedisStore
// (shared between replicas). SessionLocker serializes whole dialogue turns
// for one session; Sweeper evicts idle sessions from a MemoryStore.
package history

import (
	"context"
	"time"
)

// DefaultCapacity is the number of turns kept per session.
const DefaultCapacity = 5

// Turn is one processed user utterance.
type Turn struct {
	// Utterance is the raw user text, before context rewriting.
	Utterance string `json:"utterance"`

	// Intent is the resolved intent tag.
	Intent string `json:"intent"`

	// Timestamp is when the turn was processed.
	Timestamp time.Time `json:"timestamp"`
}

// Store is a bounded per-session turn history.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use across sessions and within
// one session.
type Store interface {
	// Append adds turn to the session, evicting the oldest turn when full.
	Append(ctx context.Context, sessionID string, turn Turn) error

	// Get returns a snapshot of the session's turns, oldest first. The slice
	// is a copy owned by the caller. Unknown sessions return an empty slice.
	Get(ctx context.Context, sessionID string) ([]Turn, error)

	// Delete forgets the session.
	Delete(ctx context.Context, sessionID string) error

	// Capacity returns the per-session bound.
	Capacity() int
}

// Last returns the most recent turn of turns, if any.
func Last(turns []Turn) (Turn, bool) {
	if len(turns) == 0 {
		return Turn{}, false
	}
	return turns[len(turns)-1], true
}
