// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"sync"
	"time"
)

// session is one history, guarded by its own mutex.
type session struct {
	mu         sync.Mutex
	turns      []Turn
	lastActive time.Time
}

// MemoryStore is a process-local Store.
//
// # Description
//
// The session map is guarded by an RWMutex; each session carries its own
// mutex, so appends on different sessions never contend on the same lock
// beyond the brief map lookup.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryStore struct {
	capacity int
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewMemoryStore returns a MemoryStore keeping capacity turns per session.
// capacity < 1 falls back to DefaultCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Append adds turn, evicting the oldest turn when the session is full.
func (m *MemoryStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		s := m.getOrCreate(sessionID)

		// Holding the read lock keeps EvictIdle from removing s mid-append.
		m.mu.RLock()
		if m.sessions[sessionID] != s {
			m.mu.RUnlock()
			continue
		}
		s.mu.Lock()
		if len(s.turns) >= m.capacity {
			drop := len(s.turns) - m.capacity + 1
			s.turns = append(s.turns[:0:0], s.turns[drop:]...)
		}
		s.turns = append(s.turns, turn)
		s.lastActive = m.now()
		s.mu.Unlock()
		m.mu.RUnlock()
		return nil
	}
}

// Get returns a copy of the session's turns, oldest first.
func (m *MemoryStore) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return []Turn{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// Delete forgets the session.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return nil
}

// Capacity returns the per-session bound.
func (m *MemoryStore) Capacity() int { return m.capacity }

// Len returns the number of sessions held.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle removes sessions whose last append is older than cutoff and
// returns how many were removed.
func (m *MemoryStore) EvictIdle(cutoff time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) getOrCreate(sessionID string) *session {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok = m.sessions[sessionID]; ok {
		return s
	}
	s = &session{lastActive: m.now()}
	m.sessions[sessionID] = s
	return s
}

var _ Store = (*MemoryStore)(nil)
