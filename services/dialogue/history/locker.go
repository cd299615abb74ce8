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

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// SessionLocker hands out one mutex per session id.
//
// # Description
//
// Lock blocks until the caller holds the session's mutex and returns the
// matching unlock function. Entries are reference counted and dropped when
// the last holder or waiter releases, so idle sessions cost nothing.
//
// # Example
//
//	unlock := locker.Lock(sessionID)
//	defer unlock()
type SessionLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewSessionLocker returns an empty locker.
func NewSessionLocker() *SessionLocker {
	return &SessionLocker{locks: make(map[string]*lockEntry)}
}

// Lock acquires the session's mutex and returns its release function.
// The release function must be called exactly once.
func (l *SessionLocker) Lock(sessionID string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[sessionID]
	if !ok {
		e = &lockEntry{}
		l.locks[sessionID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(l.locks, sessionID)
			}
			l.mu.Unlock()
		})
	}
}

// Active returns the number of sessions currently locked or awaited.
func (l *SessionLocker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
