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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Idle Session Sweeper
// =============================================================================

// SweeperConfig holds configuration for the idle session sweeper.
//
// # Fields
//
//   - IdleTTL: Sessions idle longer than this are evicted. 0 disables sweeping.
//   - Interval: How often to sweep. Default: IdleTTL / 2, at least 1s.
//   - Now: Clock used to compute the cutoff. Default: time.Now.
type SweeperConfig struct {
	IdleTTL  time.Duration
	Interval time.Duration
	Now      func() time.Time
}

// Sweeper periodically evicts idle sessions from a MemoryStore.
//
// # Description
//
// Uses the ticker + done channel pattern. Stop waits for the loop to exit,
// so no goroutine outlives it.
//
// # Thread Safety
//
// All public methods are thread-safe.
type Sweeper struct {
	store  *MemoryStore
	config SweeperConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper for store. logger may be nil.
func NewSweeper(store *MemoryStore, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = max(config.IdleTTL/2, time.Second)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, config: config, logger: logger}
}

// Enabled reports whether IdleTTL is positive.
func (s *Sweeper) Enabled() bool { return s.config.IdleTTL > 0 }

// Start begins sweeping in the background. It is a no-op when the sweeper
// is disabled, and an error when already running.
func (s *Sweeper) Start(ctx context.Context) error {
	if !s.Enabled() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.done = make(chan struct{})

	s.logger.Info("History sweeper starting",
		"idle_ttl", s.config.IdleTTL.String(),
		"interval", s.config.Interval.String(),
	)
	s.wg.Add(1)
	go s.runLoop(ctx, s.done)
	return nil
}

// Stop signals the loop to exit and waits for it. Safe to call repeatedly.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("History sweeper stopped")
}

// RunNow evicts idle sessions immediately and returns how many were removed.
func (s *Sweeper) RunNow() int {
	if !s.Enabled() {
		return 0
	}
	removed := s.store.EvictIdle(s.config.Now().Add(-s.config.IdleTTL))
	if removed > 0 {
		s.logger.Info("Evicted idle sessions", "removed", removed, "remaining", s.store.Len())
	} else {
		s.logger.Debug("History sweep completed (no idle sessions)")
	}
	return removed
}

func (s *Sweeper) runLoop(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.RunNow()
		}
	}
}
