// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// conversationPrefix namespaces conversation keys.
const conversationPrefix = "conv:"

// =============================================================================
// Configuration
// =============================================================================

// BadgerConfig configures the embedded database.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Data is lost on Close.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. nil disables them.
	Logger *slog.Logger

	// GCInterval runs value-log GC periodically. 0 disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the value-log rewrite threshold.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns durable defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func openBadger(cfg BadgerConfig) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// =============================================================================
// Value Log GC
// =============================================================================

// gcRunner periodically reclaims value-log space.
type gcRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

func newGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*gcRunner, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &gcRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

func (r *gcRunner) start() { go r.run() }

func (r *gcRunner) stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *gcRunner) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.db.RunValueLogGC(r.ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore keeps each Record as JSON under "conv:<id>".
//
// # Description
//
// Save and UpdateRating run in read-write transactions; UpdateRating's
// read-modify-write is retried on badger.ErrConflict. Stats iterates the
// key prefix once.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db *badger.DB
	gc *gcRunner
}

// OpenBadgerStore opens the database and starts GC when configured.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Save stores rec.
func (s *BadgerStore) Save(ctx context.Context, rec Record) (string, error) {
	rec = prepareRecord(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}
	err = s.withTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(key(rec.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	return rec.ID, nil
}

// UpdateRating sets the rating of conversation id.
func (s *BadgerStore) UpdateRating(ctx context.Context, id string, rating int) error {
	if err := validateRating(rating); err != nil {
		return err
	}
	for attempt := 0; attempt < 3; attempt++ {
		err := s.withTxn(ctx, func(txn *badger.Txn) error {
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			rec.Rating = rating
			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode conversation: %w", err)
			}
			return txn.Set(key(id), data)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("update rating for %s: %w", id, badger.ErrConflict)
}

// Get returns one record.
func (s *BadgerStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	return rec, err
}

// Stats aggregates every record.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	acc := newStatsAccumulator()
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(conversationPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var rec Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode conversation %s: %w", it.Item().Key(), err)
				}
				acc.add(rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("compute stats: %w", err)
	}
	return acc.result(), nil
}

// Close stops GC and closes the database.
func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func (s *BadgerStore) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *BadgerStore) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

func getRecord(txn *badger.Txn, id string) (Record, error) {
	item, err := txn.Get(key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read conversation %s: %w", id, err)
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return Record{}, fmt.Errorf("decode conversation %s: %w", id, err)
	}
	return rec, nil
}

func key(id string) []byte { return []byte(conversationPrefix + id) }

var _ ConversationStore = (*BadgerStore)(nil)
