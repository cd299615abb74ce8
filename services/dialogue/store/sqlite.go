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
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL DEFAULT '',
	user_message TEXT NOT NULL,
	bot_response TEXT NOT NULL,
	intent       TEXT,
	confidence   REAL,
	emotion      TEXT,
	language     TEXT,
	rating       INTEGER,
	timestamp    DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversations_intent ON conversations(intent);
`

// SQLiteStore keeps conversations in a single "conversations" table.
//
// # Thread Safety
//
// Safe for concurrent use. The pool is limited to one connection so writes
// never contend for the database lock.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database file at path and applies
// the schema. ":memory:" opens a private in-memory database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts rec.
func (s *SQLiteStore) Save(ctx context.Context, rec Record) (string, error) {
	rec = prepareRecord(rec)
	var rating sql.NullInt64
	if rec.Rating > 0 {
		rating = sql.NullInt64{Int64: int64(rec.Rating), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations
			(id, session_id, user_message, bot_response, intent, confidence, emotion, language, rating, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.UserMessage, rec.BotResponse, rec.Intent,
		rec.Confidence, rec.Emotion, rec.Language, rating, rec.Timestamp)
	if err != nil {
		return "", fmt.Errorf("save conversation: %w", err)
	}
	return rec.ID, nil
}

// UpdateRating sets the rating of conversation id.
func (s *SQLiteStore) UpdateRating(ctx context.Context, id string, rating int) error {
	if err := validateRating(rating); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET rating = ? WHERE id = ?`, rating, id)
	if err != nil {
		return fmt.Errorf("update rating for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rating for %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Get returns one record.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		rec               Record
		intent, emo, lang sql.NullString
		confidence        sql.NullFloat64
		rating            sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, user_message, bot_response, intent, confidence, emotion, language, rating, timestamp
		FROM conversations WHERE id = ?`, id).
		Scan(&rec.ID, &rec.SessionID, &rec.UserMessage, &rec.BotResponse,
			&intent, &confidence, &emo, &lang, &rating, &rec.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("read conversation %s: %w", id, err)
	}
	rec.Intent = intent.String
	rec.Confidence = confidence.Float64
	rec.Emotion = emo.String
	rec.Language = lang.String
	rec.Rating = int(rating.Int64)
	return rec, nil
}

// Stats aggregates the table with SQL.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{TopIntents: []IntentCount{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).
		Scan(&st.TotalConversations); err != nil {
		return Stats{}, fmt.Errorf("count conversations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT intent, COUNT(*) AS n FROM conversations
		WHERE intent IS NOT NULL AND intent != ?
		GROUP BY intent
		ORDER BY n DESC, intent ASC
		LIMIT ?`, unknownIntent, topIntentsLimit)
	if err != nil {
		return Stats{}, fmt.Errorf("query top intents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ic IntentCount
		if err := rows.Scan(&ic.Intent, &ic.Count); err != nil {
			return Stats{}, fmt.Errorf("scan top intents: %w", err)
		}
		st.TopIntents = append(st.TopIntents, ic)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate top intents: %w", err)
	}

	var avgConf sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(confidence) FROM conversations WHERE intent IS NOT NULL AND intent != ?`, unknownIntent).
		Scan(&avgConf); err != nil {
		return Stats{}, fmt.Errorf("average confidence: %w", err)
	}
	st.AvgConfidence = round2(avgConf.Float64)

	var avgRating sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(rating) FROM conversations WHERE rating IS NOT NULL`).
		Scan(&st.RatedConversations, &avgRating); err != nil {
		return Stats{}, fmt.Errorf("average rating: %w", err)
	}
	st.AvgRating = round2(avgRating.Float64)

	return st, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ ConversationStore = (*SQLiteStore)(nil)
