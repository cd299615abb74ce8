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
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	// Addr is host:port of the Redis server.
	Addr string `yaml:"addr" json:"addr"`

	// Password is optional.
	Password string `yaml:"password" json:"-"`

	// DB selects the logical database.
	DB int `yaml:"db" json:"db"`

	// KeyPrefix namespaces session keys. Default: "intentchat:history:".
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// SessionTTL expires idle sessions. 0 keeps them forever.
	SessionTTL time.Duration `yaml:"session_ttl" json:"session_ttl"`

	// DialTimeout bounds the initial connection. Default: 5s.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// RedisStore keeps each session as a Redis list of JSON-encoded turns.
//
// # Description
//
// Append runs RPUSH, LTRIM to the last Capacity entries and, when SessionTTL
// is set, EXPIRE in one MULTI/EXEC transaction, so the list never exceeds
// its bound even with several replicas writing.
//
// # Thread Safety
//
// Safe for concurrent use; the go-redis client is goroutine-safe.
type RedisStore struct {
	client   *redis.Client
	capacity int
	prefix   string
	ttl      time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with PING.
//
// # Inputs
//
//   - ctx: Bounds the PING.
//   - cfg: Connection settings.
//   - capacity: Turns kept per session. < 1 falls back to DefaultCapacity.
//
// # Outputs
//
//   - *RedisStore: Connected store. Call Close when done.
//   - error: Non-nil if Addr is empty or Redis is unreachable.
func NewRedisStore(ctx context.Context, cfg RedisConfig, capacity int) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	slog.Info("Connected to Redis history store", "addr", cfg.Addr, "db", cfg.DB)
	return NewRedisStoreFromClient(client, cfg.KeyPrefix, cfg.SessionTTL, capacity), nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it.
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration, capacity int) *RedisStore {
	if prefix == "" {
		prefix = "intentchat:history:"
	}
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &RedisStore{client: client, capacity: capacity, prefix: prefix, ttl: ttl}
}

// Append pushes turn and trims the list to the last Capacity entries.
func (r *RedisStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	key := r.key(sessionID)

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -int64(r.capacity), -1)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append turn for session %s: %w", sessionID, err)
	}
	return nil
}

// Get returns the session's turns, oldest first.
func (r *RedisStore) Get(ctx context.Context, sessionID string) ([]Turn, error) {
	raw, err := r.client.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for session %s: %w", sessionID, err)
	}
	turns := make([]Turn, 0, len(raw))
	for _, item := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode turn for session %s: %w", sessionID, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Delete removes the session's list.
func (r *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete history for session %s: %w", sessionID, err)
	}
	return nil
}

// Capacity returns the per-session bound.
func (r *RedisStore) Capacity() int { return r.capacity }

// Close closes the Redis client.
func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(sessionID string) string { return r.prefix + sessionID }

var _ Store = (*RedisStore)(nil)
