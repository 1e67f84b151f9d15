// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kbcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/rigchat/internal/storage"
)

// =============================================================================
// STORE BACKEND
// =============================================================================

// entry is the time-stamped form written through a Persister.
type entry struct {
	CachedAt time.Time       `json:"cached_at"`
	TTL      time.Duration   `json:"ttl"`
	Value    json.RawMessage `json:"value"`
}

// StoreBackend keeps entries in the same Persister as the conversation
// store. Expiry is checked on read.
type StoreBackend struct {
	p   storage.Persister
	now func() time.Time
}

// NewStoreBackend wraps p.
func NewStoreBackend(p storage.Persister) *StoreBackend {
	return &StoreBackend{p: p, now: time.Now}
}

// Get implements Backend.
func (b *StoreBackend) Get(ctx context.Context, key string, v any) error {
	var e entry
	if err := b.p.Load(ctx, key, &e); err != nil {
		if errors.Is(err, storage.ErrNoData) {
			return ErrMiss
		}
		return err
	}
	if e.TTL > 0 && b.now().Sub(e.CachedAt) >= e.TTL {
		return ErrMiss
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// Set implements Backend.
func (b *StoreBackend) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	return b.p.Save(ctx, key, entry{CachedAt: b.now(), TTL: ttl, Value: data})
}

// Delete implements Backend.
func (b *StoreBackend) Delete(ctx context.Context, keys ...string) error {
	var errs []error
	for _, k := range keys {
		if err := b.p.Delete(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// REDIS BACKEND
// =============================================================================

// DefaultRedisPrefix namespaces rigchat keys in a shared Redis.
const DefaultRedisPrefix = "rigchat:"

// RedisBackend stores entries in Redis with native expiry.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string, v any) error {
	data, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode cached %s: %w", key, err)
	}
	if err := b.client.Set(ctx, b.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.key(k)
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
