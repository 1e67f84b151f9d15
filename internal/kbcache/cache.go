// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kbcache caches knowledge-base listings so the selector does not
// hit the backend on every open.
//
// The knowledge-base list is cached under one key; each knowledge base's
// file list is cached under its own key. Entries expire after DefaultTTL.
package kbcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/storage"
)

// DefaultTTL is how long a cached listing stays fresh.
const DefaultTTL = 24 * time.Hour

// ErrMiss is returned by a Backend when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Fetcher loads listings from the backend. *pipeline.Client satisfies it.
type Fetcher interface {
	ListKnowledgeBases(ctx context.Context) ([]model.KnowledgeBase, error)
	ListFiles(ctx context.Context, kbID string) ([]model.KnowledgeBaseFile, error)
}

// Backend stores JSON-encodable values with an expiry.
type Backend interface {
	Get(ctx context.Context, key string, v any) error
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// =============================================================================
// CACHE
// =============================================================================

// Cache is a read-through cache in front of a Fetcher.
type Cache struct {
	backend Backend
	fetch   Fetcher
	ttl     time.Duration
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a cache over backend that fills misses from fetch.
func New(backend Backend, fetch Fetcher, opts ...Option) *Cache {
	c := &Cache{
		backend: backend,
		fetch:   fetch,
		ttl:     DefaultTTL,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KnowledgeBases returns the knowledge-base list, from cache when fresh.
func (c *Cache) KnowledgeBases(ctx context.Context) ([]model.KnowledgeBase, error) {
	return readThrough(ctx, c, storage.KeyKnowledgeBases, c.fetch.ListKnowledgeBases)
}

// Files returns the file list of one knowledge base, from cache when fresh.
func (c *Cache) Files(ctx context.Context, kbID string) ([]model.KnowledgeBaseFile, error) {
	if kbID == "" {
		return nil, model.NewValidationError("knowledge_base", "id is required")
	}
	return readThrough(ctx, c, filesKey(kbID), func(ctx context.Context) ([]model.KnowledgeBaseFile, error) {
		return c.fetch.ListFiles(ctx, kbID)
	})
}

// Invalidate drops the cached list and, when kbID is set, that knowledge
// base's file list.
func (c *Cache) Invalidate(ctx context.Context, kbID string) error {
	keys := []string{storage.KeyKnowledgeBases}
	if kbID != "" {
		keys = append(keys, filesKey(kbID))
	}
	return c.backend.Delete(ctx, keys...)
}

func readThrough[T any](ctx context.Context, c *Cache, key string, load func(context.Context) ([]T, error)) ([]T, error) {
	var cached []T
	err := c.backend.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrMiss) {
		c.logger.Warn("knowledge base cache read failed", "key", key, "error", err)
	}

	fresh, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key, err)
	}
	if fresh == nil {
		fresh = []T{}
	}
	if err := c.backend.Set(ctx, key, fresh, c.ttl); err != nil {
		c.logger.Warn("knowledge base cache write failed", "key", key, "error", err)
	}
	return fresh, nil
}

func filesKey(kbID string) string {
	return storage.KeyKBFilesPrefix + kbID
}
