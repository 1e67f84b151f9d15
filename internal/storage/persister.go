// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Persisted keys.
const (
	KeyMessages           = "messages"
	KeySystemPrompt       = "system_prompt"
	KeyPerformanceLevel   = "performance_level"
	KeyPendingAttachments = "pending_attachments"
	KeyConversations      = "conversations"
	KeyKnowledgeBases     = "kb_list"
	KeyKBFilesPrefix      = "kb_files:"
)

// ErrNoData is returned by Persister.Load when nothing is stored under a key.
var ErrNoData = errors.New("no persisted data")

// Persister is the adapter the store writes through. Values are JSON-encoded.
type Persister interface {
	Load(ctx context.Context, key string, v any) error
	Save(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// decodeValue unmarshals data into v, tagging failures with key.
func decodeValue(key string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// =============================================================================
// MEMORY PERSISTER
// =============================================================================

// MemoryPersister keeps values in process memory. Used by tests and by
// sessions started with persistence disabled.
type MemoryPersister struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryPersister creates an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{data: make(map[string][]byte)}
}

// Load implements Persister.
func (m *MemoryPersister) Load(_ context.Context, key string, v any) error {
	m.mu.Lock()
	data, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return ErrNoData
	}
	return decodeValue(key, data, v)
}

// Save implements Persister.
func (m *MemoryPersister) Save(_ context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = data
	m.mu.Unlock()
	return nil
}

// Delete implements Persister.
func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Close implements Persister.
func (m *MemoryPersister) Close() error {
	return nil
}

// PutRaw stores bytes without encoding them, for simulating corrupt state.
func (m *MemoryPersister) PutRaw(key string, data []byte) {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), data...)
	m.mu.Unlock()
}

// Raw returns the stored bytes for key.
func (m *MemoryPersister) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	return data, ok
}
