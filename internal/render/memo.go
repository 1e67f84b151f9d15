// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"sync"

	"github.com/jeranaias/rigchat/internal/model"
)

// Source is a versioned message list, such as storage.ConversationStore.
type Source interface {
	Version() uint64
	Snapshot() ([]model.Message, bool, uint64)
}

// Memo caches ComputeVisible keyed by source version. The source bumps its
// version on every mutation, including loading changes, so an unchanged
// version means an unchanged result.
type Memo struct {
	mu      sync.Mutex
	valid   bool
	version uint64
	loading bool
	result  []model.Message
}

// Visible returns the visible list for src and whether a turn is loading.
func (m *Memo) Visible(src Source) ([]model.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid && src.Version() == m.version {
		return m.result, m.loading
	}

	msgs, loading, version := src.Snapshot()
	m.result = ComputeVisible(msgs, loading)
	m.loading = loading
	m.version = version
	m.valid = true
	return m.result, m.loading
}

// Invalidate drops the cached result.
func (m *Memo) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.result = nil
	m.mu.Unlock()
}
