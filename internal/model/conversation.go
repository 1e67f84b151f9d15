// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is a named snapshot of a message list.
type Conversation struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
	SavedAt  time.Time `json:"saved_at"`
}

// NewConversation snapshots msgs under name. The messages are deep-copied.
func NewConversation(name string, msgs []Message) Conversation {
	return Conversation{
		ID:       NewConversationID(),
		Name:     name,
		Messages: CloneMessages(msgs),
		SavedAt:  time.Now(),
	}
}

// NewConversationID returns a new conversation identifier.
func NewConversationID() string {
	return "conv_" + uuid.NewString()
}

// Clone returns a deep copy of the conversation.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = CloneMessages(c.Messages)
	return out
}

// Preview returns the first user message content, for listings.
func (c *Conversation) Preview() string {
	for _, m := range c.Messages {
		if m.IsUser() && !m.IsBlank() {
			return m.Content
		}
	}
	return ""
}

// =============================================================================
// PIPELINE SELECTION
// =============================================================================

// PipelineSelection holds the controls chosen for the next send.
type PipelineSelection struct {
	PipelineID       string   `json:"pipeline_id"`
	KnowledgeBaseID  string   `json:"knowledge_base_id,omitempty"`
	SelectedFileIDs  []string `json:"selected_file_ids,omitempty"`
	WebSearchEnabled bool     `json:"web_search_enabled"`
	MemoryEnabled    bool     `json:"memory_enabled"`
	PerformanceLevel string   `json:"performance_level,omitempty"`
}
