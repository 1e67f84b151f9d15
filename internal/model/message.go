// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderBot, SenderSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderBot:
		return "Assistant"
	case SenderSystem:
		return "System"
	default:
		return string(s)
	}
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// AttachmentKind classifies an attachment for request building and limits.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
	KindFile  AttachmentKind = "file"
)

var (
	imageExtensions = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true,
	}
	videoExtensions = map[string]bool{
		".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true,
	}
)

// KindForName classifies a file by its extension.
func KindForName(name string) AttachmentKind {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExtensions[ext]:
		return KindImage
	case videoExtensions[ext]:
		return KindVideo
	default:
		return KindFile
	}
}

// Attachment references a file that has been uploaded to the backend.
type Attachment struct {
	LocalRef    string         `json:"local_ref,omitempty"`
	RemotePath  string         `json:"remote_path"`
	RemoteID    string         `json:"remote_id,omitempty"`
	DisplayName string         `json:"display_name"`
	Kind        AttachmentKind `json:"kind"`
}

// =============================================================================
// METADATA
// =============================================================================

// Metadata carries model and usage information for a bot message.
type Metadata struct {
	ModelName        string `json:"model_name,omitempty"`
	InputCharCount   int    `json:"input_char_count"`
	InputTokenCount  int    `json:"input_token_count"`
	OutputCharCount  int    `json:"output_char_count"`
	OutputTokenCount int    `json:"output_token_count"`
}

// Summary formats the metadata for a status line.
func (m *Metadata) Summary() string {
	if m == nil {
		return ""
	}
	var parts []string
	if m.ModelName != "" {
		parts = append(parts, m.ModelName)
	}
	if m.InputTokenCount > 0 || m.OutputTokenCount > 0 {
		parts = append(parts, fmt.Sprintf("%d in / %d out tokens", m.InputTokenCount, m.OutputTokenCount))
	}
	if m.OutputCharCount > 0 {
		parts = append(parts, fmt.Sprintf("%d chars", m.OutputCharCount))
	}
	return strings.Join(parts, " | ")
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID          string       `json:"id"`
	Sender      Sender       `json:"sender"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`

	// Bot messages only. Nil until the first metadata event.
	Metadata *Metadata `json:"metadata,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(sender Sender, content string) Message {
	return Message{
		ID:        NewMessageID(),
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user message carrying the given attachments.
func NewUserMessage(content string, attachments []Attachment) Message {
	msg := NewMessage(SenderUser, content)
	if len(attachments) > 0 {
		msg.Attachments = append([]Attachment(nil), attachments...)
	}
	return msg
}

// NewBotMessage creates a bot message.
func NewBotMessage(content string) Message {
	return NewMessage(SenderBot, content)
}

// NewMessageID returns a session-unique message identifier.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// IsUser returns true if this is a user message.
func (m *Message) IsUser() bool {
	return m.Sender == SenderUser
}

// IsBot returns true if this is a bot message.
func (m *Message) IsBot() bool {
	return m.Sender == SenderBot
}

// IsBlank reports whether the message has no visible text.
func (m *Message) IsBlank() bool {
	return strings.TrimSpace(m.Content) == ""
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	out := m
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Metadata != nil {
		md := *m.Metadata
		out.Metadata = &md
	}
	return out
}

// CloneMessages deep-copies a message list.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i := range msgs {
		out[i] = msgs[i].Clone()
	}
	return out
}
