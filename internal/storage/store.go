// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/rigchat/internal/model"
)

// DefaultMaxConversations caps the saved-conversation list.
const DefaultMaxConversations = 100

// persistTimeout bounds a single write-through.
const persistTimeout = 5 * time.Second

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// ConversationStore is the single owner of the active conversation. Every
// mutation is mirrored to the Persister, except per-delta appends inside a
// streaming turn, which are flushed when the turn ends.
//
// It is safe for concurrent use.
type ConversationStore struct {
	mu        sync.RWMutex
	persister Persister
	logger    *slog.Logger
	onChange  atomic.Pointer[func(version uint64)]

	messages         []*model.Message
	systemPrompt     string
	performanceLevel string
	pending          []model.Attachment
	conversations    []model.Conversation
	maxConversations int

	// turns maps an in-flight turn id to the bot message it owns ("" until
	// the first delta arrives).
	turns   map[string]string
	version uint64
}

// StoreOption configures a ConversationStore.
type StoreOption func(*ConversationStore)

// WithStoreLogger sets the logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *ConversationStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithChangeHook registers fn to run after every mutation, outside the lock.
func WithChangeHook(fn func(version uint64)) StoreOption {
	return func(s *ConversationStore) {
		s.SetChangeHook(fn)
	}
}

// WithMaxConversations overrides DefaultMaxConversations (0 = unlimited).
func WithMaxConversations(n int) StoreOption {
	return func(s *ConversationStore) {
		s.maxConversations = n
	}
}

// NewConversationStore creates an empty store writing through p.
func NewConversationStore(p Persister, opts ...StoreOption) *ConversationStore {
	s := &ConversationStore{
		persister:        p,
		logger:           slog.Default(),
		maxConversations: DefaultMaxConversations,
		turns:            make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// REHYDRATION
// =============================================================================

// Rehydrate reads every persisted key. Missing keys leave defaults in place;
// corrupt ones are logged and replaced with empty state.
func (s *ConversationStore) Rehydrate(ctx context.Context) {
	for _, key := range []string{
		KeyMessages, KeySystemPrompt, KeyPerformanceLevel, KeyPendingAttachments, KeyConversations,
	} {
		s.Reload(ctx, key)
	}
}

// Reload re-reads one key from the persister. Last write wins: the loaded
// value replaces whatever is held in memory.
func (s *ConversationStore) Reload(ctx context.Context, key string) {
	var err error
	s.mu.Lock()
	switch key {
	case KeyMessages:
		var msgs []model.Message
		if err = s.persister.Load(ctx, key, &msgs); err == nil {
			err = validateMessages(msgs)
		}
		if err == nil {
			s.messages = toPointers(msgs)
		} else if !errors.Is(err, ErrNoData) {
			s.messages = nil
		}
	case KeySystemPrompt:
		var v string
		if err = s.persister.Load(ctx, key, &v); err == nil || !errors.Is(err, ErrNoData) {
			s.systemPrompt = v
		}
	case KeyPerformanceLevel:
		var v string
		if err = s.persister.Load(ctx, key, &v); err == nil || !errors.Is(err, ErrNoData) {
			s.performanceLevel = v
		}
	case KeyPendingAttachments:
		var v []model.Attachment
		if err = s.persister.Load(ctx, key, &v); err == nil {
			s.pending = v
		} else if !errors.Is(err, ErrNoData) {
			s.pending = nil
		}
	case KeyConversations:
		var v []model.Conversation
		if err = s.persister.Load(ctx, key, &v); err == nil {
			for _, c := range v {
				if err = validateMessages(c.Messages); err != nil {
					break
				}
			}
		}
		if err == nil {
			s.conversations = v
		} else if !errors.Is(err, ErrNoData) {
			s.conversations = nil
		}
	default:
		s.mu.Unlock()
		return
	}
	if err != nil && !errors.Is(err, ErrNoData) {
		s.logger.Warn("discarding unreadable persisted state", "key", key, "error", err)
	}
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
}

func validateMessages(msgs []model.Message) error {
	for _, m := range msgs {
		if m.ID == "" || !m.Sender.Valid() {
			return model.NewValidationError("messages", "invalid message %q with sender %q", m.ID, m.Sender)
		}
	}
	return nil
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Messages returns a deep copy of the active message list.
func (s *ConversationStore) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Snapshot returns the messages, the loading flag and the version read
// under one lock.
func (s *ConversationStore) Snapshot() ([]model.Message, bool, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out, len(s.turns) > 0, s.version
}

// Len returns the number of active messages.
func (s *ConversationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Version increments on every mutation.
func (s *ConversationStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Loading reports whether any turn is in flight.
func (s *ConversationStore) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns) > 0
}

// =============================================================================
// MESSAGE MUTATIONS
// =============================================================================

// AppendUserMessage appends a user message. Text and attachments may not
// both be empty.
func (s *ConversationStore) AppendUserMessage(text string, attachments []model.Attachment) (model.Message, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return model.Message{}, model.NewValidationError("message", "text or attachments required")
	}
	msg := model.NewUserMessage(text, attachments)

	s.mu.Lock()
	s.messages = append(s.messages, &msg)
	s.persistMessagesLocked()
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return msg.Clone(), nil
}

// BeginTurn registers a new in-flight turn and returns its id.
func (s *ConversationStore) BeginTurn() string {
	id := "turn_" + uuid.NewString()
	s.mu.Lock()
	s.turns[id] = ""
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
	return id
}

// EndTurn finishes a turn and flushes the message list.
func (s *ConversationStore) EndTurn(turnID string) {
	s.mu.Lock()
	if _, ok := s.turns[turnID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.turns, turnID)
	s.persistMessagesLocked()
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
}

// AppendBotMessage appends a new bot message owned by turnID.
func (s *ConversationStore) AppendBotMessage(turnID, text string) string {
	msg := model.NewBotMessage(text)

	s.mu.Lock()
	s.messages = append(s.messages, &msg)
	if _, ok := s.turns[turnID]; ok {
		s.turns[turnID] = msg.ID
	}
	s.persistMessagesLocked()
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return msg.ID
}

// AppendToMessage appends text to the message with id, in place.
func (s *ConversationStore) AppendToMessage(id, text string) error {
	s.mu.Lock()
	m := s.findLocked(id)
	if m == nil {
		s.mu.Unlock()
		return &model.NotFoundError{Kind: "message", ID: id}
	}
	m.Content += text
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// MergeMetadata applies fn to the metadata of message id, allocating it first
// if needed. Content is untouched.
func (s *ConversationStore) MergeMetadata(id string, fn func(*model.Metadata)) error {
	s.mu.Lock()
	m := s.findLocked(id)
	if m == nil {
		s.mu.Unlock()
		return &model.NotFoundError{Kind: "message", ID: id}
	}
	if m.Metadata == nil {
		m.Metadata = &model.Metadata{}
	}
	fn(m.Metadata)
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// AppendOrExtendBotMessage extends the trailing bot message if it belongs to
// an in-flight turn, and appends a new bot message otherwise. It returns the
// id of the message written.
func (s *ConversationStore) AppendOrExtendBotMessage(delta string) string {
	s.mu.Lock()
	if n := len(s.messages); n > 0 {
		last := s.messages[n-1]
		if last.IsBot() && s.ownedLocked(last.ID) {
			last.Content += delta
			v := s.bump()
			s.mu.Unlock()
			s.notify(v)
			return last.ID
		}
	}
	msg := model.NewBotMessage(delta)
	s.messages = append(s.messages, &msg)
	s.persistMessagesLocked()
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return msg.ID
}

// Clear empties the message list and pending attachments.
func (s *ConversationStore) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.pending = nil
	s.persistMessagesLocked()
	s.persistLocked(KeyPendingAttachments, []model.Attachment{})
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
}

// =============================================================================
// SAVED CONVERSATIONS
// =============================================================================

// SaveConversation snapshots the active messages under name.
func (s *ConversationStore) SaveConversation(name string) (model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Conversation{}, model.NewValidationError("name", "conversation name must not be blank")
	}

	s.mu.Lock()
	conv := model.NewConversation(name, derefMessages(s.messages))
	s.conversations = append([]model.Conversation{conv}, s.conversations...)
	if s.maxConversations > 0 && len(s.conversations) > s.maxConversations {
		s.conversations = s.conversations[:s.maxConversations]
	}
	s.persistLocked(KeyConversations, s.conversations)
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return conv.Clone(), nil
}

// LoadConversation replaces the active message list with a copy of the
// saved conversation id.
func (s *ConversationStore) LoadConversation(id string) error {
	s.mu.Lock()
	idx := s.conversationIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return &model.NotFoundError{Kind: "conversation", ID: id}
	}
	s.messages = toPointers(model.CloneMessages(s.conversations[idx].Messages))
	s.persistMessagesLocked()
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// DeleteConversation removes a saved conversation.
func (s *ConversationStore) DeleteConversation(id string) error {
	s.mu.Lock()
	idx := s.conversationIndexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return &model.NotFoundError{Kind: "conversation", ID: id}
	}
	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)
	s.persistLocked(KeyConversations, s.conversations)
	v := s.bump()
	s.mu.Unlock()

	s.notify(v)
	return nil
}

// Conversations returns the saved conversations, most recent first.
func (s *ConversationStore) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = c.Clone()
	}
	return out
}

// =============================================================================
// SETTINGS
// =============================================================================

// SystemPrompt returns the system prompt.
func (s *ConversationStore) SystemPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemPrompt
}

// SetSystemPrompt replaces the system prompt.
func (s *ConversationStore) SetSystemPrompt(prompt string) {
	s.mu.Lock()
	s.systemPrompt = prompt
	s.persistLocked(KeySystemPrompt, prompt)
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
}

// PerformanceLevel returns the selected performance level.
func (s *ConversationStore) PerformanceLevel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.performanceLevel
}

// SetPerformanceLevel replaces the performance level.
func (s *ConversationStore) SetPerformanceLevel(level string) {
	s.mu.Lock()
	s.performanceLevel = level
	s.persistLocked(KeyPerformanceLevel, level)
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
}

// PendingAttachments returns the descriptors of files staged for the next send.
func (s *ConversationStore) PendingAttachments() []model.Attachment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Attachment(nil), s.pending...)
}

// SetPendingAttachments replaces the staged attachment descriptors.
func (s *ConversationStore) SetPendingAttachments(atts []model.Attachment) {
	s.mu.Lock()
	s.pending = append([]model.Attachment(nil), atts...)
	s.persistLocked(KeyPendingAttachments, s.pending)
	v := s.bump()
	s.mu.Unlock()
	s.notify(v)
}

// =============================================================================
// INTERNAL
// =============================================================================

func (s *ConversationStore) bump() uint64 {
	s.version++
	return s.version
}

// SetChangeHook replaces the mutation hook; nil removes it.
func (s *ConversationStore) SetChangeHook(fn func(version uint64)) {
	if fn == nil {
		s.onChange.Store(nil)
		return
	}
	s.onChange.Store(&fn)
}

func (s *ConversationStore) notify(v uint64) {
	if fn := s.onChange.Load(); fn != nil {
		(*fn)(v)
	}
}

func (s *ConversationStore) findLocked(id string) *model.Message {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return s.messages[i]
		}
	}
	return nil
}

func (s *ConversationStore) ownedLocked(msgID string) bool {
	for _, id := range s.turns {
		if id == msgID {
			return true
		}
	}
	return false
}

func (s *ConversationStore) conversationIndexLocked(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *ConversationStore) persistMessagesLocked() {
	s.persistLocked(KeyMessages, derefMessages(s.messages))
}

// persistLocked writes through under the store lock so writes reach the
// adapter in mutation order. Failures are logged; the in-memory state stays
// authoritative.
func (s *ConversationStore) persistLocked(key string, v any) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.persister.Save(ctx, key, v); err != nil {
		s.logger.Warn("failed to persist state", "key", key, "error", err)
	}
}

func toPointers(msgs []model.Message) []*model.Message {
	out := make([]*model.Message, len(msgs))
	for i := range msgs {
		m := msgs[i]
		out[i] = &m
	}
	return out
}

func derefMessages(msgs []*model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
