// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage holds the active conversation and mirrors it to a
// persistence adapter.
//
// # Key Types
//
//   - ConversationStore: the single owner of the message list, saved
//     conversations, system prompt, performance level and pending attachments
//   - Persister: key/value adapter the store writes through on every mutation
//   - MemoryPersister, FilePersister, SQLitePersister: adapter implementations
//
// # Usage
//
//	p, err := storage.NewFilePersister(dir)
//	store := storage.NewConversationStore(p)
//	store.Rehydrate(ctx)
//
//	msg, err := store.AppendUserMessage("Hello", nil)
//	conv, err := store.SaveConversation("greeting")
//	err = store.LoadConversation(conv.ID)
//
// # Storage Location
//
// The file adapter writes one JSON document per key under ~/.rigchat/state/.
// Corrupt or unreadable documents are logged and replaced with empty state.
package storage
