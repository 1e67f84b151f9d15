// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the stream decoder,
// the conversation store, the upload coordinator and the render pipeline.
//
// # Key Types
//
//   - Message: a single user, bot or system message with attachments
//   - Metadata: model name and usage counters merged into bot messages
//   - Attachment: an uploaded file referenced by a user message
//   - Conversation: a named, saved snapshot of a message list
//   - PipelineSelection: the controls chosen for the next send
//
// # Errors
//
// The error taxonomy used across the client lives here too:
// ValidationError, UploadError, StreamError, ParseError and NotFoundError.
// Each matches its sentinel with errors.Is:
//
//	if errors.Is(err, model.ErrNotFound) {
//	    // conversation id is unknown
//	}
package model
