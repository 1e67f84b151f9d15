// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline talks to the chat backend.
//
// A Registry declares the available pipelines and the sidebar controls each
// one accepts. BuildChatRequest turns a user turn into the JSON body a
// pipeline endpoint expects, and Client sends it, returning a stream.Decoder
// over the response body. Client also uploads files (it satisfies
// upload.Uploader) and lists knowledge bases for kbcache.
//
// # Retries
//
// Connection errors and 5xx responses are retried with exponential backoff
// before any response body is read. 4xx responses fail at once with a
// model.StreamError carrying the status and the server's message. Once a
// stream is open it is never retried; a read failure ends the turn and the
// partial content stays in the conversation.
package pipeline
