// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the client packages.
//
// # Key Functions
//
//   - AtomicWriteFile / AtomicWriteJSON: crash-safe file writes with fsync
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth / StringWidth: display-width aware truncation
//
// # Usage
//
//	// Persist a value without ever leaving a half-written file
//	err := util.AtomicWriteJSON(path, state, 0600)
//
//	// Fit a label into a terminal column
//	label := util.TruncateWidth(name, 24)
package util
