// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the full-screen chat front end.
//
// The screen is a thin view over controller.Controller: it draws the visible
// message list, the attachment tray and the pipeline controls, forwards
// typed text to Send, and routes slash commands through the shared command
// registry. Redraws are driven by controller notifications and capped by a
// render.Throttle so a fast stream does not flood the terminal.
package chat
