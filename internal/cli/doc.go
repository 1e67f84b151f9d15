// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigchat command line.
//
// Commands:
//
//	rigchat                 full-screen chat (default)
//	rigchat chat            line-mode chat with history and tab completion
//	rigchat ask "question"  one-shot question, reply on stdout
//	rigchat serve           local pipeline server
//	rigchat config ...      show, get or set configuration
//	rigchat version         version information
//
// Every chat front end is built by NewApp, which wires storage, the upload
// coordinator, the knowledge-base cache and the pipeline client into one
// controller.Controller.
package cli
