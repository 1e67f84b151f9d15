// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the TUI and
// the line-mode REPL.
//
// Commands act on a controller.Controller and return a Result: text to
// show plus an optional Action (quit, cancel streaming, redraw). They never
// touch the screen, so both front ends run the same registry.
//
// # Key Types
//
//   - Registry: command table with aliases and categories
//   - Parser: splits a command line and resolves conversation and upload references
//   - Completer: tab completion for commands and arguments
//   - Env: the controller and settings handlers act on
//
// # Usage
//
//	reg := commands.NewRegistry()
//	res, err := reg.Execute(ctx, &commands.Env{Controller: ctrl}, "/pipeline Vision")
//
//	completions := commands.NewCompleter(reg).Complete("/pi", 3)
//	// Returns ["/pipeline"]
package commands
