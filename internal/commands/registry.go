// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the TUI and
// the line-mode REPL.
package commands

import (
	"context"
	"sort"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Handler executes one command invocation.
type Handler func(ctx context.Context, env *Env, inv Invocation) (Result, error)

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/pipeline <id>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	Handler Handler

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name        string
	Required    bool
	Type        ArgType
	Description string

	// Values for enum types
	Values []string
}

// ArgType indicates what kind of completion to provide.
type ArgType int

const (
	ArgTypeString        ArgType = iota // Free-form string
	ArgTypeFile                         // Local file path
	ArgTypeEnum                         // One of predefined values
	ArgTypeConversation                 // Saved conversation reference
	ArgTypePipeline                     // Pipeline id
	ArgTypeKnowledgeBase                // Knowledge base id
	ArgTypeUpload                       // Staged upload reference
)

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

var toggleValues = []string{"on", "off"}

func (r *Registry) registerBuiltins() {
	// Navigation
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show available commands",
		Usage:       "/help [command]",
		Args:        []ArgDef{{Name: "command", Type: ArgTypeString, Description: "Command to describe"}},
		Category:    "Navigation",
		Handler:     handleHelp,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit rigchat",
		Category:    "Navigation",
		Handler:     handleQuit,
	})
	r.Register(&Command{
		Name:        "/cancel",
		Description: "Stop the responses being streamed",
		Category:    "Navigation",
		Handler:     handleCancel,
	})
	r.Register(&Command{
		Name:        "/status",
		Description: "Show the pipeline selection and staged files",
		Category:    "Navigation",
		Handler:     handleStatus,
	})

	// Conversation
	r.Register(&Command{
		Name:        "/clear",
		Aliases:     []string{"/new"},
		Description: "Start an empty conversation",
		Category:    "Conversation",
		Handler:     handleClear,
	})
	r.Register(&Command{
		Name:        "/save",
		Aliases:     []string{"/s"},
		Description: "Save the current conversation",
		Usage:       "/save [name]",
		Args:        []ArgDef{{Name: "name", Type: ArgTypeString, Description: "Name for the conversation"}},
		Category:    "Conversation",
		Handler:     handleSave,
	})
	r.Register(&Command{
		Name:        "/load",
		Description: "Load a saved conversation",
		Usage:       "/load <number|id>",
		Args:        []ArgDef{{Name: "conversation", Required: true, Type: ArgTypeConversation, Description: "Number from /list or conversation id"}},
		Category:    "Conversation",
		Handler:     handleLoad,
	})
	r.Register(&Command{
		Name:        "/list",
		Aliases:     []string{"/ls"},
		Description: "List saved conversations",
		Category:    "Conversation",
		Handler:     handleList,
	})
	r.Register(&Command{
		Name:        "/delete",
		Aliases:     []string{"/rm"},
		Description: "Delete a saved conversation",
		Usage:       "/delete <number|id>",
		Args:        []ArgDef{{Name: "conversation", Required: true, Type: ArgTypeConversation, Description: "Number from /list or conversation id"}},
		Category:    "Conversation",
		Handler:     handleDelete,
	})
	r.Register(&Command{
		Name:        "/export",
		Description: "Write the conversation as Markdown",
		Usage:       "/export [path]",
		Args:        []ArgDef{{Name: "path", Type: ArgTypeFile, Description: "Output file"}},
		Category:    "Conversation",
		Handler:     handleExport,
	})
	r.Register(&Command{
		Name:        "/system",
		Description: "Show or set the system prompt",
		Usage:       "/system [text|clear]",
		Args:        []ArgDef{{Name: "prompt", Type: ArgTypeString, Description: "New system prompt"}},
		Category:    "Conversation",
		Handler:     handleSystem,
	})

	// Attachments
	r.Register(&Command{
		Name:        "/attach",
		Aliases:     []string{"/a"},
		Description: "Stage files to send with the next message",
		Usage:       "/attach <path> [path...]",
		Args:        []ArgDef{{Name: "path", Required: true, Type: ArgTypeFile, Description: "File to attach"}},
		Category:    "Attachments",
		Handler:     handleAttach,
	})
	r.Register(&Command{
		Name:        "/detach",
		Description: "Remove a staged file",
		Usage:       "/detach <number|all>",
		Args:        []ArgDef{{Name: "file", Required: true, Type: ArgTypeUpload, Description: "Number from /uploads, or all"}},
		Category:    "Attachments",
		Handler:     handleDetach,
	})
	r.Register(&Command{
		Name:        "/uploads",
		Description: "List staged files and their upload state",
		Category:    "Attachments",
		Handler:     handleUploads,
	})

	// Pipeline
	r.Register(&Command{
		Name:        "/pipeline",
		Aliases:     []string{"/p"},
		Description: "List pipelines or switch to one",
		Usage:       "/pipeline [id]",
		Args:        []ArgDef{{Name: "id", Type: ArgTypePipeline, Description: "Pipeline id"}},
		Category:    "Pipeline",
		Handler:     handlePipeline,
	})
	r.Register(&Command{
		Name:        "/kb",
		Description: "List knowledge bases or select one",
		Usage:       "/kb [id|off|refresh]",
		Args:        []ArgDef{{Name: "id", Type: ArgTypeKnowledgeBase, Description: "Knowledge base id"}},
		Category:    "Pipeline",
		Handler:     handleKnowledgeBase,
	})
	r.Register(&Command{
		Name:        "/files",
		Description: "List knowledge base files or select some",
		Usage:       "/files [id...|none]",
		Args:        []ArgDef{{Name: "ids", Type: ArgTypeString, Description: "File ids"}},
		Category:    "Pipeline",
		Handler:     handleFiles,
	})
	r.Register(&Command{
		Name:        "/web",
		Description: "Toggle web search",
		Usage:       "/web <on|off>",
		Args:        []ArgDef{{Name: "state", Required: true, Type: ArgTypeEnum, Values: toggleValues}},
		Category:    "Pipeline",
		Handler:     handleWeb,
	})
	r.Register(&Command{
		Name:        "/memory",
		Description: "Toggle sending conversation history",
		Usage:       "/memory <on|off>",
		Args:        []ArgDef{{Name: "state", Required: true, Type: ArgTypeEnum, Values: toggleValues}},
		Category:    "Pipeline",
		Handler:     handleMemory,
	})
	r.Register(&Command{
		Name:        "/perf",
		Description: "Show or set the performance level",
		Usage:       "/perf [level|off]",
		Args:        []ArgDef{{Name: "level", Type: ArgTypeString, Description: "Performance level"}},
		Category:    "Pipeline",
		Handler:     handlePerformance,
	})
}
