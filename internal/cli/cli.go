// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdChat
	CmdAsk
	CmdServe
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Plain     bool
	Quiet     bool
	JSON      bool
	Ephemeral bool
	Pipeline  string
	// ConfigPath loads this file instead of the one in ConfigDir.
	ConfigPath string

	// Command-specific
	Query      string
	Files      []string
	Subcommand string
	ConfigKey  string
	ConfigVal  string
	Addr       string

	// Raw args (remaining after flag parsing)
	Raw []string
}

// boolFlags take no value anywhere on the command line.
var boolFlags = []string{"plain", "quiet", "q", "json", "ephemeral", "help", "h", "version", "v"}

const usageText = `rigchat - terminal client for pipeline chat backends

Usage:
  rigchat                        Start the full-screen chat (default)
  rigchat chat                   Line-mode chat with history and completion
  rigchat ask "question"         Ask one question and print the reply
  rigchat serve                  Run the local pipeline server
  rigchat config [show]          Show the configuration
  rigchat config get <key>       Print one setting
  rigchat config set <key> <v>   Change one setting
  rigchat config keys            List setting keys
  rigchat config path            Show the config file location
  rigchat version                Show version information

Global flags:
  --pipeline <id>     Pipeline to start with (StepFun, KnowledgeQA, Vision)
  --config <path>     Use this config file
  --plain             No colors or Markdown styling
  --ephemeral         Keep this session's conversations in memory only
  -q, --quiet         Less output

Ask flags:
  --file <path>       Attach a file (repeatable)
  --json              Print the result as JSON

Serve flags:
  --addr <host:port>  Listen address (default from config)

Chat commands (TUI and line mode):
  /help  /pipeline  /kb  /files  /web  /memory  /perf  /system
  /attach  /detach  /uploads  /save  /load  /list  /delete  /export
  /clear  /status  /cancel  /quit

Environment:
  RIGCHAT_HOME        Config directory (default ~/.rigchat)
  RIGCHAT_BACKEND_URL, RIGCHAT_API_KEY, RIGCHAT_USER and friends override
  the config file; a .env file in the working directory is read first.

Version: %s
`

// PrintUsage writes the usage text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigchat version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go: %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses command-line arguments (without the program name).
func Parse(argv []string) (Command, Args) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		Plain:      p.BoolFlag("plain"),
		Quiet:      p.BoolFlag("quiet") || p.BoolFlag("q"),
		JSON:       p.BoolFlag("json"),
		Ephemeral:  p.BoolFlag("ephemeral"),
		Pipeline:   p.Flag("pipeline"),
		ConfigPath: p.Flag("config"),
		Files:      p.Flags("file"),
		Addr:       p.Flag("addr"),
	}

	if p.BoolFlag("help") || p.BoolFlag("h") {
		return CmdHelp, args
	}
	if p.BoolFlag("version") || p.BoolFlag("v") {
		return CmdVersion, args
	}
	if p.PositionalCount() == 0 {
		return CmdTUI, args
	}

	rest := p.PositionalFrom(1)
	args.Raw = rest

	switch strings.ToLower(p.Subcommand()) {
	case "tui":
		return CmdTUI, args
	case "chat":
		return CmdChat, args
	case "ask":
		args.Query = strings.Join(rest, " ")
		return CmdAsk, args
	case "serve", "server":
		return CmdServe, args
	case "config":
		args.Subcommand = "show"
		if len(rest) > 0 {
			args.Subcommand = strings.ToLower(rest[0])
		}
		if len(rest) > 1 {
			args.ConfigKey = rest[1]
		}
		if len(rest) > 2 {
			args.ConfigVal = strings.Join(rest[2:], " ")
		}
		return CmdConfig, args
	case "version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		// Anything else is a question.
		args.Query = strings.Join(p.PositionalFrom(0), " ")
		return CmdAsk, args
	}
}
