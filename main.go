// rigchat - a terminal client for pipeline chat backends.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/rigchat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse(os.Args[1:])
	if err := run(cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func run(cmd cli.Command, args cli.Args) error {
	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage(os.Stdout)
		return nil

	case cli.CmdVersion:
		cli.PrintVersion(os.Stdout)
		return nil

	case cli.CmdConfig:
		return cli.HandleConfig(args, os.Stdout)

	case cli.CmdTUI:
		// bubbletea reads Ctrl+C as a key.
		return cli.RunTUI(context.Background(), args)

	case cli.CmdChat:
		// The line-mode chat handles interrupts itself so Ctrl+C stops a
		// reply instead of the program.
		return cli.RunChat(context.Background(), args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case cli.CmdAsk:
		return cli.RunAsk(ctx, args, os.Stdin, os.Stdout)
	case cli.CmdServe:
		return cli.RunServe(ctx, args, os.Stdout)
	default:
		return fmt.Errorf("unknown command %d", cmd)
	}
}
