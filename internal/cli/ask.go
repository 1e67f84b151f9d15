// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/jeranaias/rigchat/internal/upload"
)

// AskResult is the JSON shape printed by `rigchat ask --json`.
type AskResult struct {
	Pipeline    string   `json:"pipeline"`
	Query       string   `json:"query"`
	Content     string   `json:"content"`
	Completed   bool     `json:"completed"`
	Attachments []string `json:"attachments,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// RunAsk sends one question and prints the reply. Without a query argument
// the question is read from stdin when stdin is not a terminal. Nothing is
// persisted.
func RunAsk(ctx context.Context, args Args, stdin io.Reader, out io.Writer) error {
	query := args.Query
	if query == "" && stdin != nil && !IsTTY() {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		query = strings.TrimSpace(string(data))
	}
	if query == "" && len(args.Files) == 0 {
		return errors.New(`usage: rigchat ask "question" [--file path]...`)
	}

	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, AppOptions{
		Pipeline:  args.Pipeline,
		Ephemeral: true,
	})
	if err != nil {
		return err
	}
	defer app.Close()
	return ask(ctx, app, args, query, out)
}

func ask(ctx context.Context, app *App, args Args, query string, out io.Writer) error {
	ctrl := app.Controller

	files := make([]upload.File, 0, len(args.Files))
	for _, path := range args.Files {
		f, err := upload.FromPath(path)
		if err != nil {
			return err
		}
		files = append(files, f)
	}
	if len(files) > 0 {
		if _, err := ctrl.Attach(files...); err != nil {
			return err
		}
	}

	if !args.JSON {
		r := &repl{ctrl: ctrl, out: out, quiet: true}
		return r.send(ctx, query)
	}

	result := AskResult{Pipeline: ctrl.Selection().PipelineID, Query: query}
	for _, f := range files {
		result.Attachments = append(result.Attachments, f.Name)
	}

	turn, err := ctrl.Send(ctx, query)
	if err != nil {
		result.Error = err.Error()
	} else {
		res := turn.Result()
		result.Content = res.Content
		result.Completed = res.Completed
		if res.Err != nil {
			result.Error = res.Err.Error()
			err = res.Err
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return encErr
	}
	return err
}
