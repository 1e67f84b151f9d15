// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/upload"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader is the prompt the REPL reads from.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// ChatCLI provides input history, line editing and tab completion.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor completing through completer.
func NewChatCLI(completer *commands.Completer) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetTabCompletionStyle(liner.TabPrints)
	line.SetCompleter(func(s string) []string {
		return completeLine(completer, s)
	})

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// Prompt reads one line.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	return c.line.Prompt(prompt)
}

// AppendHistory records a line for arrow-key recall.
func (c *ChatCLI) AppendHistory(item string) {
	c.line.AppendHistory(item)
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// completeLine expands the word under the cursor into full-line candidates.
func completeLine(completer *commands.Completer, line string) []string {
	comps := completer.Complete(line, len(line))
	if len(comps) == 0 {
		return nil
	}
	base := ""
	if i := strings.LastIndexByte(line, ' '); i >= 0 {
		base = line[:i+1]
	}
	out := make([]string, len(comps))
	for i, c := range comps {
		out[i] = base + c.Value
	}
	return out
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

// RunChat starts the line-mode chat.
func RunChat(ctx context.Context, args Args) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, AppOptions{
		Pipeline:  args.Pipeline,
		Ephemeral: args.Ephemeral,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	registry := commands.NewRegistry()
	completer := commands.NewCompleter(registry)
	completer.Bind(app.Controller)

	input := NewChatCLI(completer)
	defer input.Close()

	// Ctrl+C while a reply streams stops the reply, not the program. At the
	// prompt liner owns the key and returns ErrPromptAborted.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if app.Controller.CancelAll() > 0 {
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	cwd, _ := os.Getwd()
	r := &repl{
		ctrl:     app.Controller,
		registry: registry,
		env: &commands.Env{
			Controller: app.Controller,
			Registry:   registry,
			ExportDir:  cwd,
		},
		in:    input,
		out:   os.Stdout,
		quiet: args.Quiet,
	}
	return r.run(ctx)
}

// =============================================================================
// REPL
// =============================================================================

type repl struct {
	ctrl     *controller.Controller
	registry *commands.Registry
	env      *commands.Env
	in       lineReader
	out      io.Writer
	quiet    bool
}

func (r *repl) run(ctx context.Context) error {
	if !r.quiet {
		sel := r.ctrl.Selection()
		fmt.Fprintf(r.out, "%s\n", TitleStyle.Render("rigchat "+Version))
		fmt.Fprintf(r.out, "%s\n\n", DimStyle.Render("Pipeline "+sel.PipelineID+". Type /help for commands, Ctrl+D to exit."))
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.in.Prompt(PromptStyle.Render("rigchat> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		r.in.AppendHistory(line)

		if commands.IsCommand(line) {
			quit, err := r.command(ctx, line)
			if err != nil {
				r.printError(err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.send(ctx, line); err != nil {
			r.printError(err)
		}
	}
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(ctx context.Context, line string) (bool, error) {
	res, err := r.registry.Execute(ctx, r.env, line)
	if err != nil {
		return false, err
	}
	if res.Output != "" {
		fmt.Fprintln(r.out, res.Output)
	}
	switch res.Action {
	case commands.ActionQuit:
		return true, nil
	case commands.ActionCancel:
		r.ctrl.CancelAll()
	}
	return false, nil
}

// send runs one turn and prints the reply as it streams.
func (r *repl) send(ctx context.Context, text string) error {
	names := make(map[string]string)
	for _, t := range r.ctrl.Uploads().Tasks() {
		names[t.ID] = t.DisplayName
	}
	before := r.ctrl.Store().Len()

	turn, err := r.ctrl.Send(ctx, text)
	if err != nil {
		return err
	}

	printed := 0
	notes := r.ctrl.Notifications()
	for done := false; !done; {
		select {
		case <-turn.Done():
			done = true
		case n := <-notes:
			switch n.Kind {
			case controller.MessagesChanged:
				printed = r.printDelta(before, printed)
			case controller.UploadProgress:
				r.printUpload(names, n.Upload)
			}
		}
	}

	res := turn.Result()
	if len(res.Content) > printed {
		fmt.Fprint(r.out, res.Content[printed:])
	}
	if res.Content != "" {
		fmt.Fprintln(r.out)
	}
	return res.Err
}

// printDelta writes whatever the turn's bot message gained since the last
// call. The REPL runs one turn at a time, so the first bot message after
// the previous length is this turn's.
func (r *repl) printDelta(before, printed int) int {
	msgs := r.ctrl.Store().Messages()
	for i := before; i < len(msgs); i++ {
		if !msgs[i].IsBot() {
			continue
		}
		if content := msgs[i].Content; len(content) > printed {
			fmt.Fprint(r.out, content[printed:])
			return len(content)
		}
		break
	}
	return printed
}

func (r *repl) printUpload(names map[string]string, n upload.Notification) {
	if r.quiet {
		return
	}
	name := names[n.TaskID]
	switch n.Status {
	case upload.StatusUploaded:
		fmt.Fprintln(r.out, DimStyle.Render("  uploaded "+name))
	case upload.StatusFailed:
		fmt.Fprintln(r.out, ErrorStyle.Render(fmt.Sprintf("  upload of %s failed: %v", name, n.Err)))
	}
}

func (r *repl) printError(err error) {
	fmt.Fprintf(r.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
}
