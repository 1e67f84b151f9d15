// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/upload"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// EXECUTION CONTEXT
// =============================================================================

// Env is what handlers act on.
type Env struct {
	Controller *controller.Controller
	Registry   *Registry

	// ExportDir is where /export writes when no path is given.
	ExportDir string

	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Invocation is one parsed command line.
type Invocation struct {
	Name string
	Args []string
	// Raw is the argument text as typed, quotes included.
	Raw string

	// Conversation is the saved conversation a conversation argument named.
	Conversation *model.Conversation
	// Uploads are the staged files an upload argument named; "all" names
	// every one.
	Uploads []upload.TaskInfo
}

// Action asks the front end to do something beyond printing output.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionCancel
	ActionRedraw
)

// Result is the outcome of a command.
type Result struct {
	Output string
	Action Action
}

func output(format string, args ...any) (Result, error) {
	return Result{Output: fmt.Sprintf(format, args...)}, nil
}

// Execute parses input against the controller's state and runs the handler.
func (r *Registry) Execute(ctx context.Context, env *Env, input string) (Result, error) {
	p := NewParser(r)
	if env.Controller != nil {
		p.Bind(env.Controller)
	}
	cmd, inv, err := p.Parse(input)
	if err != nil {
		return Result{}, err
	}
	if env.Registry == nil {
		env.Registry = r
	}
	return cmd.Handler(ctx, env, inv)
}

// =============================================================================
// NAVIGATION
// =============================================================================

func handleHelp(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	if len(inv.Args) > 0 {
		name := inv.Args[0]
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
		cmd := env.Registry.Get(name)
		if cmd == nil {
			return Result{}, model.NewValidationError("/help", "unknown command %s", inv.Args[0])
		}
		return Result{Output: CommandHelp(cmd)}, nil
	}
	return Result{Output: HelpText(env.Registry)}, nil
}

func handleQuit(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	return Result{Action: ActionQuit}, nil
}

func handleCancel(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	return Result{Output: "Cancelling.", Action: ActionCancel}, nil
}

func handleStatus(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	c := env.Controller
	sel := c.Selection()
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline:    %s\n", sel.PipelineID)
	if sel.KnowledgeBaseID != "" {
		fmt.Fprintf(&b, "KB:          %s\n", sel.KnowledgeBaseID)
	}
	if len(sel.SelectedFileIDs) > 0 {
		fmt.Fprintf(&b, "Files:       %s\n", strings.Join(sel.SelectedFileIDs, ", "))
	}
	fmt.Fprintf(&b, "Web search:  %s\n", onOff(sel.WebSearchEnabled))
	fmt.Fprintf(&b, "Memory:      %s\n", onOff(sel.MemoryEnabled))
	if sel.PerformanceLevel != "" {
		fmt.Fprintf(&b, "Performance: %s\n", sel.PerformanceLevel)
	}
	if p := c.SystemPrompt(); p != "" {
		fmt.Fprintf(&b, "System:      %s\n", util.TruncateRunes(p, 60))
	}
	fmt.Fprintf(&b, "Messages:    %d\n", c.Store().Len())
	fmt.Fprintf(&b, "Staged:      %d file(s)\n", c.Uploads().Len())
	if n := c.InFlight(); n > 0 {
		fmt.Fprintf(&b, "Streaming:   %d turn(s)\n", n)
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

// =============================================================================
// CONVERSATION
// =============================================================================

func handleClear(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	env.Controller.Clear()
	return Result{Output: "Started a new conversation.", Action: ActionRedraw}, nil
}

func handleSave(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	name := strings.Join(inv.Args, " ")
	if strings.TrimSpace(name) == "" {
		name = "Conversation " + env.now().Format("2006-01-02 15:04")
	}
	conv, err := env.Controller.Save(name)
	if err != nil {
		return Result{}, err
	}
	return output("Saved %q (%d messages).", conv.Name, len(conv.Messages))
}

func handleLoad(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	conv := inv.Conversation
	if err := env.Controller.Load(conv.ID); err != nil {
		return Result{}, err
	}
	return Result{Output: fmt.Sprintf("Loaded %q.", conv.Name), Action: ActionRedraw}, nil
}

func handleList(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	convs := env.Controller.Conversations()
	if len(convs) == 0 {
		return output("No saved conversations.")
	}
	var b strings.Builder
	for i, c := range convs {
		fmt.Fprintf(&b, "%2d. %-30s %3d msgs  %s\n", i+1,
			util.TruncateRunes(c.Name, 30), len(c.Messages), c.SavedAt.Format("2006-01-02 15:04"))
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

func handleDelete(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	conv := inv.Conversation
	if err := env.Controller.Delete(conv.ID); err != nil {
		return Result{}, err
	}
	return output("Deleted %q.", conv.Name)
}

func handleExport(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	now := env.now()
	var path string
	if len(inv.Args) > 0 {
		path = inv.Args[0]
	} else {
		path = filepath.Join(env.ExportDir, "rigchat-"+now.Format("20060102-150405")+".md")
	}
	title := "rigchat conversation " + now.Format("2006-01-02 15:04")
	if err := util.AtomicWriteFile(path, []byte(env.Controller.Export(title)), 0600); err != nil {
		return Result{}, fmt.Errorf("export: %w", err)
	}
	return output("Exported to %s", path)
}

func handleSystem(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	raw := strings.TrimSpace(inv.Raw)
	switch raw {
	case "":
		if p := env.Controller.SystemPrompt(); p != "" {
			return output("System prompt: %s", p)
		}
		return output("No system prompt set.")
	case "clear":
		env.Controller.SetSystemPrompt("")
		return output("System prompt cleared.")
	}
	env.Controller.SetSystemPrompt(strings.Trim(raw, `"'`))
	return output("System prompt updated.")
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func handleAttach(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	files := make([]upload.File, 0, len(inv.Args))
	for _, p := range inv.Args {
		f, err := upload.FromPath(p)
		if err != nil {
			return Result{}, err
		}
		files = append(files, f)
	}
	infos, err := env.Controller.Attach(files...)
	if err != nil {
		return Result{}, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.DisplayName
	}
	return output("Staged %s. Files upload when you send.", strings.Join(names, ", "))
}

func handleDetach(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	for _, t := range inv.Uploads {
		if err := env.Controller.Detach(t.ID); err != nil {
			return Result{}, err
		}
	}
	if len(inv.Uploads) == 1 && !strings.EqualFold(inv.Args[0], "all") {
		return output("Removed %s.", inv.Uploads[0].DisplayName)
	}
	return output("Removed %d staged file(s).", len(inv.Uploads))
}

func handleUploads(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	tasks := env.Controller.Uploads().Tasks()
	if len(tasks) == 0 {
		return output("No staged files.")
	}
	var b strings.Builder
	for i, t := range tasks {
		fmt.Fprintf(&b, "%2d. %-30s %-9s %3d%%", i+1, util.TruncateRunes(t.DisplayName, 30), t.Status, t.Progress)
		if t.Err != nil {
			fmt.Fprintf(&b, "  %v", t.Err)
		}
		b.WriteString("\n")
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

// =============================================================================
// PIPELINE CONTROLS
// =============================================================================

func handlePipeline(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	c := env.Controller
	if len(inv.Args) == 0 {
		current := c.Selection().PipelineID
		var b strings.Builder
		for _, id := range c.Registry().IDs() {
			p, _ := c.Registry().Get(id)
			marker := " "
			if id == current {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %-14s %s  [%s]\n", marker, p.ID, p.Name, controlNames(p))
		}
		return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
	}
	if err := c.SelectPipeline(inv.Args[0]); err != nil {
		return Result{}, err
	}
	return Result{Output: "Using pipeline " + inv.Args[0] + ".", Action: ActionRedraw}, nil
}

func controlNames(p pipeline.Pipeline) string {
	names := make([]string, len(p.Controls))
	for i, ctl := range p.Controls {
		names[i] = string(ctl.Kind)
	}
	return strings.Join(names, ", ")
}

func handleKnowledgeBase(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	c := env.Controller
	sel := c.Selection()

	if len(inv.Args) == 0 {
		kbs, err := c.KnowledgeBases(ctx)
		if err != nil {
			return Result{}, err
		}
		if len(kbs) == 0 {
			return output("No knowledge bases.")
		}
		var b strings.Builder
		for _, kb := range kbs {
			marker := " "
			if kb.ID == sel.KnowledgeBaseID {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %-16s %s\n", marker, kb.ID, kb.Name)
		}
		return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
	}

	switch arg := inv.Args[0]; arg {
	case "off", "none":
		sel.KnowledgeBaseID = ""
		sel.SelectedFileIDs = nil
	case "refresh":
		if err := c.RefreshKnowledgeBases(ctx, sel.KnowledgeBaseID); err != nil {
			return Result{}, err
		}
		return output("Knowledge base listings will be refetched.")
	default:
		if sel.KnowledgeBaseID != arg {
			sel.SelectedFileIDs = nil
		}
		sel.KnowledgeBaseID = arg
	}
	if err := c.SetSelection(sel); err != nil {
		return Result{}, err
	}
	if sel.KnowledgeBaseID == "" {
		return output("Knowledge base cleared.")
	}
	return output("Using knowledge base %s.", sel.KnowledgeBaseID)
}

func handleFiles(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	c := env.Controller
	sel := c.Selection()
	if sel.KnowledgeBaseID == "" {
		return Result{}, model.NewValidationError("file_select", "select a knowledge base first with /kb <id>")
	}

	if len(inv.Args) == 0 {
		files, err := c.KnowledgeBaseFiles(ctx, sel.KnowledgeBaseID)
		if err != nil {
			return Result{}, err
		}
		if len(files) == 0 {
			return output("Knowledge base %s has no files.", sel.KnowledgeBaseID)
		}
		selected := make(map[string]bool, len(sel.SelectedFileIDs))
		for _, id := range sel.SelectedFileIDs {
			selected[id] = true
		}
		var b strings.Builder
		for _, f := range files {
			marker := " "
			if selected[f.ID] {
				marker = "*"
			}
			fmt.Fprintf(&b, "%s %-16s %s\n", marker, f.ID, f.Name)
		}
		return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
	}

	if len(inv.Args) == 1 && inv.Args[0] == "none" {
		sel.SelectedFileIDs = nil
	} else {
		sel.SelectedFileIDs = inv.Args
	}
	if err := c.SetSelection(sel); err != nil {
		return Result{}, err
	}
	return output("%d file(s) selected.", len(sel.SelectedFileIDs))
}

func handleWeb(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	sel := env.Controller.Selection()
	sel.WebSearchEnabled = strings.EqualFold(inv.Args[0], "on")
	if err := env.Controller.SetSelection(sel); err != nil {
		return Result{}, err
	}
	return output("Web search %s.", onOff(sel.WebSearchEnabled))
}

func handleMemory(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	sel := env.Controller.Selection()
	sel.MemoryEnabled = strings.EqualFold(inv.Args[0], "on")
	if err := env.Controller.SetSelection(sel); err != nil {
		return Result{}, err
	}
	return output("Memory %s.", onOff(sel.MemoryEnabled))
}

func handlePerformance(ctx context.Context, env *Env, inv Invocation) (Result, error) {
	c := env.Controller
	sel := c.Selection()
	if len(inv.Args) == 0 {
		opts := c.Registry().PerformanceOptions(sel.PipelineID)
		current := sel.PerformanceLevel
		if current == "" {
			current = "default"
		}
		return output("Performance: %s (options: %s)", current, strings.Join(opts, ", "))
	}
	if inv.Args[0] == "off" {
		sel.PerformanceLevel = ""
	} else {
		sel.PerformanceLevel = inv.Args[0]
	}
	if err := c.SetSelection(sel); err != nil {
		return Result{}, err
	}
	if sel.PerformanceLevel == "" {
		return output("Performance level reset.")
	}
	return output("Performance level %s.", sel.PerformanceLevel)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// =============================================================================
// HELP TEXT
// =============================================================================

var categoryOrder = []string{"Navigation", "Conversation", "Attachments", "Pipeline"}

// HelpText lists every visible command by category.
func HelpText(r *Registry) string {
	groups := r.ByCategory()
	var b strings.Builder
	b.WriteString("Type a message and press Enter to send. Commands:\n")
	for _, cat := range categoryOrder {
		cmds := groups[cat]
		if len(cmds) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s\n", cat)
		for _, cmd := range cmds {
			usage := cmd.Usage
			if usage == "" {
				usage = cmd.Name
			}
			fmt.Fprintf(&b, "  %-26s %s\n", usage, cmd.Description)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// CommandHelp describes one command.
func CommandHelp(cmd *Command) string {
	var b strings.Builder
	usage := cmd.Usage
	if usage == "" {
		usage = cmd.Name
	}
	fmt.Fprintf(&b, "%s\n  %s", usage, cmd.Description)
	if len(cmd.Aliases) > 0 {
		fmt.Fprintf(&b, "\n  aliases: %s", strings.Join(cmd.Aliases, ", "))
	}
	for _, a := range cmd.Args {
		req := "optional"
		if a.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "\n  %s (%s)", a.Name, req)
		if a.Description != "" {
			fmt.Fprintf(&b, ": %s", a.Description)
		}
		if len(a.Values) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(a.Values, "|"))
		}
	}
	return b.String()
}
