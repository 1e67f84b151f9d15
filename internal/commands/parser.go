// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/upload"
)

// =============================================================================
// COMMAND LINE
// =============================================================================

// Line is a slash command split into its name and arguments.
type Line struct {
	Name string
	Args []string
	// Raw is everything after the name, quotes kept.
	Raw string
}

// IsCommand reports whether input is a slash command rather than a message.
func IsCommand(input string) bool {
	return strings.HasPrefix(strings.TrimSpace(input), "/")
}

// SplitLine splits a slash command. ok is false for chat text.
func SplitLine(input string) (line Line, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return Line{}, false
	}
	name, rest := input, ""
	if i := strings.IndexFunc(input, unicode.IsSpace); i >= 0 {
		name, rest = input[:i], input[i:]
	}
	return Line{Name: name, Args: tokenize(rest), Raw: strings.TrimSpace(rest)}, true
}

// tokenize splits on unquoted whitespace. Single and double quotes group a
// file name with spaces; inside quotes a backslash escapes a quote or itself.
func tokenize(s string) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune
		open  bool
	)
	flush := func() {
		if open {
			out = append(out, cur.String())
			cur.Reset()
			open = false
		}
	}

	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0 && r == '\\' && i+1 < len(runes) && strings.ContainsRune(`"'\`, runes[i+1]):
			i++
			cur.WriteRune(runes[i])
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && (r == '"' || r == '\''):
			quote, open = r, true
		case quote == 0 && unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
			open = true
		}
	}
	flush()
	return out
}

// =============================================================================
// PARSER
// =============================================================================

// Parser turns a command line into an Invocation. Arguments that name a
// saved conversation or a staged upload are resolved here, so handlers get
// the record itself.
type Parser struct {
	registry *Registry

	// Sources for reference arguments. Nil means nothing to resolve against.
	Conversations func() []model.Conversation
	Uploads       func() []upload.TaskInfo
}

// NewParser creates a parser over registry.
func NewParser(registry *Registry) *Parser {
	return &Parser{registry: registry}
}

// Bind resolves references against ctrl's saved conversations and staged
// uploads.
func (p *Parser) Bind(ctrl *controller.Controller) *Parser {
	p.Conversations = ctrl.Conversations
	p.Uploads = func() []upload.TaskInfo { return ctrl.Uploads().Tasks() }
	return p
}

// Parse looks up the command, checks its arguments and resolves references.
// Every rejection matches model.ErrValidation, except a reference that
// names nothing, which matches model.ErrNotFound.
func (p *Parser) Parse(input string) (*Command, Invocation, error) {
	line, ok := SplitLine(input)
	if !ok {
		return nil, Invocation{}, model.NewValidationError("", "not a command: %q", input)
	}
	cmd := p.registry.Get(line.Name)
	if cmd == nil {
		return nil, Invocation{}, model.NewValidationError(line.Name, "unknown command, see /help")
	}

	inv := Invocation{Name: cmd.Name, Args: line.Args, Raw: line.Raw}
	for i, def := range cmd.Args {
		if i >= len(line.Args) {
			if def.Required {
				return cmd, inv, argError(cmd, def, "missing %s", describe(def))
			}
			continue
		}
		if err := p.resolve(cmd, def, line.Args[i], &inv); err != nil {
			return cmd, inv, err
		}
	}
	return cmd, inv, nil
}

func (p *Parser) resolve(cmd *Command, def ArgDef, arg string, inv *Invocation) error {
	switch def.Type {
	case ArgTypeEnum:
		for _, v := range def.Values {
			if strings.EqualFold(arg, v) {
				return nil
			}
		}
		return argError(cmd, def, "%q is not one of %s", arg, strings.Join(def.Values, ", "))

	case ArgTypeConversation:
		if p.Conversations == nil {
			return nil
		}
		conv, err := ResolveConversation(p.Conversations(), arg)
		if err != nil {
			return err
		}
		inv.Conversation = &conv

	case ArgTypeUpload:
		if p.Uploads == nil {
			return nil
		}
		tasks := p.Uploads()
		if strings.EqualFold(arg, "all") {
			inv.Uploads = tasks
			return nil
		}
		task, err := resolveUpload(tasks, arg)
		if err != nil {
			return err
		}
		inv.Uploads = []upload.TaskInfo{task}
	}
	return nil
}

func describe(def ArgDef) string {
	if def.Description != "" {
		return strings.ToLower(def.Description[:1]) + def.Description[1:]
	}
	return def.Name
}

func argError(cmd *Command, def ArgDef, format string, args ...any) error {
	return model.NewValidationError(cmd.Name+" "+def.Name, format, args...)
}

// =============================================================================
// REFERENCES
// =============================================================================

// ResolveConversation finds a conversation by 1-based list number, id, id
// prefix or exact name.
func ResolveConversation(convs []model.Conversation, ref string) (model.Conversation, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		if n >= 1 && n <= len(convs) {
			return convs[n-1], nil
		}
		return model.Conversation{}, &model.NotFoundError{Kind: "conversation", ID: ref}
	}
	var match []model.Conversation
	for _, c := range convs {
		if c.ID == ref || c.Name == ref {
			return c, nil
		}
		if strings.HasPrefix(c.ID, ref) {
			match = append(match, c)
		}
	}
	switch len(match) {
	case 1:
		return match[0], nil
	case 0:
		return model.Conversation{}, &model.NotFoundError{Kind: "conversation", ID: ref}
	}
	return model.Conversation{}, model.NewValidationError("conversation", "%q matches %d conversations", ref, len(match))
}

// resolveUpload finds a staged file by 1-based /uploads number, task id or
// display name.
func resolveUpload(tasks []upload.TaskInfo, ref string) (upload.TaskInfo, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(tasks) {
		return tasks[n-1], nil
	}
	for _, t := range tasks {
		if t.ID == ref || t.DisplayName == ref {
			return t, nil
		}
	}
	return upload.TaskInfo{}, &model.NotFoundError{Kind: "upload", ID: ref}
}
