// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/server"
)

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"show", "--lines", "50"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if p.FlagIntOrDefault("lines", 0) != 50 {
					t.Errorf("Flag(lines) = %q, want 50", p.Flag("lines"))
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"--addr=127.0.0.1:9000", "serve"},
			wantSub: "serve",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("addr") != "127.0.0.1:9000" {
					t.Errorf("Flag(addr) = %q", p.Flag("addr"))
				}
			},
		},
		{
			name:    "declared boolean does not swallow the next word",
			args:    []string{"--json", "show"},
			wantSub: "show",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be true")
				}
			},
		},
		{
			name:    "repeated flag",
			args:    []string{"ask", "--file", "a.txt", "--file", "b.png", "hi"},
			wantSub: "ask",
			validate: func(t *testing.T, p *ArgParser) {
				if got := p.Flags("file"); !slices.Equal(got, []string{"a.txt", "b.png"}) {
					t.Errorf("Flags(file) = %v", got)
				}
				if p.Flag("file") != "b.png" {
					t.Errorf("Flag(file) = %q, want last value", p.Flag("file"))
				}
				if p.Positional(1) != "hi" {
					t.Errorf("Positional(1) = %q", p.Positional(1))
				}
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"ask", "--", "--not-a-flag"},
			wantSub: "ask",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Positional(1) != "--not-a-flag" {
					t.Errorf("Positional(1) = %q", p.Positional(1))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, "json")
			if p.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", p.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"true", "YES", "on", "1"} {
		if v, err := ParseBoolString(s); err != nil || !v {
			t.Errorf("ParseBoolString(%q) = %v, %v", s, v, err)
		}
	}
	if _, err := ParseBoolString("maybe"); err == nil {
		t.Error("ParseBoolString(maybe) should fail")
	}
}

// =============================================================================
// COMMAND PARSING TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		argv  []string
		want  Command
		check func(*testing.T, Args)
	}{
		{argv: nil, want: CmdTUI},
		{argv: []string{"--plain"}, want: CmdTUI, check: func(t *testing.T, a Args) {
			if !a.Plain {
				t.Error("Plain should be set")
			}
		}},
		{argv: []string{"chat", "--pipeline", "Vision"}, want: CmdChat, check: func(t *testing.T, a Args) {
			if a.Pipeline != "Vision" {
				t.Errorf("Pipeline = %q", a.Pipeline)
			}
		}},
		{argv: []string{"ask", "what", "is", "this", "--json", "--file", "x.png"}, want: CmdAsk, check: func(t *testing.T, a Args) {
			if a.Query != "what is this" {
				t.Errorf("Query = %q", a.Query)
			}
			if !a.JSON || len(a.Files) != 1 {
				t.Errorf("JSON = %v, Files = %v", a.JSON, a.Files)
			}
		}},
		{argv: []string{"config", "set", "backend.url", "http://h:1"}, want: CmdConfig, check: func(t *testing.T, a Args) {
			if a.Subcommand != "set" || a.ConfigKey != "backend.url" || a.ConfigVal != "http://h:1" {
				t.Errorf("got %q %q %q", a.Subcommand, a.ConfigKey, a.ConfigVal)
			}
		}},
		{argv: []string{"config"}, want: CmdConfig, check: func(t *testing.T, a Args) {
			if a.Subcommand != "show" {
				t.Errorf("Subcommand = %q, want show", a.Subcommand)
			}
		}},
		{argv: []string{"serve", "--addr", ":9999"}, want: CmdServe},
		{argv: []string{"--version"}, want: CmdVersion},
		{argv: []string{"help"}, want: CmdHelp},
		{argv: []string{"why", "is", "the", "sky", "blue"}, want: CmdAsk, check: func(t *testing.T, a Args) {
			if a.Query != "why is the sky blue" {
				t.Errorf("Query = %q", a.Query)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.argv, " "), func(t *testing.T) {
			cmd, args := Parse(tt.argv)
			if cmd != tt.want {
				t.Fatalf("Parse(%v) command = %d, want %d", tt.argv, cmd, tt.want)
			}
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestPrintUsageAndVersion(t *testing.T) {
	var buf bytes.Buffer
	PrintUsage(&buf)
	if !strings.Contains(buf.String(), "rigchat ask") {
		t.Error("usage should list the ask command")
	}
	buf.Reset()
	PrintVersion(&buf)
	if !strings.Contains(buf.String(), Version) {
		t.Error("version output should include the version")
	}
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func TestHandleConfig_SetGetPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("RIGCHAT_HOME", home)

	var out bytes.Buffer
	run := func(sub, key, val string) string {
		t.Helper()
		out.Reset()
		if err := HandleConfig(Args{Subcommand: sub, ConfigKey: key, ConfigVal: val}, &out); err != nil {
			t.Fatalf("config %s %s: %v", sub, key, err)
		}
		return strings.TrimSpace(out.String())
	}

	run("set", "stream.max_fps", "12")
	if got := run("get", "stream.max_fps", ""); got != "12" {
		t.Errorf("get stream.max_fps = %q, want 12", got)
	}

	run("set", "backend.api_key", "secret-key")
	if got := run("get", "backend.api_key", ""); got != "[REDACTED]" {
		t.Errorf("api key should be redacted, got %q", got)
	}

	if got := run("path", "", ""); got != filepath.Join(home, "config.toml") {
		t.Errorf("path = %q", got)
	}
	if _, err := os.Stat(filepath.Join(home, "config.toml")); err != nil {
		t.Errorf("config file not written: %v", err)
	}

	if show := run("show", "", ""); !strings.Contains(show, "stream.max_fps") {
		t.Errorf("show should list keys, got:\n%s", show)
	}

	if err := HandleConfig(Args{Subcommand: "set", ConfigKey: "stream.max_fps", ConfigVal: "0"}, &out); err == nil {
		t.Error("an invalid value should be rejected")
	}
	if err := HandleConfig(Args{Subcommand: "bogus"}, &out); err == nil {
		t.Error("unknown subcommand should fail")
	}
}

// =============================================================================
// APP AND REPL TESTS
// =============================================================================

func newTestApp(t *testing.T) (*App, *server.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	home := t.TempDir()
	t.Setenv("RIGCHAT_HOME", home)

	srv := server.New(server.Options{Logger: slog.New(slog.DiscardHandler)})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Backend.URL = ts.URL
	cfg.Stream.MaxRetries = 0
	cfg.Storage.Backend = "memory"
	cfg.Log.File = filepath.Join(home, "test.log")

	app, err := NewApp(context.Background(), cfg, AppOptions{})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app, srv
}

type scriptedInput struct {
	lines   []string
	history []string
}

func (s *scriptedInput) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) AppendHistory(item string) {
	s.history = append(s.history, item)
}

func TestNewApp_RejectsUnknownPipeline(t *testing.T) {
	t.Setenv("RIGCHAT_HOME", t.TempDir())
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Log.File = filepath.Join(t.TempDir(), "log")
	if _, err := NewApp(context.Background(), cfg, AppOptions{Pipeline: "Nope"}); err == nil {
		t.Fatal("expected an error for an unknown pipeline")
	}
}

func TestRepl_CommandsAndStreaming(t *testing.T) {
	app, _ := newTestApp(t)

	registry := commands.NewRegistry()
	in := &scriptedInput{lines: []string{"/pipeline Vision", "   ", "Hello", "/bogus", "/quit", "never read"}}
	var out bytes.Buffer
	r := &repl{
		ctrl:     app.Controller,
		registry: registry,
		env:      &commands.Env{Controller: app.Controller, Registry: registry, ExportDir: t.TempDir()},
		in:       in,
		out:      &out,
		quiet:    true,
	}
	if err := r.run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := out.String()
	for _, want := range []string{"Using pipeline Vision", "You said: Hello", "[Error]"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if len(in.lines) != 1 {
		t.Errorf("/quit should stop the loop, %d lines left", len(in.lines))
	}
	if len(in.history) != 4 {
		t.Errorf("blank lines should not enter history, got %v", in.history)
	}
	if n := app.Controller.Store().Len(); n != 2 {
		t.Errorf("store has %d messages, want 2", n)
	}
}

func TestAsk_JSONWithAttachment(t *testing.T) {
	app, srv := newTestApp(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("some notes"), 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err := ask(context.Background(), app, Args{JSON: true, Files: []string{path}}, "Summarize", &out)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	var res AskResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}
	if !res.Completed || !strings.Contains(res.Content, "You said: Summarize") {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.Contains(res.Content, "1 attachment") {
		t.Errorf("reply should mention the attachment: %q", res.Content)
	}
	if len(srv.Uploads()) != 1 {
		t.Errorf("server saw %d uploads, want 1", len(srv.Uploads()))
	}
}

func TestCompleteLine(t *testing.T) {
	completer := commands.NewCompleter(commands.NewRegistry())

	if got := completeLine(completer, "/pip"); !slices.Equal(got, []string{"/pipeline"}) {
		t.Errorf("completeLine(/pip) = %v", got)
	}
	got := completeLine(completer, "/web o")
	if !slices.Contains(got, "/web on") || !slices.Contains(got, "/web off") {
		t.Errorf("completeLine(/web o) = %v", got)
	}
	if got := completeLine(completer, "hello"); got != nil {
		t.Errorf("plain text should not complete, got %v", got)
	}
}
