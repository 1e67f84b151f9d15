// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/kbcache"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/upload"
)

type stubFetcher struct{}

func (stubFetcher) ListKnowledgeBases(ctx context.Context) ([]model.KnowledgeBase, error) {
	return []model.KnowledgeBase{{ID: "kb_docs", Name: "Docs"}}, nil
}

func (stubFetcher) ListFiles(ctx context.Context, kbID string) ([]model.KnowledgeBaseFile, error) {
	return []model.KnowledgeBaseFile{{ID: "file_a", Name: "a.md"}, {ID: "file_b", Name: "b.md"}}, nil
}

type idleUploader struct{}

func (idleUploader) Upload(ctx context.Context, req upload.Request, progress upload.ProgressFunc) (upload.Result, error) {
	return upload.Result{FileID: "r1", FilePath: "/files/r1"}, nil
}

func newEnv(t *testing.T) (*Registry, *Env) {
	t.Helper()
	quiet := slog.New(slog.DiscardHandler)
	store := storage.NewConversationStore(storage.NewMemoryPersister(), storage.WithStoreLogger(quiet))
	ctrl, err := controller.New(controller.Deps{
		Store:    store,
		Uploads:  upload.NewCoordinator(idleUploader{}, upload.WithLogger(quiet)),
		Client:   pipeline.NewClient("http://127.0.0.1:1"),
		Registry: pipeline.DefaultRegistry(),
		KB:       kbcache.New(kbcache.NewStoreBackend(storage.NewMemoryPersister()), stubFetcher{}, kbcache.WithLogger(quiet)),
		Config:   config.Default(),
		Logger:   quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })

	reg := NewRegistry()
	return reg, &Env{
		Controller: ctrl,
		Registry:   reg,
		ExportDir:  t.TempDir(),
		Now:        func() time.Time { return time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC) },
	}
}

func run(t *testing.T, reg *Registry, env *Env, line string) Result {
	t.Helper()
	res, err := reg.Execute(context.Background(), env, line)
	require.NoError(t, err, line)
	return res
}

func TestExecute_RejectsUnknownAndMissingArgs(t *testing.T) {
	reg, env := newEnv(t)

	_, err := reg.Execute(context.Background(), env, "/bogus")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = reg.Execute(context.Background(), env, "/load")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = reg.Execute(context.Background(), env, "hello")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestHelpAndActions(t *testing.T) {
	reg, env := newEnv(t)

	res := run(t, reg, env, "/help")
	assert.Contains(t, res.Output, "/pipeline [id]")
	assert.Contains(t, res.Output, "Attachments")

	res = run(t, reg, env, "/help web")
	assert.Contains(t, res.Output, "on|off")

	assert.Equal(t, ActionQuit, run(t, reg, env, "/q").Action)
	assert.Equal(t, ActionCancel, run(t, reg, env, "/cancel").Action)
}

func TestPipelineCommands(t *testing.T) {
	reg, env := newEnv(t)

	res := run(t, reg, env, "/pipeline")
	assert.Contains(t, res.Output, "* StepFun")
	assert.Contains(t, res.Output, "Vision")

	run(t, reg, env, "/web on")
	run(t, reg, env, "/memory on")
	run(t, reg, env, "/perf fast")
	sel := env.Controller.Selection()
	assert.True(t, sel.WebSearchEnabled)
	assert.True(t, sel.MemoryEnabled)
	assert.Equal(t, "fast", sel.PerformanceLevel)

	_, err := reg.Execute(context.Background(), env, "/perf turbo")
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = reg.Execute(context.Background(), env, "/kb kb_docs")
	assert.ErrorIs(t, err, model.ErrValidation, "StepFun takes no knowledge base")

	res = run(t, reg, env, "/pipeline KnowledgeQA")
	assert.Equal(t, ActionRedraw, res.Action)
	assert.False(t, env.Controller.Selection().WebSearchEnabled)

	res = run(t, reg, env, "/status")
	assert.Contains(t, res.Output, "KnowledgeQA")
}

func TestKnowledgeBaseAndFiles(t *testing.T) {
	reg, env := newEnv(t)
	run(t, reg, env, "/p KnowledgeQA")

	_, err := reg.Execute(context.Background(), env, "/files")
	assert.ErrorIs(t, err, model.ErrValidation)

	res := run(t, reg, env, "/kb")
	assert.Contains(t, res.Output, "kb_docs")

	run(t, reg, env, "/kb kb_docs")
	res = run(t, reg, env, "/files")
	assert.Contains(t, res.Output, "file_a")

	run(t, reg, env, "/files file_a file_b")
	assert.Equal(t, []string{"file_a", "file_b"}, env.Controller.Selection().SelectedFileIDs)

	res = run(t, reg, env, "/files")
	assert.Contains(t, res.Output, "* file_a")

	run(t, reg, env, "/kb off")
	sel := env.Controller.Selection()
	assert.Empty(t, sel.KnowledgeBaseID)
	assert.Empty(t, sel.SelectedFileIDs)

	run(t, reg, env, "/kb refresh")
}

func TestAttachAndDetach(t *testing.T) {
	reg, env := newEnv(t)
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b b.md")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0600))
	require.NoError(t, os.WriteFile(b, []byte("beta"), 0600))

	res := run(t, reg, env, `/attach `+a+` "`+b+`"`)
	assert.Contains(t, res.Output, "a.txt")
	assert.Equal(t, 2, env.Controller.Uploads().Len())

	res = run(t, reg, env, "/uploads")
	assert.Contains(t, res.Output, "b b.md")
	assert.Contains(t, res.Output, "pending")

	run(t, reg, env, "/detach 1")
	assert.Equal(t, 1, env.Controller.Uploads().Len())

	_, err := reg.Execute(context.Background(), env, "/detach 9")
	var nf *model.NotFoundError
	assert.ErrorAs(t, err, &nf)

	run(t, reg, env, "/detach all")
	assert.Zero(t, env.Controller.Uploads().Len())

	_, err = reg.Execute(context.Background(), env, "/attach "+filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}

func TestConversationCommands(t *testing.T) {
	reg, env := newEnv(t)
	store := env.Controller.Store()
	_, err := store.AppendUserMessage("hello", nil)
	require.NoError(t, err)

	assert.Contains(t, run(t, reg, env, "/list").Output, "No saved")

	res := run(t, reg, env, `/save "first chat"`)
	assert.Contains(t, res.Output, "first chat")

	res = run(t, reg, env, "/list")
	assert.Contains(t, res.Output, " 1. first chat")

	run(t, reg, env, "/clear")
	assert.Zero(t, store.Len())

	res = run(t, reg, env, "/load 1")
	assert.Equal(t, ActionRedraw, res.Action)
	assert.Equal(t, 1, store.Len())

	run(t, reg, env, "/delete 1")
	assert.Empty(t, env.Controller.Conversations())

	_, err = reg.Execute(context.Background(), env, "/load 1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSystemAndExport(t *testing.T) {
	reg, env := newEnv(t)

	assert.Contains(t, run(t, reg, env, "/system").Output, "No system prompt")
	run(t, reg, env, `/system "answer in French"`)
	assert.Equal(t, "answer in French", env.Controller.SystemPrompt())
	run(t, reg, env, "/system clear")
	assert.Empty(t, env.Controller.SystemPrompt())

	_, err := env.Controller.Store().AppendUserMessage("export me", nil)
	require.NoError(t, err)

	res := run(t, reg, env, "/export")
	want := filepath.Join(env.ExportDir, "rigchat-20250301-093000.md")
	assert.Contains(t, res.Output, want)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(data), "export me")

	custom := filepath.Join(t.TempDir(), "out.md")
	run(t, reg, env, "/export "+custom)
	assert.FileExists(t, custom)
}

func TestResolveConversation(t *testing.T) {
	convs := []model.Conversation{
		{ID: "conv_abc", Name: "alpha"},
		{ID: "conv_abd", Name: "beta"},
	}

	c, err := ResolveConversation(convs, "2")
	require.NoError(t, err)
	assert.Equal(t, "beta", c.Name)

	c, err = ResolveConversation(convs, "alpha")
	require.NoError(t, err)
	assert.Equal(t, "conv_abc", c.ID)

	_, err = ResolveConversation(convs, "conv_ab")
	assert.ErrorIs(t, err, model.ErrValidation)

	c, err = ResolveConversation(convs, "conv_abd")
	require.NoError(t, err)
	assert.Equal(t, "beta", c.Name)

	_, err = ResolveConversation(convs, "3")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
