// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigchat/internal/config"
	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/server"
	"github.com/jeranaias/rigchat/internal/storage"
	"github.com/jeranaias/rigchat/internal/upload"
)

func newTestModel(t *testing.T) (Model, *controller.Controller) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	quiet := slog.New(slog.DiscardHandler)

	srv := server.New(server.Options{Logger: quiet}).
		WithResponder(func(string, server.ChatRequest) []string {
			return []string{"Hi", " there"}
		})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := pipeline.NewClient(ts.URL).WithMaxRetries(0).WithLogger(quiet)
	ctrl, err := controller.New(controller.Deps{
		Store:    storage.NewConversationStore(storage.NewMemoryPersister(), storage.WithStoreLogger(quiet)),
		Uploads:  upload.NewCoordinator(client, upload.WithLogger(quiet)),
		Client:   client,
		Registry: pipeline.DefaultRegistry(),
		Config:   config.Default(),
		Logger:   quiet,
	})
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })

	m := New(ctrl, Options{Plain: true, ExportDir: t.TempDir(), Logger: quiet})
	m = step(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, ctrl
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func press(t *testing.T, m Model, k tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: k})
	return next.(Model), cmd
}

// runLine types line, presses Enter and feeds the command result back in.
func runLine(t *testing.T, m Model, line string) (Model, tea.Cmd) {
	t.Helper()
	m.input.SetValue(line)
	m, cmd := press(t, m, tea.KeyEnter)
	require.NotNil(t, cmd, line)
	msg := cmd()
	res, ok := msg.(commandResultMsg)
	require.True(t, ok, "expected a command result, got %T", msg)
	next, cmd := m.Update(res)
	return next.(Model), cmd
}

func TestView_ShowsHeaderAndEmptyState(t *testing.T) {
	m, _ := newTestModel(t)

	view := m.View()
	assert.Contains(t, view, "rigchat")
	assert.Contains(t, view, "StepFun")
	assert.Contains(t, view, "Start a conversation")
	assert.Contains(t, view, "0 messages")
}

func TestTab_CompletesCommandName(t *testing.T) {
	m, _ := newTestModel(t)

	m.input.SetValue("/pip")
	m, _ = press(t, m, tea.KeyTab)
	assert.Equal(t, "/pipeline ", m.Input())
}

func TestSlashCommand_RunsThroughRegistry(t *testing.T) {
	m, ctrl := newTestModel(t)

	m, _ = runLine(t, m, "/pipeline Vision")
	assert.Equal(t, "Vision", ctrl.Selection().PipelineID)
	assert.Contains(t, m.Panel(), "Using pipeline Vision")
	assert.Empty(t, m.Input())
	assert.Contains(t, m.View(), "Vision")
}

func TestSlashCommand_ErrorGoesToStatus(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = runLine(t, m, "/pipeline Nope")
	status, isErr := m.Status()
	assert.True(t, isErr)
	assert.Contains(t, status, "Nope")
}

func TestQuitCommand_ReturnsQuit(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := runLine(t, m, "/quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestCtrlC_QuitsWhenIdle(t *testing.T) {
	m, _ := newTestModel(t)

	_, cmd := press(t, m, tea.KeyCtrlC)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestSubmit_BlankInputReportsValidation(t *testing.T) {
	m, ctrl := newTestModel(t)

	m, _ = press(t, m, tea.KeyEnter)
	_, isErr := m.Status()
	assert.True(t, isErr)
	assert.Zero(t, ctrl.Store().Len())
}

func TestSubmit_StreamsReplyIntoView(t *testing.T) {
	m, ctrl := newTestModel(t)

	m.input.SetValue("Hello")
	m, _ = press(t, m, tea.KeyEnter)
	assert.Empty(t, m.Input())

	require.Eventually(t, func() bool {
		return ctrl.InFlight() == 0 && ctrl.Store().Len() == 2
	}, 5*time.Second, 10*time.Millisecond)

	m = step(t, m, notificationMsg(controller.Notification{Kind: controller.TurnFinished}))
	view := m.View()
	assert.Contains(t, view, "Hello")
	assert.Contains(t, view, "Hi there")
	_, isErr := m.Status()
	assert.False(t, isErr)
}

func TestAttach_ShowsTray(t *testing.T) {
	m, ctrl := newTestModel(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0600))

	m, _ = runLine(t, m, "/attach "+path)
	require.Equal(t, 1, ctrl.Uploads().Len())

	view := m.View()
	assert.Contains(t, view, "notes.txt")
	assert.Contains(t, view, "pending")
}

func TestHelpOverlay_ClosesOnAnyKey(t *testing.T) {
	m, _ := newTestModel(t)

	m, _ = press(t, m, tea.KeyF1)
	assert.Contains(t, m.View(), "Press any key to close")

	m, _ = press(t, m, tea.KeyEsc)
	assert.NotContains(t, m.View(), "Press any key to close")
}

func TestDescribeError(t *testing.T) {
	m, _ := newTestModel(t)
	m.setError(os.ErrNotExist)
	status, isErr := m.Status()
	assert.True(t, isErr)
	assert.Equal(t, os.ErrNotExist.Error(), status)
}
