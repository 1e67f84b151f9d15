// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/upload"
)

// commandTimeout bounds slash commands that reach the network.
const commandTimeout = 30 * time.Second

// =============================================================================
// UPDATE
// =============================================================================

// Update handles one message and returns the next model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		next, cmd := m.handleKey(msg)
		next.layout()
		return next, cmd

	case notificationMsg:
		cmd := m.handleNotification(controller.Notification(msg))
		m.layout()
		return m, tea.Batch(cmd, listen(m.ctrl.Notifications()))

	case notificationsClosedMsg:
		return m, nil

	case frameMsg:
		m.frameScheduled = false
		if m.throttle.Flush() {
			m.refresh()
		}
		return m, nil

	case commandResultMsg:
		cmd := m.handleCommandResult(msg)
		m.layout()
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if m.showHelp {
		// Any key closes the overlay.
		m.showHelp = false
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.ctrl.InFlight() > 0 {
			m.cancelTurns()
			return m, nil
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.compState.Visible {
			m.compState.Clear()
			return m, nil
		}
		if m.ctrl.InFlight() > 0 {
			m.cancelTurns()
			return m, nil
		}
		m.panel = ""
		return m, nil

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return m, nil

	case key.Matches(msg, m.keys.Complete):
		m.complete()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m.submit()
	}

	m.compState.Clear()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// complete cycles through completions for the current input.
func (m *Model) complete() {
	value := m.input.Value()
	if !m.compState.Visible || value != m.compState.OriginalInput {
		comps := m.completer.Complete(value, len(value))
		if len(comps) == 0 {
			return
		}
		m.compState.Update(value, comps)
	} else {
		m.compState.Next()
	}

	choice := m.compState.Accept()
	if choice == "" {
		return
	}
	base := m.compState.OriginalInput
	if i := strings.LastIndexByte(base, ' '); i >= 0 {
		base = base[:i+1]
	} else {
		base = ""
	}
	completed := base + choice
	if len(m.compState.Completions) == 1 && !strings.HasSuffix(choice, "/") {
		completed += " "
		m.compState.Clear()
	} else {
		// Keep the original so the next Tab cycles instead of re-querying.
		m.compState.OriginalInput = completed
	}
	m.input.SetValue(completed)
	m.input.CursorEnd()
}

// submit sends the input as a message or runs it as a command.
func (m Model) submit() (Model, tea.Cmd) {
	value := m.input.Value()
	m.compState.Clear()

	if commands.IsCommand(value) {
		m.input.Reset()
		m.panel = ""
		return m, m.runCommand(value)
	}

	if _, err := m.ctrl.Send(context.Background(), value); err != nil {
		// Validation failures leave the input alone so it can be fixed.
		m.setError(err)
		return m, nil
	}
	m.input.Reset()
	m.panel = ""
	m.setStatus("")
	m.viewport.GotoBottom()
	return m, m.spinner.Tick
}

// runCommand executes a slash command off the UI loop.
func (m Model) runCommand(input string) tea.Cmd {
	registry, env := m.registry, m.env
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		res, err := registry.Execute(ctx, env, input)
		return commandResultMsg{input: input, result: res, err: err}
	}
}

func (m *Model) handleCommandResult(msg commandResultMsg) tea.Cmd {
	if msg.err != nil {
		m.setError(msg.err)
		return nil
	}
	m.panel = strings.TrimRight(msg.result.Output, "\n")
	m.setStatus("")

	switch msg.result.Action {
	case commands.ActionQuit:
		return tea.Quit
	case commands.ActionCancel:
		m.cancelTurns()
	case commands.ActionRedraw:
		m.refresh()
	}
	return nil
}

func (m *Model) cancelTurns() {
	if n := m.ctrl.CancelAll(); n > 0 {
		m.setStatus("Stopping response")
	}
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (m *Model) handleNotification(n controller.Notification) tea.Cmd {
	switch n.Kind {
	case controller.MessagesChanged:
		if m.throttle.Allow() {
			m.refresh()
			return nil
		}
		return m.scheduleFrame()

	case controller.LoadingChanged:
		wasLoading := m.loading
		m.loading = n.Loading
		if !n.Loading {
			m.throttle.Flush()
			m.refresh()
			return nil
		}
		if !wasLoading {
			return m.spinner.Tick
		}

	case controller.UploadProgress:
		if n.Upload.Status == upload.StatusFailed {
			m.setError(n.Err)
		}

	case controller.TurnFinished:
		m.throttle.Flush()
		m.refresh()
		if n.Err == nil {
			m.setStatus("")
		}

	case controller.Error:
		m.setError(n.Err)
	}
	return nil
}

// scheduleFrame arranges one deferred redraw for changes the throttle
// skipped, so the last delta of a burst is never left undrawn.
func (m *Model) scheduleFrame() tea.Cmd {
	if m.frameScheduled {
		return nil
	}
	m.frameScheduled = true
	return tea.Tick(m.throttle.Interval(), func(time.Time) tea.Msg {
		return frameMsg{}
	})
}

// =============================================================================
// STATUS
// =============================================================================

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(err error) {
	if err == nil {
		return
	}
	m.status = describeError(err)
	m.statusErr = true
}

// describeError turns a core error into one status line.
func describeError(err error) string {
	var (
		serr *model.StreamError
		uerr *model.UploadError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "Response stopped"
	case errors.As(err, &serr):
		return "Response interrupted: " + serr.Error()
	case errors.As(err, &uerr):
		return fmt.Sprintf("Upload of %s failed: %v", uerr.FileName, uerr.Err)
	default:
		return err.Error()
	}
}
