// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/controller"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// notificationMsg carries one controller notification into Update.
type notificationMsg controller.Notification

// notificationsClosedMsg is sent once the controller channel is closed.
type notificationsClosedMsg struct{}

// frameMsg asks for a redraw that the throttle deferred.
type frameMsg struct{}

// commandResultMsg is the outcome of a slash command run off the UI loop.
type commandResultMsg struct {
	input  string
	result commands.Result
	err    error
}

// listen waits for the next controller notification.
func listen(ch <-chan controller.Notification) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return notificationsClosedMsg{}
		}
		return notificationMsg(n)
	}
}
