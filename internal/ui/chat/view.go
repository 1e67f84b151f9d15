// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/pipeline"
	"github.com/jeranaias/rigchat/internal/upload"
	"github.com/jeranaias/rigchat/internal/ui/styles"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the whole screen.
func (m Model) View() string {
	if m.showHelp {
		return m.renderHelp()
	}

	parts := []string{
		m.renderHeader(),
		m.viewport.View(),
	}
	if m.panel != "" {
		parts = append(parts, m.renderPanel())
	}
	if tray := m.renderTray(); tray != "" {
		parts = append(parts, tray)
	}
	if m.compState.Visible {
		parts = append(parts, m.renderCompletions())
	}
	parts = append(parts,
		m.theme.InputContainer.Render(m.input.View()),
		m.renderStatus(),
	)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderHeader shows the title, the active pipeline and its toggles.
func (m Model) renderHeader() string {
	sel := m.ctrl.Selection()
	p, _ := m.ctrl.Registry().Get(sel.PipelineID)

	items := []string{
		m.theme.HeaderTitle.Render("rigchat"),
		m.theme.Badge.Render(cmp.Or(p.Name, sel.PipelineID)),
	}
	if p.Has(pipeline.ControlKnowledgeBase) {
		kb := sel.KnowledgeBaseID
		if kb == "" {
			kb = "none"
		}
		items = append(items, "kb:"+kb)
		if n := len(sel.SelectedFileIDs); n > 0 {
			items = append(items, fmt.Sprintf("files:%d", n))
		}
	}
	if p.Has(pipeline.ControlWebSearch) {
		items = append(items, toggle("web", sel.WebSearchEnabled))
	}
	if p.Has(pipeline.ControlMemory) {
		items = append(items, toggle("memory", sel.MemoryEnabled))
	}
	if sel.PerformanceLevel != "" {
		items = append(items, "perf:"+sel.PerformanceLevel)
	}
	if prompt := m.ctrl.SystemPrompt(); prompt != "" {
		items = append(items, "system:"+util.TruncateRunes(prompt, 20))
	}

	return m.theme.Header.Width(m.width).Render(strings.Join(items, "  "))
}

func toggle(name string, on bool) string {
	if on {
		return styles.IndicatorOn + " " + name
	}
	return styles.IndicatorOff + " " + name
}

func (m Model) renderPanel() string {
	lines := strings.Split(m.panel, "\n")
	if len(lines) > maxPanelLines {
		lines = append(lines[:maxPanelLines-1], fmt.Sprintf("... %d more lines", len(lines)-maxPanelLines+1))
	}
	return m.theme.Viewport.Render(strings.Join(lines, "\n"))
}

// renderTray lists staged files with their upload state.
func (m Model) renderTray() string {
	tasks := m.ctrl.Uploads().Tasks()
	if len(tasks) == 0 {
		return ""
	}

	lines := make([]string, 0, min(len(tasks), maxTrayLines))
	for i, t := range tasks {
		if i == maxTrayLines-1 && len(tasks) > maxTrayLines {
			lines = append(lines, fmt.Sprintf("  +%d more", len(tasks)-i))
			break
		}
		lines = append(lines, m.renderTask(t))
	}
	return m.theme.Tray.Render(strings.Join(lines, "\n"))
}

func (m Model) renderTask(t upload.TaskInfo) string {
	var (
		indicator string
		style     lipgloss.Style
		detail    string
	)
	switch t.Status {
	case upload.StatusUploading:
		indicator, style = styles.IndicatorUploading, m.theme.TaskUploading
		detail = fmt.Sprintf("%d%%", t.Progress)
	case upload.StatusUploaded:
		indicator, style = styles.IndicatorUploaded, m.theme.TaskUploaded
		detail = "ready"
	case upload.StatusFailed:
		indicator, style = styles.IndicatorFailed, m.theme.TaskFailed
		detail = "failed"
		if t.Err != nil {
			detail += ": " + util.TruncateRunes(t.Err.Error(), 40)
		}
	default:
		indicator, style = styles.IndicatorPending, m.theme.TaskPending
		detail = "pending"
	}
	return style.Render(fmt.Sprintf("%s %s [%s] %s", indicator, t.DisplayName, t.Kind, detail))
}

func (m Model) renderCompletions() string {
	var b strings.Builder
	for i, c := range m.compState.Completions {
		if i >= 6 {
			fmt.Fprintf(&b, "  ... %d more", len(m.compState.Completions)-i)
			break
		}
		marker := "  "
		if i == m.compState.Selected {
			marker = "> "
		}
		line := marker + c.Display
		if c.Description != "" {
			line += "  " + m.theme.ShortcutDesc.Render(c.Description)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return m.theme.Tray.Render(strings.TrimRight(b.String(), "\n"))
}

// renderStatus shows the last error or notice, the spinner while a reply
// is streaming, and the short key help.
func (m Model) renderStatus() string {
	if m.statusErr {
		return m.theme.StatusError.Width(m.width).Render(styles.IndicatorFailed + " " + m.status)
	}

	var left string
	switch {
	case m.loading:
		left = m.spinner.View() + " Responding"
		if m.status != "" {
			left += " | " + m.status
		}
	case m.status != "":
		left = m.status
	default:
		left = fmt.Sprintf("%d messages", m.ctrl.Store().Len())
	}

	help := make([]string, 0, 4)
	for _, b := range m.keys.ShortHelp() {
		help = append(help, m.theme.ShortcutKey.Render(b.Help().Key)+" "+m.theme.ShortcutDesc.Render(b.Help().Desc))
	}
	right := strings.Join(help, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		return m.theme.StatusBar.Width(m.width).Render(left)
	}
	return m.theme.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

// renderHelp draws the key bindings and the command list.
func (m Model) renderHelp() string {
	var b strings.Builder
	b.WriteString("Keys\n")
	for _, group := range m.keys.FullHelp() {
		for _, kb := range group {
			writeBinding(&b, kb)
		}
	}
	b.WriteString("\n")
	b.WriteString(commands.HelpText(m.registry))
	b.WriteString("\nPress any key to close.")
	return m.theme.Help.Render(b.String())
}

func writeBinding(b *strings.Builder, kb key.Binding) {
	fmt.Fprintf(b, "  %-8s %s\n", kb.Help().Key, kb.Help().Desc)
}
