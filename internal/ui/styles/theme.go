// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the chat screen.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile
	// Plain disables all styling.
	Plain bool

	Width  int
	Height int

	// Header
	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	Badge       lipgloss.Style

	// Conversation area
	Viewport lipgloss.Style
	Cursor   lipgloss.Style

	// Attachment tray
	Tray          lipgloss.Style
	TaskPending   lipgloss.Style
	TaskUploading lipgloss.Style
	TaskUploaded  lipgloss.Style
	TaskFailed    lipgloss.Style

	// Input
	InputContainer lipgloss.Style

	// Status bar
	StatusBar    lipgloss.Style
	StatusError  lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style

	// Overlays
	Help lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	colorProfile := termenv.ColorProfile()
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		HasTrueColor: colorProfile == termenv.TrueColor,
		ColorProfile: colorProfile,
	}
	t.initStyles()
	return t
}

// NewPlainTheme creates a theme that renders no ANSI styling.
func NewPlainTheme() *Theme {
	t := &Theme{Plain: true, ColorProfile: termenv.Ascii}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	if t.Plain {
		plain := lipgloss.NewStyle()
		t.Header, t.HeaderTitle, t.Badge = plain, plain, plain
		t.Viewport, t.Cursor = plain, plain
		t.Tray, t.TaskPending, t.TaskUploading, t.TaskUploaded, t.TaskFailed = plain, plain, plain, plain, plain
		t.InputContainer = plain
		t.StatusBar, t.StatusError, t.ShortcutKey, t.ShortcutDesc = plain, plain, plain, plain
		t.Help = plain
		return
	}

	t.Header = lipgloss.NewStyle().
		Foreground(TextPrimary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.HeaderTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(Cyan)

	t.Badge = lipgloss.NewStyle().
		Bold(true).
		Foreground(Purple)

	t.Viewport = lipgloss.NewStyle().Padding(0, 1)

	t.Cursor = lipgloss.NewStyle().
		Foreground(Purple).
		Blink(true)

	t.Tray = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 1)
	t.TaskPending = lipgloss.NewStyle().Foreground(TextMuted)
	t.TaskUploading = lipgloss.NewStyle().Foreground(Amber)
	t.TaskUploaded = lipgloss.NewStyle().Foreground(Emerald)
	t.TaskFailed = lipgloss.NewStyle().Foreground(Rose)

	t.InputContainer = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Background(SurfaceDim).
		Padding(0, 1)

	t.StatusError = lipgloss.NewStyle().
		Foreground(Rose).
		Background(SurfaceDim).
		Bold(true).
		Padding(0, 1)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.Help = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Purple).
		Padding(1, 2)
}

// SetSize updates the theme dimensions for responsive layouts.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// GetLayoutMode returns the current layout mode based on width.
func (t *Theme) GetLayoutMode() LayoutMode {
	if t.Width < 60 {
		return LayoutNarrow
	}
	if t.Width < 100 {
		return LayoutMedium
	}
	return LayoutWide
}

// LayoutMode represents the current responsive layout mode.
type LayoutMode int

const (
	LayoutNarrow LayoutMode = iota // < 60 columns
	LayoutMedium                   // 60-100 columns
	LayoutWide                     // > 100 columns
)
