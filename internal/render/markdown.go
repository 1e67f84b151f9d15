// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigchat/internal/model"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"})

	botLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"})

	systemLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"})

	footerStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"})

	attachmentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"})
)

// =============================================================================
// RENDERER
// =============================================================================

// Renderer draws visible messages for a terminal. Bot content goes through
// glamour; user content is printed as typed.
type Renderer struct {
	mu       sync.Mutex
	width    int
	plain    bool
	metadata bool
	md       *glamour.TermRenderer
}

// NewRenderer creates a renderer wrapping at width columns. With plain set,
// no ANSI styling is emitted.
func NewRenderer(width int, plain bool) *Renderer {
	r := &Renderer{plain: plain, metadata: true}
	r.SetWidth(width)
	return r
}

// SetShowMetadata turns the model/token footer under bot messages on or off.
func (r *Renderer) SetShowMetadata(show bool) {
	r.mu.Lock()
	r.metadata = show
	r.mu.Unlock()
}

// SetWidth rebuilds the markdown renderer for a new terminal width.
func (r *Renderer) SetWidth(width int) {
	if width < 20 {
		width = 80
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.md != nil && width == r.width {
		return
	}
	r.width = width

	style := glamour.WithAutoStyle()
	if r.plain {
		style = glamour.WithStandardStyle("notty")
	}
	md, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width-4))
	if err != nil {
		// Fall back to raw text.
		md = nil
	}
	r.md = md
}

// Width returns the current wrap width.
func (r *Renderer) Width() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width
}

// Message renders one message with its label, attachments and footer.
func (r *Renderer) Message(m model.Message) string {
	var b strings.Builder
	b.WriteString(r.label(m.Sender))
	b.WriteString("\n")

	switch {
	case m.IsBot():
		b.WriteString(r.markdown(m.Content))
	default:
		b.WriteString(m.Content)
		b.WriteString("\n")
	}

	for _, a := range m.Attachments {
		line := fmt.Sprintf("  [%s] %s", a.Kind, a.DisplayName)
		if !r.plain {
			line = attachmentStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	r.mu.Lock()
	showMeta := r.metadata
	r.mu.Unlock()
	if showMeta && m.Metadata != nil {
		if s := m.Metadata.Summary(); s != "" {
			if !r.plain {
				s = footerStyle.Render(s)
			}
			b.WriteString(s)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Messages renders a visible list, one blank line between messages.
func (r *Renderer) Messages(msgs []model.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, strings.TrimRight(r.Message(m), "\n"))
	}
	return strings.Join(parts, "\n\n")
}

func (r *Renderer) label(s model.Sender) string {
	name := s.DisplayName()
	if r.plain {
		return name + ":"
	}
	switch s {
	case model.SenderUser:
		return userLabelStyle.Render(name)
	case model.SenderBot:
		return botLabelStyle.Render(name)
	default:
		return systemLabelStyle.Render(name)
	}
}

func (r *Renderer) markdown(content string) string {
	r.mu.Lock()
	md := r.md
	r.mu.Unlock()

	if md == nil {
		return content + "\n"
	}
	out, err := md.Render(content)
	if err != nil {
		return content + "\n"
	}
	return strings.TrimLeft(out, "\n")
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown writes a conversation as a Markdown document.
func ExportMarkdown(title string, msgs []model.Message, at time.Time) string {
	var b strings.Builder
	if title == "" {
		title = "Conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_Exported %s_\n\n", at.Format(time.RFC3339))

	for _, m := range msgs {
		fmt.Fprintf(&b, "## %s\n\n", m.Sender.DisplayName())
		if m.Content != "" {
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
		for _, a := range m.Attachments {
			ref := a.RemotePath
			if ref == "" {
				ref = a.LocalRef
			}
			fmt.Fprintf(&b, "- %s (%s): `%s`\n", a.DisplayName, a.Kind, ref)
		}
		if len(m.Attachments) > 0 {
			b.WriteString("\n")
		}
		if m.Metadata != nil {
			if s := m.Metadata.Summary(); s != "" {
				fmt.Fprintf(&b, "> %s\n\n", s)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
