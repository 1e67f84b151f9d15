// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigchat/internal/commands"
	"github.com/jeranaias/rigchat/internal/controller"
	"github.com/jeranaias/rigchat/internal/render"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	inputHeight = 3
	// maxPanelLines caps command output shown above the input.
	maxPanelLines = 12
	// maxTrayLines caps the attachment tray.
	maxTrayLines = 4
	minViewport  = 3
)

// =============================================================================
// MODEL
// =============================================================================

// Options configures the chat screen.
type Options struct {
	Theme *styles.Theme
	// MaxFPS caps redraws while a response streams.
	MaxFPS int
	// Plain disables colors and Markdown styling.
	Plain bool
	// HideMetadata drops the model/token footer under replies.
	HideMetadata bool
	// ExportDir is where /export writes by default.
	ExportDir string
	Logger    *slog.Logger
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctrl      *controller.Controller
	registry  *commands.Registry
	completer *commands.Completer
	compState *commands.CompletionState
	env       *commands.Env
	logger    *slog.Logger

	theme    *styles.Theme
	renderer *render.Renderer
	throttle *render.Throttle
	keys     KeyMap

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model

	width  int
	height int
	ready  bool

	loading        bool
	frameScheduled bool

	// panel holds the output of the last command.
	panel     string
	status    string
	statusErr bool
	showHelp  bool
}

// New creates the chat screen over ctrl.
func New(ctrl *controller.Controller, opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		if opts.Plain {
			theme = styles.NewPlainTheme()
		} else {
			theme = styles.NewTheme()
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exportDir := opts.ExportDir
	if exportDir == "" {
		exportDir, _ = os.Getwd()
	}

	registry := commands.NewRegistry()
	completer := commands.NewCompleter(registry)
	completer.Bind(ctrl)

	ta := textarea.New()
	ta.Placeholder = "Message, or /help"
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetKeys("alt+enter", "ctrl+j")
	ta.Focus()

	renderer := render.NewRenderer(80, opts.Plain || theme.Plain)
	renderer.SetShowMetadata(!opts.HideMetadata)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	if !theme.Plain {
		sp.Style = theme.Badge
	}

	return Model{
		ctrl:      ctrl,
		registry:  registry,
		completer: completer,
		compState: commands.NewCompletionState(),
		env: &commands.Env{
			Controller: ctrl,
			Registry:   registry,
			ExportDir:  exportDir,
		},
		logger:   logger,
		theme:    theme,
		renderer: renderer,
		throttle: render.NewThrottle(opts.MaxFPS),
		keys:     DefaultKeyMap(),
		viewport: viewport.New(80, 20),
		input:    ta,
		spinner:  sp,
		width:    80,
		height:   24,
	}
}

// Init starts the notification listener, the cursor blink and the spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		listen(m.ctrl.Notifications()),
		m.spinner.Tick,
	)
}

// Input returns the current text in the input box.
func (m Model) Input() string {
	return m.input.Value()
}

// Status returns the status line and whether it reports an error.
func (m Model) Status() (string, bool) {
	return m.status, m.statusErr
}

// Panel returns the output of the last command.
func (m Model) Panel() string {
	return m.panel
}

// =============================================================================
// LAYOUT
// =============================================================================

// layout sizes the viewport to whatever the other regions leave over.
func (m *Model) layout() {
	m.theme.SetSize(m.width, m.height)
	m.input.SetWidth(max(m.width-4, 10))

	used := 1 + 1 + inputHeight + 2 // header, status, input with border
	used += m.trayHeight()
	used += m.panelHeight()

	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-used, minViewport)

	if m.renderer.Width() != m.width-2 {
		m.renderer.SetWidth(m.width - 2)
	}
}

func (m Model) trayHeight() int {
	n := m.ctrl.Uploads().Len()
	if n == 0 {
		return 0
	}
	return min(n, maxTrayLines)
}

func (m Model) panelHeight() int {
	if m.panel == "" {
		return 0
	}
	return min(strings.Count(m.panel, "\n")+1, maxPanelLines)
}

// refresh redraws the conversation into the viewport, following the
// bottom if the reader was already there.
func (m *Model) refresh() {
	follow := m.viewport.AtBottom() || !m.ready
	msgs, loading := m.ctrl.Visible()
	m.loading = loading

	content := m.renderer.Messages(msgs)
	if loading && len(msgs) > 0 && msgs[len(msgs)-1].IsBot() {
		content += m.theme.Cursor.Render(" ▍")
	}
	if len(msgs) == 0 {
		content = m.emptyState()
	}
	m.viewport.SetContent(content)
	if follow {
		m.viewport.GotoBottom()
	}
	m.ready = true
}

func (m Model) emptyState() string {
	sel := m.ctrl.Selection()
	return "Start a conversation with " + sel.PipelineID + ".\nType /help for commands, /attach <file> to add files."
}
