// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/rigchat/internal/ui/chat"
	"github.com/jeranaias/rigchat/internal/ui/styles"
)

// RunTUI starts the full-screen chat.
func RunTUI(ctx context.Context, args Args) error {
	if err := RequiresTTY("run the full-screen chat"); err != nil {
		return fmt.Errorf("%w (try `rigchat chat` or `rigchat ask`)", err)
	}

	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	// The screen belongs to bubbletea, so logs go to a file.
	app, err := NewApp(ctx, cfg, AppOptions{
		Pipeline:  args.Pipeline,
		Ephemeral: args.Ephemeral,
	})
	if err != nil {
		return err
	}
	defer app.Close()

	theme := styles.NewTheme()
	if cfg.UI.Plain {
		theme = styles.NewPlainTheme()
	}

	m := chat.New(app.Controller, chat.Options{
		Theme:        theme,
		MaxFPS:       cfg.Stream.MaxFPS,
		Plain:        cfg.UI.Plain,
		HideMetadata: !cfg.UI.ShowMetadata,
		Logger:       app.Logger,
	})
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat screen: %w", err)
	}
	return nil
}
