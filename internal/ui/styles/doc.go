// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the rigchat TUI.

# Colors (colors.go)

A small accent palette, each an AdaptiveColor so light and dark terminals
both read well:

  - Purple - bot labels and the pipeline badge
  - Cyan - brand, user labels, commands
  - Emerald - uploaded attachments, enabled toggles
  - Amber - uploads in flight, warnings
  - Rose - errors and failed uploads

Every status also carries a symbol (IndicatorPending, IndicatorFailed, ...)
so state never depends on color alone.

# Theme (theme.go)

NewTheme detects the color profile with termenv. NewPlainTheme disables
styling entirely for dumb terminals and --plain.

	theme := styles.NewTheme()
	theme.SetSize(width, height)
	header := theme.Header.Width(width).Render(title)
*/
package styles
