// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"
	"testing"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestPlainTheme_RendersTextUnchanged(t *testing.T) {
	theme := NewPlainTheme()
	assert.True(t, theme.Plain)
	assert.Equal(t, termenv.Ascii, theme.ColorProfile)
	assert.Equal(t, "hello", theme.StatusBar.Render("hello"))
	assert.Equal(t, "hello", theme.TaskFailed.Render("hello"))
}

func TestLayoutMode(t *testing.T) {
	theme := NewPlainTheme()
	tests := []struct {
		width int
		want  LayoutMode
	}{
		{40, LayoutNarrow},
		{59, LayoutNarrow},
		{60, LayoutMedium},
		{99, LayoutMedium},
		{100, LayoutWide},
	}
	for _, tt := range tests {
		theme.SetSize(tt.width, 24)
		assert.Equal(t, tt.want, theme.GetLayoutMode(), "width %d", tt.width)
	}
}

func TestRenderHelpers_KeepMessageText(t *testing.T) {
	assert.True(t, strings.Contains(RenderError("boom"), "boom"))
	assert.True(t, strings.Contains(RenderSuccess("saved"), "saved"))
	assert.True(t, strings.Contains(RenderWarning("careful"), "careful"))
	assert.True(t, strings.Contains(RenderInfo("note"), "note"))
	assert.Contains(t, RenderError("x"), IndicatorFailed)
}
