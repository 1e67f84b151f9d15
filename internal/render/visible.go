// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render derives the displayed message list from the stored one.
//
// ComputeVisible is pure: it never mutates its input and returns the same
// output for the same (messages, loading) pair. Memo caches that output by
// store version, Markdown draws it for a terminal and Throttle caps how often
// it is redrawn while a response streams in.
package render

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigchat/internal/model"
)

// CursorMarker is appended to the streaming bot message while loading.
const CursorMarker = "_"

var (
	newlineRun        = regexp.MustCompile(`\n{2,}`)
	listMarkerOnly    = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s*$`)
	orderedMarkerOnly = regexp.MustCompile(`^\s*\d+[.)]\s*$`)
	orderedItem       = regexp.MustCompile(`^\s*\d+[.)]\s+\S`)
	listItem          = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+\S`)
)

// ComputeVisible returns the list to display for msgs:
//
//   - bot content has runs of blank lines collapsed to single newlines
//   - user content has bare list markers joined with their text and no
//     blank lines between ordered-list items
//   - consecutive blank bot messages collapse to one placeholder
//   - a trailing blank bot message is dropped unless loading
//   - while loading, the trailing bot message ends with CursorMarker
func ComputeVisible(msgs []model.Message, loading bool) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		c := m.Clone()
		switch c.Sender {
		case model.SenderBot:
			c.Content = NormalizeBot(c.Content)
			if c.IsBlank() && len(out) > 0 {
				prev := out[len(out)-1]
				if prev.IsBot() && prev.IsBlank() {
					continue
				}
			}
		case model.SenderUser:
			c.Content = NormalizeUser(c.Content)
		}
		out = append(out, c)
	}

	if n := len(out); n > 0 {
		last := &out[n-1]
		switch {
		case !loading && last.IsBot() && last.IsBlank():
			out = out[:n-1]
		case loading && last.IsBot():
			last.Content += CursorMarker
		}
	}
	return out
}

// NormalizeBot collapses runs of newlines in bot content.
func NormalizeBot(s string) string {
	s = norm.NFC.String(strings.ReplaceAll(s, "\r\n", "\n"))
	return newlineRun.ReplaceAllString(s, "\n")
}

// NormalizeUser joins bare list markers with the text that follows them and
// removes blank lines between ordered-list items.
func NormalizeUser(s string) string {
	s = norm.NFC.String(strings.ReplaceAll(s, "\r\n", "\n"))
	if !strings.Contains(s, "\n") {
		return s
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if listMarkerOnly.MatchString(line) {
			if j := nextNonBlank(lines, i+1); j >= 0 && !isListLine(lines[j]) {
				line = strings.TrimRight(line, " \t") + " " + strings.TrimLeft(lines[j], " \t")
				i = j
			}
		}

		if strings.TrimSpace(line) == "" && len(out) > 0 && orderedItem.MatchString(out[len(out)-1]) {
			if j := nextNonBlank(lines, i+1); j >= 0 &&
				(orderedItem.MatchString(lines[j]) || orderedMarkerOnly.MatchString(lines[j])) {
				continue
			}
		}

		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isListLine(line string) bool {
	return listMarkerOnly.MatchString(line) || listItem.MatchString(line)
}

func nextNonBlank(lines []string, from int) int {
	for j := from; j < len(lines); j++ {
		if strings.TrimSpace(lines[j]) != "" {
			return j
		}
	}
	return -1
}
