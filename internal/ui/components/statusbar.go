// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/companion/internal/ui/styles"
	"github.com/jeranaias/companion/internal/util"
)

// StatusBar is the line between the transcript and the input.
type StatusBar struct {
	Width int

	// Thinking shows Spinner and ThinkingStatus while a turn is in flight.
	Thinking       bool
	ThinkingStatus string
	Spinner        string

	Provider  string
	Model     string
	Speaking  bool
	AutoSpeak bool

	// Notice is a transient message; NoticeIsError styles it as a failure.
	Notice        string
	NoticeIsError bool
}

// View renders the status bar to exactly Width columns.
func (s StatusBar) View(theme *styles.Theme) string {
	text, style := s.left(theme)

	var right []string
	if s.Provider != "" {
		right = append(right, providerLabel(s.Provider, s.Model))
	}
	if s.AutoSpeak {
		right = append(right, "voice on")
	}
	right = append(right, theme.ShortcutKey.Render("esc")+" "+theme.ShortcutDesc.Render("stop"))
	right = append(right, theme.ShortcutKey.Render("/help")+" "+theme.ShortcutDesc.Render("commands"))
	r := strings.Join(right, "  ")

	inner := max(s.Width-2, 0)
	gap := inner - util.StringWidth(text) - lipgloss.Width(r)
	if gap < 1 {
		// Drop the right side before truncating the left.
		r = ""
		text = util.TruncateWidth(text, inner)
		gap = max(inner-util.StringWidth(text), 0)
	}
	return theme.StatusBar.Width(s.Width).Render(style.Render(text) + strings.Repeat(" ", gap) + r)
}

// left is the unstyled left-hand text and the style it is shown in.
func (s StatusBar) left(theme *styles.Theme) (string, lipgloss.Style) {
	var text string
	style := theme.Thinking
	switch {
	case s.Notice != "" && s.NoticeIsError:
		text, style = styles.StatusIndicators.Error+" "+s.Notice, theme.NoticeError
	case s.Notice != "":
		text, style = styles.StatusIndicators.Warning+" "+s.Notice, theme.Notice
	case s.Thinking:
		status := s.ThinkingStatus
		if status == "" {
			status = "Thinking..."
		}
		text = strings.TrimSpace(s.Spinner + " " + status)
	}
	if s.Speaking {
		if text == "" {
			style = theme.Speaking
		}
		text = strings.TrimSpace(text + "  speaking")
	}
	return text, style
}
