// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"fmt"
	"strings"

	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/ui/styles"
	"github.com/jeranaias/companion/internal/util"
)

// SidebarWidth is the sidebar's column count including its border.
const SidebarWidth = 30

// Sidebar renders the thread list.
type Sidebar struct {
	Threads []model.Thread
	// ActiveID marks the conversation currently attached.
	ActiveID string
	Height   int
}

// View renders at most Height rows; the active thread is kept visible.
func (s Sidebar) View(theme *styles.Theme) string {
	inner := SidebarWidth - 2
	rows := []string{theme.SidebarTitle.Render(util.PadWidth("Conversations", inner))}

	if len(s.Threads) == 0 {
		rows = append(rows, theme.Meta.Render(util.PadWidth("none yet", inner)))
	}

	list := s.visible(max(s.Height-1, 1))
	for _, e := range list {
		rows = append(rows, s.row(theme, e.index, e.thread, inner))
	}

	for len(rows) < s.Height {
		rows = append(rows, strings.Repeat(" ", inner))
	}
	return theme.Sidebar.Render(strings.Join(rows, "\n"))
}

type sidebarEntry struct {
	index  int
	thread model.Thread
}

// visible returns a window of at most n threads containing the active one.
func (s Sidebar) visible(n int) []sidebarEntry {
	start := 0
	for i, t := range s.Threads {
		if t.ID == s.ActiveID && i >= n {
			start = i - n + 1
		}
	}
	end := min(start+n, len(s.Threads))

	out := make([]sidebarEntry, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, sidebarEntry{index: i + 1, thread: s.Threads[i]})
	}
	return out
}

func (s Sidebar) row(theme *styles.Theme, n int, t model.Thread, width int) string {
	marker := " "
	if t.Pinned {
		marker = styles.StatusIndicators.Pinned
	}
	title := t.Title
	if title == "" {
		title = "Untitled"
	}
	text := util.PadWidth(fmt.Sprintf("%s%2d %s", marker, n, title), width)

	switch {
	case t.ID == s.ActiveID:
		return theme.SidebarSelected.Render(text)
	case t.IsPending():
		return theme.SidebarPending.Render(text)
	case t.Pinned:
		return theme.SidebarPinned.Render(text)
	default:
		return theme.SidebarItem.Render(text)
	}
}
