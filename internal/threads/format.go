// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package threads

import (
	"strconv"
	"strings"

	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/util"
)

// titleColumnWidth is the display width of the title column.
const titleColumnWidth = 40

// FormatThreadList renders threads as a numbered table for the terminal.
// The numbers are 1-based positions in list.
func FormatThreadList(list []model.Thread) string {
	if len(list) == 0 {
		return "No threads found."
	}

	var sb strings.Builder
	sb.WriteString("Threads:\n")
	sb.WriteString(strings.Repeat("-", 96) + "\n")
	sb.WriteString(util.PadWidth("#", 4) + util.PadWidth("Title", titleColumnWidth) + " " +
		util.PadWidth("Updated", 16) + " " + util.PadWidth("Msgs", 5) + " ID\n")
	sb.WriteString(strings.Repeat("-", 96) + "\n")

	for i, t := range list {
		title := t.Title
		if t.Pinned {
			title = "* " + title
		}
		updated := ""
		if !t.UpdatedAt.IsZero() {
			updated = t.UpdatedAt.Local().Format("2006-01-02 15:04")
		}

		sb.WriteString(util.PadWidth(strconv.Itoa(i+1), 4) +
			util.PadWidth(title, titleColumnWidth) + " " +
			util.PadWidth(updated, 16) + " " +
			util.PadWidth(strconv.Itoa(t.MessageCount), 5) + " " +
			t.ID + "\n")
	}
	return sb.String()
}

// TruncateTitle cuts title to width terminal cells, adding "..." if cut.
// Wide runes (CJK, emoji) count as two cells.
func TruncateTitle(title string, width int) string {
	return util.TruncateWidth(title, width)
}
