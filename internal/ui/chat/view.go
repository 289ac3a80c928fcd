// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/companion/internal/session"
	"github.com/jeranaias/companion/internal/ui/components"
	"github.com/jeranaias/companion/internal/ui/styles"
	"github.com/jeranaias/companion/internal/util"
)

const (
	headerHeight = 1
	statusHeight = 1
	inputHeight  = 3

	// minSidebarWidth is the narrowest terminal that still shows the sidebar.
	minSidebarWidth = 80
)

// View renders the whole screen.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	body := m.viewport.View()
	if m.sidebarVisible() {
		side := components.Sidebar{
			Threads:  m.threads,
			ActiveID: m.state.ThreadID,
			Height:   m.viewport.Height,
		}.View(m.theme)
		body = lipgloss.JoinHorizontal(lipgloss.Top, side, " ", body)
	}

	status := components.StatusBar{
		Width:          m.width,
		Thinking:       m.state.Thinking,
		ThinkingStatus: m.state.ThinkingStatus,
		Spinner:        m.spinner.View(),
		Provider:       m.state.Provider,
		Model:          m.state.Model,
		Speaking:       m.speaking,
		AutoSpeak:      m.autoSpeak,
		Notice:         m.notice,
		NoticeIsError:  m.noticeError,
	}.View(m.theme)

	input := m.theme.InputBox.Width(max(m.width-2, 1)).Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, m.header(), body, status, input)
}

func (m Model) header() string {
	title := m.state.Title
	if title == "" {
		title = "New conversation"
	}
	if m.state.Pinned {
		title = styles.StatusIndicators.Pinned + " " + title
	}
	left := m.theme.HeaderTitle.Render("companion") + "  " + util.TruncateWidth(title, max(m.width-30, 10))

	var right string
	if m.state.Loading {
		right = m.theme.HeaderMeta.Render("answering")
	}
	gap := max(m.width-2-lipgloss.Width(left)-lipgloss.Width(right), 1)
	return m.theme.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func (m Model) sidebarVisible() bool {
	return m.showSidebar && m.width >= minSidebarWidth
}

// layout sizes the viewport and input to the terminal.
func (m *Model) layout() {
	w := m.width
	if m.sidebarVisible() {
		w -= components.SidebarWidth + 1
	}
	h := max(m.height-headerHeight-statusHeight-inputHeight, 1)

	if !m.ready {
		m.viewport = viewport.New(w, h)
	} else {
		m.viewport.Width, m.viewport.Height = w, h
	}
	m.input.Width = max(m.width-8, 10)
}

// renderTranscript refreshes the viewport content, scrolling to the newest
// line when follow is set.
func (m *Model) renderTranscript(follow bool) {
	if m.viewport.Width == 0 {
		return
	}
	m.viewport.SetContent(RenderTranscript(m.theme, m.state, m.viewport.Width, m.opts.Markdown, m.commandOut))
	if follow {
		m.viewport.GotoBottom()
	}
}

// RenderTranscript renders every message of st followed by the last command
// output. The message being streamed shows a cursor and is never rendered as
// markdown, so half-written markup does not flicker.
func RenderTranscript(theme *styles.Theme, st session.State, width int, md *components.Markdown, commandOut string) string {
	var blocks []string

	if len(st.Messages) == 0 {
		hint := "Say hello to start a conversation. Type /help for commands."
		if st.ThreadID != "" {
			hint = "Continuing this conversation. Earlier messages are kept on the server."
		}
		blocks = append(blocks, theme.Meta.Render(hint))
	}

	for _, msg := range st.Messages {
		blocks = append(blocks, components.MessageView{
			Message:   msg,
			Width:     width,
			Streaming: msg.ID == st.StreamingID,
			Markdown:  md,
		}.View(theme))
	}

	if st.Thinking && st.StreamingID == "" {
		status := st.ThinkingStatus
		if status == "" {
			status = "Thinking..."
		}
		blocks = append(blocks, theme.Thinking.Render(status))
	}

	if commandOut != "" {
		blocks = append(blocks, theme.CommandOut.Render(commandOut))
	}
	return strings.Join(blocks, "\n\n")
}
