// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/session"
)

// Update handles one message. Session calls that notify observers (Stop,
// Reset, Send) always run inside a tea.Cmd: the notification is delivered
// through Program.Send, which would block if made from Update itself.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.ready = true
		m.renderTranscript(true)

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
		before := m.input.Value()
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
		if before == "" && m.input.Value() != "" && m.opts.Warmer != nil {
			m.opts.Warmer.Poke()
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)

	case StateChangedMsg:
		follow := m.viewport.AtBottom()
		m.refreshState()
		m.renderTranscript(follow)

	case ThreadsChangedMsg:
		m.refreshThreads()

	case NoticeMsg:
		cmds = append(cmds, m.setNotice(msg.Notice.Message, true))
		m.logger.Warn("notice", "kind", msg.Notice.Kind, "error", msg.Notice.Err)

	case SpeakingMsg:
		m.speaking = msg.Speaking

	case turnDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, session.ErrEmptyMessage) {
			cmds = append(cmds, m.setNotice(msg.err.Error(), true))
		}
		m.refreshState()
		m.renderTranscript(true)

	case commandDoneMsg:
		if msg.result.Quit {
			return m, tea.Quit
		}
		m.commandOut = msg.result.Output
		if msg.err != nil {
			cmds = append(cmds, m.setNotice(msg.err.Error(), true))
		}
		m.refreshState()
		m.refreshThreads()
		m.renderTranscript(true)

	case threadsLoadedMsg:
		if msg.err != nil {
			m.logger.Warn("load threads failed", "error", msg.err)
			cmds = append(cmds, m.setNotice("Couldn't load saved conversations.", true))
		}
		m.refreshThreads()

	case clearNoticeMsg:
		if msg.seq == m.noticeSeq {
			m.notice, m.noticeError = "", false
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleKey handles bindings that are not text input.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	sess := m.opts.Session

	switch {
	case key.Matches(msg, m.keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, m.keys.Interrupt):
		if !m.state.Loading && !m.speaking {
			return tea.Quit, true
		}
		return func() tea.Msg { sess.Stop(); return nil }, true

	case key.Matches(msg, m.keys.Stop):
		return func() tea.Msg { sess.Stop(); return nil }, true

	case key.Matches(msg, m.keys.New):
		m.commandOut = ""
		return func() tea.Msg { sess.Reset(); return nil }, true

	case key.Matches(msg, m.keys.Sidebar):
		if m.opts.Index != nil {
			m.showSidebar = !m.showSidebar
			m.layout()
			m.renderTranscript(false)
		}
		return nil, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return nil, true

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return nil, true

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return nil, true

	case key.Matches(msg, m.keys.Submit):
		return m.submit(), true
	}
	return nil, false
}

// submit sends the input as a turn or runs it as a slash command.
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	if commands.IsCommand(text) {
		return m.runCommand(text)
	}
	m.commandOut = ""
	return m.sendTurn(text)
}

// setNotice shows text until noticeTTL passes or a newer notice replaces it.
func (m *Model) setNotice(text string, isError bool) tea.Cmd {
	m.noticeSeq++
	m.notice, m.noticeError = text, isError
	return clearNoticeAfter(m.noticeSeq)
}

func (m *Model) refreshState() {
	m.state = m.opts.Session.Snapshot()
}

func (m *Model) refreshThreads() {
	if m.opts.Index != nil {
		m.threads = m.opts.Index.Threads()
	}
}
