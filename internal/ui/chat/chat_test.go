// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/devserver"
	"github.com/jeranaias/companion/internal/gateway"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/session"
	"github.com/jeranaias/companion/internal/threads"
	"github.com/jeranaias/companion/internal/ui/styles"
)

// =============================================================================
// HELPERS
// =============================================================================

type countingPoker struct{ n atomic.Int32 }

func (p *countingPoker) Poke() { p.n.Add(1) }

func newTestModel(t *testing.T) (Model, *countingPoker) {
	t.Helper()
	ctx := context.Background()

	db, err := devserver.OpenStore(ctx, filepath.Join(t.TempDir(), "threads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ts := httptest.NewServer(devserver.New(db, devserver.Options{WordDelay: -1}).Handler())
	t.Cleanup(ts.Close)

	api := ts.URL + devserver.APIPrefix
	store := threads.NewStore(api, threads.StoreOptions{})
	idx := threads.NewIndex()
	sess := session.New(session.Options{
		Gateway: gateway.New(gateway.Endpoints{ChatURL: api + "/chat"}, gateway.Options{RetryDelay: -1}),
		Threads: store,
		Index:   idx,
	})
	t.Cleanup(sess.Wait)

	poker := &countingPoker{}
	m := New(ctx, Options{
		Session:  sess,
		Registry: commands.NewRegistry(),
		Index:    idx,
		Lister:   store,
		Theme:    styles.NewTheme(styles.ModeDark),
		Warmer:   poker,
	})
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, poker
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

// submit presses Enter and feeds the resulting message back into the model.
func submit(t *testing.T, m Model) Model {
	t.Helper()
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	return update(t, m, cmd())
}

// =============================================================================
// TESTS
// =============================================================================

func TestModel_InitialView(t *testing.T) {
	m, _ := newTestModel(t)
	assert.True(t, m.ready)
	assert.True(t, m.sidebarVisible())

	view := m.View()
	assert.Contains(t, view, "companion")
	assert.Contains(t, view, "New conversation")
	assert.Contains(t, view, "Conversations")
	assert.Equal(t, 100-31, m.viewport.Width)
}

func TestModel_SendTurn(t *testing.T) {
	m, poker := newTestModel(t)

	m = typeText(t, m, "hello there")
	assert.Equal(t, int32(1), poker.n.Load())
	m = typeText(t, m, "!")
	assert.Equal(t, int32(1), poker.n.Load(), "only the first keystroke pokes")

	m = submit(t, m)
	assert.Empty(t, m.input.Value())
	require.Len(t, m.state.Messages, 2)
	assert.Equal(t, model.RoleUser, m.state.Messages[0].Role)
	assert.Equal(t, "You said: hello there!", m.state.Messages[1].Content)
	assert.Contains(t, m.viewport.View(), "You said: hello there!")
	assert.NotEmpty(t, m.state.ThreadID)
}

func TestModel_EnterOnEmptyInputDoesNothing(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
}

func TestModel_SlashCommands(t *testing.T) {
	m, _ := newTestModel(t)

	m = typeText(t, m, "/help")
	m = submit(t, m)
	assert.Contains(t, m.commandOut, "Navigation:")

	m = typeText(t, m, "/bogus")
	m = submit(t, m)
	assert.True(t, m.noticeError)
	assert.Contains(t, m.notice, "unknown command")

	m = typeText(t, m, "/quit")
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	_, cmd = updateCmd(t, m, cmd())
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_InterruptQuitsWhenIdle(t *testing.T) {
	m, _ := newTestModel(t)
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
}

func TestModel_InterruptStopsWhenBusy(t *testing.T) {
	m, _ := newTestModel(t)
	m.state.Loading = true
	_, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Nil(t, cmd(), "stop runs the session call and quits nothing")
}

func TestModel_Notices(t *testing.T) {
	m, _ := newTestModel(t)

	m = update(t, m, NoticeMsg{Notice: session.Notice{Kind: session.NoticePersistFailed, Message: "Couldn't save."}})
	assert.Equal(t, "Couldn't save.", m.notice)
	first := m.noticeSeq

	m = update(t, m, NoticeMsg{Notice: session.Notice{Kind: session.NoticeRenameFailed, Message: "Couldn't rename."}})
	m = update(t, m, clearNoticeMsg{seq: first})
	assert.Equal(t, "Couldn't rename.", m.notice, "a stale timer keeps the newer notice")

	m = update(t, m, clearNoticeMsg{seq: m.noticeSeq})
	assert.Empty(t, m.notice)
}

func TestModel_SidebarToggle(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlB})
	assert.False(t, m.sidebarVisible())
	assert.Equal(t, 100, m.viewport.Width)
	assert.NotContains(t, m.View(), "Conversations")
}

func TestModel_SpeakingIndicator(t *testing.T) {
	m, _ := newTestModel(t)
	m = update(t, m, SpeakingMsg{Speaking: true})
	assert.Contains(t, m.View(), "speaking")
}

func TestRenderTranscript(t *testing.T) {
	theme := styles.NewTheme(styles.ModeDark)

	empty := RenderTranscript(theme, session.State{}, 60, nil, "")
	assert.Contains(t, empty, "Say hello")

	attached := RenderTranscript(theme, session.State{ThreadID: "t1"}, 60, nil, "")
	assert.Contains(t, attached, "Continuing this conversation")

	user := model.NewUserMessage("What is 2+2?")
	answer := model.NewAssistantMessage("It is 4")
	st := session.State{Messages: []model.Message{user, answer}, StreamingID: answer.ID}
	out := RenderTranscript(theme, st, 60, nil, "Renamed to \"Math\".")
	assert.Contains(t, out, "What is 2+2?")
	assert.Contains(t, out, "It is 4▌")
	assert.Contains(t, out, "Renamed to")

	thinking := RenderTranscript(theme, session.State{Messages: []model.Message{user}, Thinking: true, ThinkingStatus: "Searching..."}, 60, nil, "")
	assert.Contains(t, thinking, "Searching...")
}
