// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/session"
	"github.com/jeranaias/companion/internal/threads"
	"github.com/jeranaias/companion/internal/ui/components"
	"github.com/jeranaias/companion/internal/ui/styles"
)

const (
	// noticeTTL is how long a notice stays in the status bar.
	noticeTTL = 5 * time.Second

	// loadThreadsTimeout bounds the initial thread list load.
	loadThreadsTimeout = 10 * time.Second

	// maxInputLength matches the backend's message limit.
	maxInputLength = 100000
)

// Poker asks for an early backend health probe.
type Poker interface {
	Poke()
}

// SpeakingSource reports speech start and stop.
type SpeakingSource interface {
	SetOnSpeaking(fn func(bool))
}

// Options configures the chat view. Session and Registry are required.
type Options struct {
	Session  *session.Session
	Registry *commands.Registry
	// Env is handed to slash commands; its Session must be Session.
	Env   *commands.Env
	Index *threads.Index
	// Lister loads Index when the view starts.
	Lister threads.Lister

	Theme *styles.Theme
	// Markdown renders finished answers; nil shows plain text.
	Markdown *components.Markdown

	Warmer    Poker
	Speech    SpeakingSource
	AutoSpeak bool

	Logger *slog.Logger
}

// Model is the Bubble Tea model of the chat view.
type Model struct {
	opts   Options
	ctx    context.Context
	theme  *styles.Theme
	logger *slog.Logger
	keys   KeyMap

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	width, height int
	ready         bool
	showSidebar   bool

	state   session.State
	threads []model.Thread

	speaking  bool
	autoSpeak bool

	notice      string
	noticeError bool
	noticeSeq   int

	// commandOut is the output of the last slash command.
	commandOut string
}

// New creates the chat view. ctx bounds every turn and command it starts.
func New(ctx context.Context, opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme(styles.ModeAuto)
	}

	in := textinput.New()
	in.Prompt = "> "
	in.PromptStyle = theme.InputPrompt
	in.Placeholder = "Ask anything, or /help"
	in.CharLimit = maxInputLength
	in.ShowSuggestions = true
	in.SetSuggestions(opts.Registry.Complete("/"))
	in.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(theme.Thinking))

	m := Model{
		opts:        opts,
		ctx:         ctx,
		theme:       theme,
		logger:      logging.OrDiscard(opts.Logger),
		keys:        DefaultKeyMap(),
		input:       in,
		spinner:     sp,
		showSidebar: opts.Index != nil,
		autoSpeak:   opts.AutoSpeak,
	}
	m.refreshState()
	m.refreshThreads()
	return m
}

// Init starts the cursor blink, the spinner and the thread list load.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.opts.Index != nil && m.opts.Lister != nil {
		cmds = append(cmds, m.loadThreads())
	}
	return tea.Batch(cmds...)
}

// Run runs the chat view on the terminal until the user quits or ctx ends.
func Run(ctx context.Context, opts Options) error {
	m := New(ctx, opts)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	Bind(p, opts)
	defer Unbind(opts)

	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Sender is the part of tea.Program callbacks need.
type Sender interface {
	Send(msg tea.Msg)
}

// Bind routes session, index and speech callbacks into p.
func Bind(p Sender, opts Options) {
	opts.Session.SetOnChange(func() { p.Send(StateChangedMsg{}) })
	opts.Session.SetOnNotice(func(n session.Notice) { p.Send(NoticeMsg{Notice: n}) })
	if opts.Index != nil {
		opts.Index.SetOnChange(func() { p.Send(ThreadsChangedMsg{}) })
	}
	if opts.Speech != nil {
		opts.Speech.SetOnSpeaking(func(on bool) { p.Send(SpeakingMsg{Speaking: on}) })
	}
}

// Unbind removes the callbacks installed by Bind.
func Unbind(opts Options) {
	opts.Session.SetOnChange(nil)
	opts.Session.SetOnNotice(nil)
	if opts.Index != nil {
		opts.Index.SetOnChange(nil)
	}
	if opts.Speech != nil {
		opts.Speech.SetOnSpeaking(nil)
	}
}

// =============================================================================
// COMMAND CREATORS
// =============================================================================

// sendTurn runs one turn on a background goroutine.
func (m Model) sendTurn(text string) tea.Cmd {
	sess, ctx := m.opts.Session, m.ctx
	return func() tea.Msg {
		res, err := sess.Send(ctx, session.SendRequest{Text: text})
		return turnDoneMsg{result: res, err: err}
	}
}

// runCommand executes a slash command on a background goroutine.
func (m Model) runCommand(line string) tea.Cmd {
	reg, env, ctx := m.opts.Registry, m.opts.Env, m.ctx
	if env == nil {
		env = &commands.Env{Session: m.opts.Session, Index: m.opts.Index, Lister: m.opts.Lister}
	}
	return func() tea.Msg {
		res, err := reg.Execute(ctx, env, line)
		return commandDoneMsg{result: res, err: err}
	}
}

func (m Model) loadThreads() tea.Cmd {
	idx, lister, ctx := m.opts.Index, m.opts.Lister, m.ctx
	return func() tea.Msg {
		lctx, cancel := context.WithTimeout(ctx, loadThreadsTimeout)
		defer cancel()
		return threadsLoadedMsg{err: idx.Load(lctx, lister)}
	}
}

func clearNoticeAfter(seq int) tea.Cmd {
	return tea.Tick(noticeTTL, func(time.Time) tea.Msg { return clearNoticeMsg{seq: seq} })
}
