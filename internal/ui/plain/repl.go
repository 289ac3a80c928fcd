// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package plain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"github.com/peterh/liner"

	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/session"
)

// Prompt is shown before each line of input. It stays uncolored since liner
// measures it.
const Prompt = "you> "

// LineReader reads one line of input. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// Options configures a REPL. Session and Registry are required.
type Options struct {
	Session  *session.Session
	Registry *commands.Registry
	Env      *commands.Env

	// Poke is called before each turn to wake the backend early.
	Poke func()

	Out    io.Writer
	ErrOut io.Writer
	// Profile selects colors; termenv.Ascii prints none.
	Profile termenv.Profile
	Logger  *slog.Logger
}

// REPL is the line-mode chat loop.
type REPL struct {
	opts   Options
	out    io.Writer
	errOut io.Writer
	logger *slog.Logger
	p      *printer
}

// New creates a REPL.
func New(opts Options) *REPL {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.ErrOut == nil {
		opts.ErrOut = os.Stderr
	}
	if opts.Env == nil {
		opts.Env = &commands.Env{Session: opts.Session}
	}
	return &REPL{
		opts:   opts,
		out:    opts.Out,
		errOut: opts.ErrOut,
		logger: logging.OrDiscard(opts.Logger),
		p:      newPrinter(opts.Out, opts.Profile),
	}
}

// RunTerminal runs the REPL on the process terminal with liner line editing.
// History is loaded from and saved to historyFile when it is not "".
func (r *REPL) RunTerminal(ctx context.Context, historyFile string) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		if !commands.IsCommand(in) {
			return nil
		}
		return r.opts.Registry.Complete(in)
	})

	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				r.logger.Warn("save history failed", "error", err)
				return
			}
			defer f.Close()
			_, _ = line.WriteHistory(f)
		}()
	}
	return r.Run(ctx, line)
}

// Run reads lines from in until EOF, an aborted prompt, /quit or ctx ends.
func (r *REPL) Run(ctx context.Context, in LineReader) error {
	sess := r.opts.Session
	sess.SetOnChange(func() { r.p.update(sess.Snapshot()) })
	sess.SetOnNotice(func(n session.Notice) {
		fmt.Fprintln(r.errOut, r.p.warn(n.Message))
		r.logger.Warn("notice", "kind", n.Kind, "error", n.Err)
	})
	defer sess.SetOnChange(nil)
	defer sess.SetOnNotice(nil)

	for ctx.Err() == nil {
		input, err := in.Prompt(Prompt)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		in.AppendHistory(input)

		if commands.IsCommand(input) {
			quit := r.runCommand(ctx, input)
			if quit {
				return nil
			}
			continue
		}
		r.send(ctx, input)
	}
	return nil
}

func (r *REPL) runCommand(ctx context.Context, line string) bool {
	res, err := r.opts.Registry.Execute(ctx, r.opts.Env, line)
	if res.Output != "" {
		fmt.Fprintln(r.out, res.Output)
	}
	if err != nil {
		fmt.Fprintln(r.errOut, r.p.failure(err.Error()))
	}
	return res.Quit
}

// send runs one turn, stopping it on Ctrl+C.
func (r *REPL) send(ctx context.Context, text string) {
	sess := r.opts.Session
	if r.opts.Poke != nil {
		r.opts.Poke()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			sess.Stop()
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(done)
	}()

	r.p.beginTurn(sess.Snapshot())
	res, err := sess.Send(ctx, session.SendRequest{Text: text})
	if err != nil {
		fmt.Fprintln(r.errOut, r.p.failure(err.Error()))
		return
	}
	r.p.update(sess.Snapshot())
	r.p.endTurn(res.Outcome == session.OutcomeCancelled)
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// printer writes assistant text as it grows, printing only what is new.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	profile termenv.Profile

	printed map[string]int
	open    bool
}

func newPrinter(out io.Writer, profile termenv.Profile) *printer {
	return &printer{out: out, profile: profile, printed: make(map[string]int)}
}

// beginTurn marks every existing message as already printed.
func (p *printer) beginTurn(st session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.printed)
	for _, m := range st.Messages {
		p.printed[m.ID] = len(m.Content)
	}
	p.open = false
}

// update prints the unseen part of each assistant message.
func (p *printer) update(st session.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range st.Messages {
		if m.Role != model.RoleAssistant {
			continue
		}
		n, seen := p.printed[m.ID]
		switch {
		case m.IsChart():
			if !seen {
				p.closeLine()
				fmt.Fprintln(p.out, p.faint(fmt.Sprintf("[chart: %s (%s)]", m.Chart.Title, m.Chart.Type)))
				p.printed[m.ID] = len(m.Content)
			}
		case m.IsError:
			if !seen || n < len(m.Content) {
				p.closeLine()
				fmt.Fprintln(p.out, p.failure(m.Content))
				p.printed[m.ID] = len(m.Content)
			}
		default:
			if len(m.Content) <= n {
				continue
			}
			if !p.open {
				fmt.Fprint(p.out, p.label("companion> "))
				p.open = true
			}
			fmt.Fprint(p.out, m.Content[n:])
			p.printed[m.ID] = len(m.Content)
		}
	}
}

// endTurn terminates the answer line.
func (p *printer) endTurn(cancelled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancelled && p.open {
		fmt.Fprint(p.out, p.faint(" [stopped]"))
	}
	p.closeLine()
}

func (p *printer) closeLine() {
	if p.open {
		fmt.Fprintln(p.out)
		p.open = false
	}
}

// =============================================================================
// COLORS
// =============================================================================

func (p *printer) label(s string) string {
	return p.profile.String(s).Foreground(p.profile.Color("#A78BFA")).Bold().String()
}

func (p *printer) faint(s string) string {
	return p.profile.String(s).Faint().String()
}

func (p *printer) warn(s string) string {
	return p.profile.String("[!] " + s).Foreground(p.profile.Color("#FBBF24")).String()
}

func (p *printer) failure(s string) string {
	return p.profile.String("[X] " + s).Foreground(p.profile.Color("#FB7185")).String()
}
