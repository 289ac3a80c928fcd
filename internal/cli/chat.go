// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/ui/chat"
	"github.com/jeranaias/companion/internal/ui/components"
	"github.com/jeranaias/companion/internal/ui/plain"
	"github.com/jeranaias/companion/internal/ui/styles"
)

type chatFlags struct {
	plain       bool
	metricsAddr string
	thread      string
}

func newChatCommand(flags *globalFlags) *cobra.Command {
	cf := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat. On a terminal the full-screen view opens; with
--plain, ui.plain or redirected input a line-mode prompt is used instead.
Type /help inside the chat for slash commands.`,
		Example: `  # Full-screen chat
  $ companion chat

  # Line mode, exposing Prometheus metrics
  $ companion chat --plain --metrics-addr 127.0.0.1:9464

  # Continue the second listed conversation
  $ companion chat --thread 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, flags, cf)
		},
	}
	cmd.Flags().BoolVar(&cf.plain, "plain", false, "use the line-mode prompt")
	cmd.Flags().StringVar(&cf.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")
	cmd.Flags().StringVarP(&cf.thread, "thread", "t", "", "continue a saved conversation (number or id)")
	return cmd
}

func runChat(cmd *cobra.Command, flags *globalFlags, cf *chatFlags) error {
	ctx := cmd.Context()
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if cf.plain {
		cfg.UI.Plain = true
	}
	if cf.metricsAddr != "" {
		cfg.Metrics.ListenAddr = cf.metricsAddr
	}
	fullScreen := !cfg.UI.Plain && plain.CanRunFullScreen()

	a, err := newApp(cfg, path, appOptions{logToFile: true, stderr: cmd.ErrOrStderr(), speech: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.startWarmer(ctx)
	a.serveMetrics(ctx, cfg.Metrics.ListenAddr)
	a.watchConfig(ctx)

	env := a.env()
	if cf.thread != "" {
		if err := attachThread(ctx, a, env, cf.thread); err != nil {
			return err
		}
	}

	a.logger.Info("chat started", "full_screen", fullScreen, "backend", cfg.Backend.BaseURL)
	if fullScreen {
		return runFullScreen(ctx, a, env)
	}
	return runLineMode(ctx, cmd, a, env)
}

// attachThread continues the saved conversation ref names.
func attachThread(ctx context.Context, a *app, env *commands.Env, ref string) error {
	if err := a.index.Load(ctx, a.store); err != nil {
		return fmt.Errorf("failed to load threads: %w", err)
	}
	th, err := commands.LookupThread(env, ref)
	if err != nil {
		return err
	}
	a.session.Attach(th)
	return nil
}

func runFullScreen(ctx context.Context, a *app, env *commands.Env) error {
	theme := styles.NewTheme(a.cfg.UI.Theme)
	theme.Apply()

	opts := chat.Options{
		Session:   a.session,
		Registry:  a.registry,
		Env:       env,
		Index:     a.index,
		Lister:    a.store,
		Theme:     theme,
		AutoSpeak: a.speech != nil && a.cfg.Voice.AutoSpeak,
		Logger:    a.logger,
	}
	if a.cfg.UI.RenderMarkdown {
		opts.Markdown = components.NewMarkdown(theme.IsDark)
	}
	if a.warmer != nil {
		opts.Warmer = a.warmer
	}
	if a.speech != nil {
		opts.Speech = a.speech
	}
	return chat.Run(ctx, opts)
}

func runLineMode(ctx context.Context, cmd *cobra.Command, a *app, env *commands.Env) error {
	profile := termenv.Ascii
	if plain.IsStdoutTTY() && plain.ColorsEnabled() {
		profile = plain.ColorProfile()
	}
	repl := plain.New(plain.Options{
		Session:  a.session,
		Registry: a.registry,
		Env:      env,
		Poke:     a.poke,
		Out:      cmd.OutOrStdout(),
		ErrOut:   cmd.ErrOrStderr(),
		Profile:  profile,
		Logger:   a.logger,
	})

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && f == os.Stdin && plain.IsTTY() {
		return repl.RunTerminal(ctx, a.historyFile())
	}
	return repl.Run(ctx, newLineReader(in))
}

// lineReader reads prompts from a non-terminal input, one line each.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader(r io.Reader) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &lineReader{scanner: s}
}

func (l *lineReader) Prompt(string) (string, error) {
	if !l.scanner.Scan() {
		if err := l.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return l.scanner.Text(), nil
}

func (l *lineReader) AppendHistory(string) {}
