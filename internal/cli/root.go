// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the companion command tree.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:     "companion",
		Short:   "Streaming chat companion for the terminal",
		Version: Version,
		Long: `A terminal client for a streaming conversational backend. Answers arrive
word by word, conversations are saved as threads, and finished answers can be
read aloud.`,
		Example: `  # Start chatting (full-screen on a terminal)
  $ companion chat

  # Line-mode chat, continuing a saved thread
  $ companion chat --plain --thread 3f2a...

  # Run the local reference backend
  $ companion devserver

  # List saved conversations
  $ companion threads list`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(formatVersion())
	root.CompletionOptions.DisableDefaultCmd = true

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.companion/config.toml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(newChatCommand(flags))
	root.AddCommand(newThreadsCommand(flags))
	root.AddCommand(newSayCommand(flags))
	root.AddCommand(newHealthCommand(flags))
	root.AddCommand(newDevServerCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	return root
}

// Execute runs the command tree with args until ctx is done.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), ErrorStyle.Render("Error:"), err)
	}
	return err
}

func formatVersion() string {
	return fmt.Sprintf("companion %s (commit %s, built %s, %s/%s)\n",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}
