// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/export"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/threads"
)

func newThreadsCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threads",
		Aliases: []string{"thread", "t"},
		Short:   "Manage saved conversations",
		Long: `Manage saved conversations. Threads are referenced by their number in
"companion threads list" or by id.`,
		Example: `  $ companion threads list
  $ companion threads rename 2 Weekend plans
  $ companion threads pin 2
  $ companion threads export 2 --format json
  $ companion threads delete 3f2a...`,
	}

	var asJSON bool
	list := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List saved conversations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withThreads(cmd, flags, func(ctx context.Context, a *app, env *commands.Env) error {
				out := cmd.OutOrStdout()
				if asJSON {
					return NewJSONResponse("threads list", a.index.Threads()).Write(out)
				}
				fmt.Fprint(out, threads.FormatThreadList(a.index.Threads()))
				return nil
			})
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	rename := &cobra.Command{
		Use:   "rename <n|id> <title...>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withThread(cmd, flags, args[0], func(ctx context.Context, a *app, th model.Thread) error {
				title, err := a.session.Rename(ctx, th.ID, strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed to %q.\n", title)
				return nil
			})
		},
	}

	pin := &cobra.Command{
		Use:   "pin <n|id>",
		Short: "Pin a conversation to the top of the list",
		Args:  cobra.ExactArgs(1),
		RunE:  setPinned(flags, true),
	}
	unpin := &cobra.Command{
		Use:   "unpin <n|id>",
		Short: "Unpin a conversation",
		Args:  cobra.ExactArgs(1),
		RunE:  setPinned(flags, false),
	}

	del := &cobra.Command{
		Use:     "delete <n|id>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withThread(cmd, flags, args[0], func(ctx context.Context, a *app, th model.Thread) error {
				if err := a.session.DeleteThread(ctx, th.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %q.\n", titleOrID(th))
				return nil
			})
		},
	}

	var format, outDir string
	exp := &cobra.Command{
		Use:   "export <n|id>",
		Short: "Save a conversation as Markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := export.DefaultOptions()
			opts.OutputDir = outDir
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			return withThread(cmd, flags, args[0], func(ctx context.Context, a *app, th model.Thread) error {
				got, msgs, err := a.store.Get(ctx, th.ID)
				if err != nil {
					return err
				}
				path, err := export.ToFile(&export.Conversation{Thread: got, Messages: msgs}, exporter, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(msgs), path)
				return nil
			})
		},
	}
	exp.Flags().StringVarP(&format, "format", "f", "md", "md or json")
	exp.Flags().StringVarP(&outDir, "dir", "d", ".", "output directory")

	cmd.AddCommand(list, rename, pin, unpin, del, exp)
	return cmd
}

func setPinned(flags *globalFlags, pinned bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withThread(cmd, flags, args[0], func(ctx context.Context, a *app, th model.Thread) error {
			if err := a.session.SetPinned(ctx, th.ID, pinned); err != nil {
				return err
			}
			verb := "Pinned"
			if !pinned {
				verb = "Unpinned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %q.\n", verb, titleOrID(th))
			return nil
		})
	}
}

// withThreads runs fn with the thread list loaded.
func withThreads(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *app, *commands.Env) error) error {
	cfg, path, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, path, appOptions{stderr: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if err := a.index.Load(ctx, a.store); err != nil {
		return fmt.Errorf("failed to load threads: %w", err)
	}
	return fn(ctx, a, a.env())
}

// withThread runs fn on the thread ref names.
func withThread(cmd *cobra.Command, flags *globalFlags, ref string, fn func(context.Context, *app, model.Thread) error) error {
	return withThreads(cmd, flags, func(ctx context.Context, a *app, env *commands.Env) error {
		th, err := commands.LookupThread(env, ref)
		if err != nil {
			return err
		}
		return fn(ctx, a, th)
	})
}

func titleOrID(th model.Thread) string {
	if th.Title == "" {
		return th.ID
	}
	return th.Title
}
