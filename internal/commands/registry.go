// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownCommand is returned for a slash command nobody registered.
var ErrUnknownCommand = errors.New("unknown command")

// ErrNotCommand is returned by Execute for input without a leading slash.
var ErrNotCommand = errors.New("not a command")

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Handler runs a parsed command against env.
type Handler func(ctx context.Context, env *Env, p ParseResult) (Result, error)

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help
	Description string

	// Usage shows argument syntax (e.g., "/open <n|id>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	// Handler executes the command
	Handler Handler

	// Category for grouping in help display
	Category string
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name        string
	Required    bool
	Description string
	// Values restricts the argument to one of a fixed set
	Values []string
}

// Result is what a command produced.
type Result struct {
	// Output is text to show the user; may be empty
	Output string
	// Quit asks the UI to exit
	Quit bool
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates a new command registry with all built-in commands.
func NewRegistry() *Registry {
	r := &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
	r.registerBuiltins()
	return r
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[alias] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	if cmd, ok := r.aliases[name]; ok {
		return cmd
	}
	return nil
}

// All returns all registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Complete returns command names and aliases starting with prefix, sorted.
func (r *Registry) Complete(prefix string) []string {
	prefix = strings.ToLower(prefix)
	var out []string
	for name := range r.commands {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	for alias := range r.aliases {
		if strings.HasPrefix(alias, prefix) {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Execute parses input and runs the matching command.
func (r *Registry) Execute(ctx context.Context, env *Env, input string) (Result, error) {
	p := r.Parse(input)
	if !p.IsCommand {
		return Result{}, ErrNotCommand
	}
	if p.Command == nil {
		return Result{}, fmt.Errorf("%w: %s (try /help)", ErrUnknownCommand, p.CommandName)
	}
	if err := ValidateArgs(p.Command, p.Args); err != nil {
		return Result{}, err
	}
	return p.Command.Handler(ctx, env, p)
}

// =============================================================================
// BUILT-IN COMMANDS
// =============================================================================

func (r *Registry) registerBuiltins() {
	// Navigation commands
	r.Register(&Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show available commands",
		Category:    "Navigation",
		Handler:     r.handleHelp,
	})
	r.Register(&Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit companion",
		Category:    "Navigation",
		Handler:     handleQuit,
	})

	// Conversation commands
	r.Register(&Command{
		Name:        "/new",
		Aliases:     []string{"/n"},
		Description: "Start a new conversation",
		Category:    "Conversation",
		Handler:     handleNew,
	})
	r.Register(&Command{
		Name:        "/stop",
		Description: "Stop the answer in progress and any speech",
		Category:    "Conversation",
		Handler:     handleStop,
	})

	// Thread commands
	r.Register(&Command{
		Name:        "/threads",
		Aliases:     []string{"/t", "/list"},
		Description: "List saved conversations",
		Category:    "Threads",
		Handler:     handleThreads,
	})
	r.Register(&Command{
		Name:        "/open",
		Aliases:     []string{"/o"},
		Description: "Continue a saved conversation",
		Usage:       "/open <n|id>",
		Args:        []ArgDef{{Name: "thread", Required: true, Description: "number from /threads or thread id"}},
		Category:    "Threads",
		Handler:     handleOpen,
	})
	r.Register(&Command{
		Name:        "/rename",
		Description: "Rename the current conversation",
		Usage:       "/rename <title>",
		Args:        []ArgDef{{Name: "title", Required: true, Description: "new title"}},
		Category:    "Threads",
		Handler:     handleRename,
	})
	r.Register(&Command{
		Name:        "/pin",
		Description: "Pin a conversation to the top of the list",
		Usage:       "/pin [n|id]",
		Category:    "Threads",
		Handler:     pinHandler(true),
	})
	r.Register(&Command{
		Name:        "/unpin",
		Description: "Unpin a conversation",
		Usage:       "/unpin [n|id]",
		Category:    "Threads",
		Handler:     pinHandler(false),
	})
	r.Register(&Command{
		Name:        "/delete",
		Aliases:     []string{"/rm"},
		Description: "Delete a conversation",
		Usage:       "/delete [n|id]",
		Category:    "Threads",
		Handler:     handleDelete,
	})

	// Voice commands
	r.Register(&Command{
		Name:        "/voice",
		Aliases:     []string{"/v"},
		Description: "Show or choose the speaking voice (\"auto\" clears the choice)",
		Usage:       "/voice [id|auto]",
		Category:    "Voice",
		Handler:     handleVoice,
	})
	r.Register(&Command{
		Name:        "/voices",
		Description: "List available voices",
		Category:    "Voice",
		Handler:     handleVoices,
	})
	r.Register(&Command{
		Name:        "/speak",
		Description: "Turn reading answers aloud on or off",
		Usage:       "/speak <on|off>",
		Args:        []ArgDef{{Name: "state", Required: true, Values: []string{"on", "off"}, Description: "on or off"}},
		Category:    "Voice",
		Handler:     handleSpeak,
	})
}
