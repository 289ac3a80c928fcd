// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system shared by the chat TUI
// and the plain line-mode REPL.
//
// # Key Types
//
//   - Registry: Holds every command and its aliases
//   - Parser: Splits input into a command and quoted arguments
//   - Env: The session, thread index and voice controls handlers act on
//   - Result: Text to show and whether the UI should quit
//
// # Usage
//
//	reg := commands.NewRegistry()
//	res, err := reg.Execute(ctx, env, "/rename \"Trip to Lisbon\"")
package commands
