// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package plain provides the line-mode chat REPL used when the terminal
// cannot host the full-screen view, or when --plain is given.
//
// Answers are printed as they stream. Ctrl+C while an answer streams stops
// it; Ctrl+C or Ctrl+D at the prompt exits. Slash commands are the same as
// in the full-screen view.
package plain
