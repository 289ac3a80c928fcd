// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen chat view built on Bubble Tea.
//
// The view owns no conversation state. It renders session.Session snapshots
// and the threads.Index, and is told to re-render through Program.Send when
// either changes. Turns and slash commands run as tea.Cmds so the UI loop
// never blocks on the network.
//
// Key bindings:
//
//	Enter      send the message or run the /command
//	Esc        stop the answer and any speech
//	Ctrl+C     stop when busy, otherwise quit
//	Ctrl+N     new conversation
//	Ctrl+B     toggle the conversation list
//	PgUp/PgDn  scroll the transcript
//	Tab        complete a /command
package chat
