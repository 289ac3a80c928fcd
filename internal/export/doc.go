// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes saved conversations to Markdown or JSON files.
//
// # Usage
//
//	th, msgs, err := store.Get(ctx, id)
//	conv := &export.Conversation{Thread: th, Messages: msgs}
//	path, err := export.ToFile(conv, export.NewMarkdownExporter(nil), nil)
package export
