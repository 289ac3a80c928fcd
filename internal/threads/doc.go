// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package threads persists conversations as backend threads.
//
// A conversation maps to exactly one thread. The first persisted message
// creates the thread with a locally derived title; every later message is
// appended to it. After a turn completes the client asks the backend for a
// better title, best effort.
//
// # Key Types
//
//   - Store: HTTP client for the backend thread endpoints
//   - APIError: Non-2xx response from the backend
//   - Index: Ordered sidebar list with transient placeholders
//
// # Usage
//
//	store := threads.NewStore("http://localhost:8787/api", threads.StoreOptions{})
//	id, err := store.EnsureThread(ctx, "", model.NewUserMessage("Hello"))
//	// later turns
//	id, err = store.EnsureThread(ctx, id, reply)
//
// # Titles
//
// DeriveTitle is deterministic: it strips file markers, code fences and URLs,
// then prefers a short first sentence over a word-bounded prefix and falls
// back to a dated placeholder.
package threads
