// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the companion packages.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadWidth: column-aware fitting for thread lists
//   - FirstLine: preview of a message body
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// # Usage
//
//	title := util.PadWidth(thread.Title, 32)
//	err := util.AtomicWriteFileWithDir(path, data, 0600, 0700)
package util
