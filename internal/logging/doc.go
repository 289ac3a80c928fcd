// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the structured logger used across companion.
//
// Logs go to a file when the TUI owns the terminal and to stderr otherwise.
// Request bodies and message text are never logged; components log method,
// path, status and duration only.
package logging
