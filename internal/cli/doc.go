// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli is the companion command tree.
//
// # Commands
//
//   - chat: interactive chat (full-screen view on a terminal, line mode otherwise)
//   - threads: list, rename, pin, unpin and delete saved conversations
//   - say: speak text through the voice pipeline or save it as WAV
//   - health: probe the backend liveness endpoint
//   - devserver: run the local reference backend
//   - config: show, get and set configuration values
//
// Every command reads ~/.companion/config.toml (or --config) and applies
// COMPANION_* environment overrides before running.
package cli
