// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package devserver provides a local reference backend for the companion
// client, used for development and end-to-end tests.
//
// Endpoints (all under /api):
//   - POST   /chat                   - Streamed word-by-word echo answer
//   - GET    /health                 - Liveness probe
//   - GET    /threads                - List threads
//   - POST   /threads                - Create a thread
//   - GET    /threads/:id            - Thread with messages
//   - POST   /threads/:id            - Append a message
//   - PATCH  /threads/:id            - Rename
//   - DELETE /threads/:id            - Delete
//   - POST   /threads/:id/auto-title - Title from the first user message
//   - POST   /threads/:id/pin        - Pin or unpin
//   - POST   /voice                  - Complete WAV synthesis
//   - POST   /voice/stream           - Streamed WAV synthesis
//   - POST   /voice/resolve          - Persona voice from context
//   - GET    /voice/voices           - Voice catalog
//
// Threads live in SQLite. Speech is a generated tone whose pitch depends on
// the voice. A configurable number of chat requests fail with 503 to mimic a
// backend waking from a cold start.
package devserver
