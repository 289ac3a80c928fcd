// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package components provides the rendering pieces of the companion chat view.

Every component is a pure function of its inputs and a styles.Theme, so the
chat model can re-render from a session snapshot at any time.

# Components

  - MessageView (message.go) - One transcript entry: user, assistant, error or chart
  - Markdown (markdown.go) - Glamour renderer for finished assistant answers
  - Sidebar (sidebar.go) - The thread list: pinned first, pending entries dimmed
  - StatusBar (statusbar.go) - Thinking status, provider, speech and notices
*/
package components
