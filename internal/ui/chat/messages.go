// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/companion/internal/commands"
	"github.com/jeranaias/companion/internal/session"
)

// =============================================================================
// SESSION MESSAGES
// =============================================================================

// StateChangedMsg asks the view to re-read the session snapshot.
type StateChangedMsg struct{}

// ThreadsChangedMsg asks the view to re-read the thread index.
type ThreadsChangedMsg struct{}

// NoticeMsg carries a transient, recoverable problem to show.
type NoticeMsg struct {
	Notice session.Notice
}

// SpeakingMsg reports that speech started or stopped.
type SpeakingMsg struct {
	Speaking bool
}

// =============================================================================
// COMMAND RESULTS
// =============================================================================

// turnDoneMsg is sent when a Send finishes, however it ended.
type turnDoneMsg struct {
	result session.Result
	err    error
}

// commandDoneMsg is sent when a slash command finishes.
type commandDoneMsg struct {
	result commands.Result
	err    error
}

// threadsLoadedMsg is sent after the initial thread list load.
type threadsLoadedMsg struct {
	err error
}

// clearNoticeMsg hides the notice with the matching sequence number.
type clearNoticeMsg struct {
	seq int
}
