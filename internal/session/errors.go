// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "errors"

var (
	// ErrEmptyMessage is returned by Send for a message with no text or images.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoThread is returned by thread operations when persistence is off.
	ErrNoThread = errors.New("no thread store configured")
)

// ColdStartMessage is shown, and persisted, when the backend never answered.
const ColdStartMessage = "I couldn't reach the server after several tries. " +
	"It is probably waking up from sleep, which can take up to a minute. " +
	"Please send your message again in a moment."

// Outcome is how a turn ended.
type Outcome string

const (
	// OutcomeCompleted means the stream ended normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeStreamError means the backend reported an error inside the stream
	// or the connection broke after it was established.
	OutcomeStreamError Outcome = "stream_error"
	// OutcomeCancelled means the user stopped the turn or a newer turn
	// superseded it. It is not an error.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeUnreachable means every connection attempt failed.
	OutcomeUnreachable Outcome = "unreachable"
)

// NoticeKind classifies a transient, non-blocking notice.
type NoticeKind string

const (
	NoticePersistFailed NoticeKind = "persist_failed"
	NoticeRenameFailed  NoticeKind = "rename_failed"
	NoticePinFailed     NoticeKind = "pin_failed"
	NoticeDeleteFailed  NoticeKind = "delete_failed"
)

// Notice is a recoverable problem the UI should show briefly.
type Notice struct {
	Kind    NoticeKind
	Message string
	Err     error
}
