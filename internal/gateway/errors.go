// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled reports that the caller cancelled the request. It wraps
// context.Canceled.
var ErrCancelled = fmt.Errorf("request cancelled: %w", context.Canceled)

// TerminalError is returned by Open after the last connection attempt fails.
// It is distinct from an error reported inside an open stream.
type TerminalError struct {
	Attempts int
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("backend unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err is a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// StatusError is a non-2xx response from the chat endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}
