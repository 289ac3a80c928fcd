// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"errors"
	"fmt"
)

var (
	// ErrSilent reports that every synthesis tier failed and nothing played.
	ErrSilent = errors.New("voice synthesis failed; staying silent")

	// ErrNoVoice is returned when no voice can be resolved.
	ErrNoVoice = errors.New("no voice available")

	// ErrNothingToSay is returned when the normalized text is empty.
	ErrNothingToSay = errors.New("nothing to say")

	// ErrNoAudio is returned when a synthesis endpoint answered with no bytes.
	ErrNoAudio = errors.New("empty audio response")
)

// APIError is a non-2xx response from a voice endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("voice API error (%d): %s", e.Status, e.Message)
}
