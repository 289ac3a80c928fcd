// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"

	"github.com/jeranaias/companion/internal/session"
	"github.com/jeranaias/companion/internal/threads"
	"github.com/jeranaias/companion/internal/voice"
)

// VoiceSelector holds the user's explicit voice choice.
type VoiceSelector interface {
	SetUserVoice(id string)
	UserVoice() string
}

// VoiceCatalog lists the voices the backend offers.
type VoiceCatalog interface {
	Voices(ctx context.Context) (voice.Catalog, error)
}

// Env is what command handlers act on. Only Session is required.
type Env struct {
	Session *session.Session
	Index   *threads.Index
	Lister  threads.Lister
	Voice   VoiceSelector
	Catalog VoiceCatalog

	// OnVoiceChange persists a new voice choice; "" means automatic.
	OnVoiceChange func(id string) error
	// OnAutoSpeak reports a change to reading answers aloud.
	OnAutoSpeak func(on bool)
}
