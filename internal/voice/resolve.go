// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"context"
	"strings"
	"sync"
)

// Tier names the rule that picked a voice.
type Tier string

const (
	TierUserSelected   Tier = "user_selected"
	TierPersona        Tier = "persona_context"
	TierServerDefault  Tier = "server_default"
	TierFirstAvailable Tier = "first_available"
)

// Resolution is the voice chosen for one utterance.
type Resolution struct {
	VoiceID string
	Tier    Tier
}

// Source is what a Resolver needs from the server.
type Source interface {
	ResolvePersona(ctx context.Context, contextText string) (string, error)
	Voices(ctx context.Context) (Catalog, error)
}

// Resolver picks a voice per utterance. It is safe for concurrent use.
type Resolver struct {
	src Source

	mu        sync.RWMutex
	userVoice string
}

// NewResolver creates a Resolver backed by src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// SetUserVoice records an explicit user choice. "" clears it.
func (r *Resolver) SetUserVoice(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userVoice = strings.TrimSpace(id)
}

// UserVoice returns the explicit user choice, if any.
func (r *Resolver) UserVoice() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userVoice
}

// Resolve picks a voice: the user's choice, else the persona lookup for
// contextText, else the server default, else the first catalog voice. Lookup
// failures fall through to the next rule.
func (r *Resolver) Resolve(ctx context.Context, contextText string) (Resolution, error) {
	if id := r.UserVoice(); id != "" {
		return Resolution{VoiceID: id, Tier: TierUserSelected}, nil
	}

	if strings.TrimSpace(contextText) != "" {
		if id, err := r.src.ResolvePersona(ctx, contextText); err == nil && id != "" {
			return Resolution{VoiceID: id, Tier: TierPersona}, nil
		}
	}
	if ctx.Err() != nil {
		return Resolution{}, ctx.Err()
	}

	catalog, err := r.src.Voices(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if catalog.Default != "" {
		return Resolution{VoiceID: catalog.Default, Tier: TierServerDefault}, nil
	}
	for _, v := range catalog.Voices {
		if v.ID != "" {
			return Resolution{VoiceID: v.ID, Tier: TierFirstAvailable}, nil
		}
	}
	return Resolution{}, ErrNoVoice
}
