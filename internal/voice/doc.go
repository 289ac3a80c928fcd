// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package voice speaks finished assistant answers.
//
// A Resolver picks the voice for each utterance, a Client talks to the voice
// endpoints, and a Pipeline ties them to an audio.Player. Synthesis goes
// through a tiered chain: the streaming endpoint first, the full-download
// endpoint second, and silence after that.
//
// # Key Types
//
//   - Client: HTTP client for resolve, voices, stream and synthesize
//   - Resolver: user voice, then persona, then server default, then first voice
//   - Pipeline: normalizes text, runs the tier chain, owns the one playback
//
// # Usage
//
//	client := voice.NewClient("http://localhost:8787/api/voice", voice.ClientOptions{})
//	resolver := voice.NewResolver(client)
//	p := voice.NewPipeline(client, resolver, player, voice.PipelineOptions{})
//	if err := p.Say(ctx, answer, userMessage); errors.Is(err, voice.ErrSilent) {
//	    // both tiers failed; nothing played
//	}
//
// # Error Handling
//
// Synthesis failures never escalate. Say and Speak return ErrSilent so callers
// can log it, and the speaking indicator is always cleared.
package voice
