// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audio plays synthesized clips.
//
// A Player owns at most one playback at a time. Play blocks until the clip
// ends, Stop ends it early, and both release the clip's temporary file.
//
// # Key Types
//
//   - Player: Play/Stop contract used by the voice pipeline
//   - CommandPlayer: hands the clip to an external player program
//   - DiscardPlayer: accepts clips and plays nothing
package audio
