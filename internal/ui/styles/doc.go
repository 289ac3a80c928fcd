// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for the companion chat view.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection. The [ui] theme setting may force one side:

	theme := styles.NewTheme(cfg.UI.Theme) // "auto", "dark" or "light"
	theme.Apply()

Colored states always carry a text marker as well (see StatusIndicators) so
errors and pinned threads remain distinguishable without color.
*/
package styles
