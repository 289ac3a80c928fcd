// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTheme_ForcedModes(t *testing.T) {
	assert.True(t, NewTheme(ModeDark).IsDark)
	assert.False(t, NewTheme(ModeLight).IsDark)
}

func TestTheme_RendersText(t *testing.T) {
	theme := NewTheme(ModeDark)
	assert.Contains(t, theme.UserText.Render("hello"), "hello")
	assert.Contains(t, theme.SidebarSelected.Render("Trip"), "Trip")
}

func TestStatusIndicators_AreASCII(t *testing.T) {
	for _, s := range []string{StatusIndicators.Error, StatusIndicators.Warning, StatusIndicators.Pinned, StatusIndicators.Active} {
		for _, r := range s {
			assert.Less(t, r, rune(128), s)
		}
	}
}
