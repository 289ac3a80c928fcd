// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// maxMarkdownCache bounds the number of rendered answers kept.
const maxMarkdownCache = 256

type markdownKey struct {
	width   int
	content string
}

// Markdown renders finished assistant answers with glamour. Renderers are
// built per wrap width and results are cached, since the view re-renders the
// whole transcript on every change. It is safe for concurrent use.
type Markdown struct {
	style string

	mu        sync.Mutex
	renderers map[int]*glamour.TermRenderer
	cache     map[markdownKey]string
}

// NewMarkdown creates a renderer using glamour's "dark" or "light" style.
func NewMarkdown(dark bool) *Markdown {
	style := "light"
	if dark {
		style = "dark"
	}
	return &Markdown{
		style:     style,
		renderers: make(map[int]*glamour.TermRenderer),
		cache:     make(map[markdownKey]string),
	}
}

// Render returns content rendered for width columns. On any renderer error
// the raw content is returned unchanged.
func (m *Markdown) Render(content string, width int) string {
	if m == nil || strings.TrimSpace(content) == "" {
		return content
	}
	if width < 20 {
		width = 20
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := markdownKey{width: width, content: content}
	if out, ok := m.cache[key]; ok {
		return out
	}

	r, ok := m.renderers[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return content
		}
		m.renderers[width] = r
	}

	out, err := r.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")

	if len(m.cache) >= maxMarkdownCache {
		clear(m.cache)
	}
	m.cache[key] = out
	return out
}
