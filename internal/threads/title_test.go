// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package threads

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2025, time.March, 7, 14, 30, 0, 0, time.UTC)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"single word", "Hello", "Hello"},
		{"first sentence", "How do I reverse a list in Go? I tried sort.Reverse.", "How do I reverse a list in Go?"},
		{"decimal is not a sentence end", "What is 3.5 in hex? Thanks", "What is 3.5 in hex?"},
		{"exclamation", "Wow! That worked.", "Wow!"},
		{
			"words up to sixty",
			"This is a very long request without any sentence terminator that keeps going on and on forever",
			"This is a very long request without any sentence terminator",
		},
		{
			"long first sentence falls back to words",
			"This sentence is deliberately written to be considerably longer than seventy characters. Short.",
			"This sentence is deliberately written to be considerably",
		},
		{"file marker", "@file:internal/main.go explain this please", "explain this please"},
		{"mention token", "@notes.md what's in here", "what's in here"},
		{"bracket marker", "[file: report.pdf] Summarize the findings", "Summarize the findings"},
		{"attachment marker", "[Attachment: photo.png]\nWhat breed is this dog?", "What breed is this dog?"},
		{"url", "Check https://example.com/a?b=c now", "Check now"},
		{"www url", "Read www.example.org/page then summarize", "Read then summarize"},
		{"code fence", "```go\nfmt.Println(\"hi\")\n```\nWhy does this fail?", "Why does this fail?"},
		{"unterminated fence", "Explain this\n```python\nprint(1)", "Explain this"},
		{"whitespace collapsed", "  lots \n\n of\t\tspace  ", "lots of space"},
		{"email kept", "Email me@example.com the notes", "Email me@example.com the notes"},
		{"too short", "ok", "Chat Mar 7, 2025"},
		{"empty", "", "Chat Mar 7, 2025"},
		{"only url", "https://example.com", "Chat Mar 7, 2025"},
		{"only code", "```\nx := 1\n```", "Chat Mar 7, 2025"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content, fixedNow))
		})
	}
}

func TestDeriveTitle_Deterministic(t *testing.T) {
	content := "Plan a three day trip to Kyoto. Budget is flexible."
	first := DeriveTitle(content, fixedNow)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, DeriveTitle(content, fixedNow))
	}
}

func TestDeriveTitle_LongWordIsCut(t *testing.T) {
	word := strings.Repeat("a", 100)
	got := DeriveTitle(word, fixedNow)
	assert.Equal(t, strings.Repeat("a", maxWordsTitle), got)
}

func TestDeriveTitle_RuneLimits(t *testing.T) {
	content := strings.Repeat("日本語 ", 40)
	got := DeriveTitle(content, fixedNow)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), maxWordsTitle)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasPrefix(got, "日本語 日本語"))
}

func TestDeriveTitle_NFC(t *testing.T) {
	decomposed := "Cafe\u0301 recommendations"
	assert.Equal(t, "Caf\u00e9 recommendations", DeriveTitle(decomposed, fixedNow))
}

func TestPlaceholderTitle(t *testing.T) {
	assert.Equal(t, "Chat Dec 25, 2024", PlaceholderTitle(time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC)))
}
