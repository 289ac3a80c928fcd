// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Hello there.", "Hello there."},
		{"bold and italic", "This is **very** *important* and __bold__ too.", "This is very important and bold too."},
		{"underscore italic", "an _emphasized_ word", "an emphasized word"},
		{"arithmetic stars kept", "2*3*4 math", "2*3*4 math"},
		{"adjacent star italics", "*one* *two*", "one two"},
		{"snake case untouched", "call my_func_name now", "call my_func_name now"},
		{"strikethrough", "~~old~~ new", "old new"},
		{"heading", "## Summary\nAll good.", "Summary\nAll good."},
		{"link keeps text", "See [the docs](https://example.com/docs) for more.", "See the docs for more."},
		{"image keeps alt", "![a cat](cat.png)", "a cat"},
		{"inline code", "Run `go test` first.", "Run go test first."},
		{
			"fenced code",
			"Try this:\n```go\nfmt.Println(\"hi\")\n```\nDone.",
			"Try this:\n" + CodePlaceholder + "\nDone.",
		},
		{"unterminated fence", "Look:\n```\nrm -rf /", "Look:\n" + CodePlaceholder},
		{"blank lines collapse", "one\n\n\n\ntwo\n \n\t\nthree", "one\n\ntwo\n\nthree"},
		{"crlf", "a\r\n\r\n\r\nb", "a\n\nb"},
		{"bullet stars kept", "* first\n* second", "* first\n* second"},
		{"only code", "```\nx\n```", CodePlaceholder},
		{"empty", "  \n\n  ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}
