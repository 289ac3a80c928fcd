// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// CodePlaceholder replaces each fenced code block in spoken text.
const CodePlaceholder = "(code block omitted)"

var (
	fenceRe      = regexp.MustCompile("(?s)```.*?(?:```|$)")
	imageRe      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	headingRe    = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	boldRe       = regexp.MustCompile(`(\*\*|__)(\S(?:.*?\S)?)(\*\*|__)`)
	italicStarRe = regexp.MustCompile(`\B\*(\S(?:[^*]*?\S)?)\*\B`)
	italicUndRe  = regexp.MustCompile(`(^|\W)_(\S(?:[^_]*?\S)?)_(\W|$)`)
	strikeRe     = regexp.MustCompile(`~~(\S(?:.*?\S)?)~~`)
	inlineCodeRe = regexp.MustCompile("`([^`]+)`")
	blankRunRe   = regexp.MustCompile(`\n[ \t]*(?:\n[ \t]*)+`)
)

// Normalize turns markdown into text fit for speech. Code fences become a
// short placeholder. Emphasis and heading markers are dropped, links keep
// their text, and runs of blank lines collapse to one.
func Normalize(text string) string {
	text = norm.NFC.String(strings.ReplaceAll(text, "\r\n", "\n"))

	text = fenceRe.ReplaceAllString(text, CodePlaceholder)
	text = imageRe.ReplaceAllString(text, "$1")
	text = linkRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = boldRe.ReplaceAllString(text, "$2")
	text = strikeRe.ReplaceAllString(text, "$1")
	text = italicStarRe.ReplaceAllString(text, "$1")
	text = italicUndRe.ReplaceAllString(text, "$1$2$3")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
