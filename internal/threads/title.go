// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package threads

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// maxSentenceTitle is the longest first sentence used verbatim as a title.
	maxSentenceTitle = 70

	// maxWordsTitle bounds the word-accumulated title.
	maxWordsTitle = 60

	// minTitle is the shortest acceptable derived title.
	minTitle = 3

	// placeholderDateLayout formats the dated fallback title.
	placeholderDateLayout = "Jan 2, 2006"
)

var (
	fencedBlockRe   = regexp.MustCompile("(?s)```.*?(?:```|$)")
	bracketMarkerRe = regexp.MustCompile(`(?i)\[(?:file|attachment):[^\]]*\]`)
	fileMarkerRe    = regexp.MustCompile(`(?i)@file:\S+`)
	mentionRe       = regexp.MustCompile(`(^|\s)@[\w./\\-]+\.[A-Za-z0-9]+\b`)
	urlRe           = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	sentenceRe      = regexp.MustCompile(`^(.+?[.?!])(?:\s|$)`)
)

// DeriveTitle builds a provisional thread title from the first message.
// The result depends only on content and the date of now.
func DeriveTitle(content string, now time.Time) string {
	text := CleanTitleText(content)

	if m := sentenceRe.FindStringSubmatch(text); m != nil {
		if utf8.RuneCountInString(m[1]) <= maxSentenceTitle {
			return finishTitle(m[1], now)
		}
	}

	return finishTitle(accumulateWords(text, maxWordsTitle), now)
}

// PlaceholderTitle is the dated title used when nothing better is available.
func PlaceholderTitle(now time.Time) string {
	return "Chat " + now.Format(placeholderDateLayout)
}

// CleanTitleText removes file references, fenced code and URLs from content
// and collapses whitespace.
func CleanTitleText(content string) string {
	text := norm.NFC.String(content)
	text = fencedBlockRe.ReplaceAllString(text, " ")
	text = bracketMarkerRe.ReplaceAllString(text, " ")
	text = fileMarkerRe.ReplaceAllString(text, " ")
	text = mentionRe.ReplaceAllString(text, "${1} ")
	text = urlRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// accumulateWords joins whole words while the result fits in limit runes.
// A first word longer than limit is cut at limit.
func accumulateWords(text string, limit int) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var b strings.Builder
	n := 0
	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		sep := 0
		if n > 0 {
			sep = 1
		}
		if n+sep+wl > limit {
			break
		}
		if sep == 1 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n += sep + wl
	}

	if n == 0 {
		return string([]rune(words[0])[:limit])
	}
	return b.String()
}

func finishTitle(title string, now time.Time) string {
	title = strings.TrimSpace(strings.TrimRight(title, ",;:- "))
	if utf8.RuneCountInString(title) < minTitle {
		return PlaceholderTitle(now)
	}
	return title
}
