// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(json string) string {
	return "data: " + json + "\n\n"
}

func TestDecodeSegment_Variants(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Event
	}{
		{"status", `data: {"type":"status","message":"Thinking..."}`, Status{Text: "Thinking..."}},
		{"provider", `data: {"type":"provider","provider":"anthropic","model":"claude"}`, Provider{Name: "anthropic", Model: "claude"}},
		{"chunk", `data: {"type":"chunk","content":"Hi"}`, Chunk{Text: "Hi"}},
		{"chunk without space", `data:{"type":"chunk","content":" there"}`, Chunk{Text: " there"}},
		{"done", `data: {"type":"done","provider":"p","model":"m"}`, Done{Provider: "p", Model: "m"}},
		{"error", `data: {"type":"error","error":"boom"}`, Error{Text: "boom"}},
		{"error message fallback", `data: {"type":"error","message":"boom"}`, Error{Text: "boom"}},
		{"unknown type", `data: {"type":"heartbeat"}`, Skip{Reason: ReasonUnknownType}},
		{"bad json", `data: {"type":"chunk",`, Skip{Reason: ReasonBadJSON}},
		{"no prefix", `{"type":"chunk","content":"x"}`, Skip{Reason: ReasonNoPrefix}},
		{"empty", "   ", Skip{Reason: ReasonEmpty}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeSegment([]byte(tt.input)))
		})
	}
}

func TestDecodeSegment_Visualizations(t *testing.T) {
	ev := DecodeSegment([]byte(`data: {"type":"visualizations","data":[{"type":"bar","title":"Sales","data":{"a":1}},{"type":"line","title":"Trend","data":[1,2]}]}`))
	viz, ok := ev.(Visualizations)
	require.True(t, ok, "expected Visualizations, got %T", ev)
	require.Len(t, viz.Charts, 2)
	assert.Equal(t, "bar", viz.Charts[0].Type)
	assert.Equal(t, "Trend", viz.Charts[1].Title)
	assert.JSONEq(t, `{"a":1}`, string(viz.Charts[0].Data))

	ev = DecodeSegment([]byte(`data: {"type":"visualizations","data":{"type":"pie","title":"Share"}}`))
	viz, ok = ev.(Visualizations)
	require.True(t, ok)
	require.Len(t, viz.Charts, 1)
	assert.Equal(t, "pie", viz.Charts[0].Type)

	assert.Equal(t, Skip{Reason: ReasonBadJSON}, DecodeSegment([]byte(`data: {"type":"visualizations"}`)))
}

func TestDecodeSegment_MultipleDataLines(t *testing.T) {
	ev := DecodeSegment([]byte("event: message\ndata: {\"type\":\"chunk\",\ndata: \"content\":\"joined\"}"))
	assert.Equal(t, Chunk{Text: "joined"}, ev)
}

func TestDecoder_SplitAcrossFeeds(t *testing.T) {
	body := seg(`{"type":"chunk","content":"Hello"}`) + seg(`{"type":"chunk","content":", world"}`)

	// Every split point must yield the same events.
	for i := 1; i < len(body); i++ {
		d := NewDecoder()
		var got []Event
		got = append(got, d.Feed([]byte(body[:i]))...)
		got = append(got, d.Feed([]byte(body[i:]))...)
		got = append(got, d.Finish()...)

		require.Equal(t, []Event{Chunk{Text: "Hello"}, Chunk{Text: ", world"}}, got, "split at %d", i)
	}
}

func TestDecoder_RetainsRemainder(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte(seg(`{"type":"chunk","content":"a"}`) + `data: {"type":"chunk","con`))
	assert.Equal(t, []Event{Chunk{Text: "a"}}, events)
	assert.Greater(t, d.Buffered(), 0)

	events = d.Feed([]byte(`tent":"b"}` + "\n\n"))
	assert.Equal(t, []Event{Chunk{Text: "b"}}, events)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoder_DropsMalformedWithoutAffectingOthers(t *testing.T) {
	body := seg(`{"type":"chunk","content":"one"}`) +
		seg(`{"type":"chunk",broken`) +
		"retry: 100\n\n" +
		seg(`{"type":"mystery"}`) +
		seg(`{"type":"chunk","content":"two"}`)

	var drops []string
	d := NewDecoder()
	d.OnDrop(func(reason string, size int) {
		assert.Greater(t, size, 0)
		drops = append(drops, reason)
	})

	events := d.Feed([]byte(body))
	assert.Equal(t, []Event{Chunk{Text: "one"}, Chunk{Text: "two"}}, events)
	assert.Equal(t, []string{ReasonBadJSON, ReasonNoPrefix, ReasonUnknownType}, drops)
}

func TestDecoder_FinishDiscardsPartial(t *testing.T) {
	var drops []string
	d := NewDecoder()
	d.OnDrop(func(reason string, _ int) { drops = append(drops, reason) })

	events := d.Feed([]byte(seg(`{"type":"chunk","content":"kept"}`) + `data: {"type":"chunk","content":"lost"}`))
	assert.Equal(t, []Event{Chunk{Text: "kept"}}, events)

	assert.Empty(t, d.Finish())
	assert.Equal(t, []string{ReasonTruncated}, drops)
	assert.Equal(t, 0, d.Buffered())
}

func TestDecoder_FinishOnCleanBoundary(t *testing.T) {
	dropped := false
	d := NewDecoder()
	d.OnDrop(func(string, int) { dropped = true })

	d.Feed([]byte(seg(`{"type":"done"}`)))
	assert.Empty(t, d.Finish())
	assert.False(t, dropped)
}

func TestDecoder_CRLF(t *testing.T) {
	body := "data: {\"type\":\"chunk\",\"content\":\"a\"}\r\n\r\ndata: {\"type\":\"chunk\",\"content\":\"b\"}\r\n\r\n"

	d := NewDecoder()
	var got []Event
	// Split between CR and LF.
	cut := strings.Index(body, "\r\n\r\n") + 1
	got = append(got, d.Feed([]byte(body[:cut]))...)
	got = append(got, d.Feed([]byte(body[cut:]))...)

	assert.Equal(t, []Event{Chunk{Text: "a"}, Chunk{Text: "b"}}, got)
}

func TestDecoder_Oversize(t *testing.T) {
	var reasons []string
	d := NewDecoder()
	d.OnDrop(func(reason string, _ int) { reasons = append(reasons, reason) })

	huge := "data: " + strings.Repeat("x", MaxSegmentSize+1)
	assert.Empty(t, d.Feed([]byte(huge)))
	assert.Equal(t, []string{ReasonOversize}, reasons)
	assert.Equal(t, 0, d.Buffered())

	// The decoder recovers on the next well-formed segment boundary.
	events := d.Feed([]byte("\n\n" + seg(`{"type":"chunk","content":"ok"}`)))
	assert.Equal(t, []Event{Chunk{Text: "ok"}}, events)
}

func TestDecoder_EmptySegmentsIgnored(t *testing.T) {
	dropped := 0
	d := NewDecoder()
	d.OnDrop(func(string, int) { dropped++ })

	events := d.Feed([]byte("\n\n\n\n" + seg(`{"type":"status","message":"s"}`)))
	assert.Equal(t, []Event{Status{Text: "s"}}, events)
	assert.Equal(t, 0, dropped)
}
