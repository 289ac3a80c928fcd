// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
)

// STREAMING: segment framing mirrors SSE (blank-line delimited "data:" lines)

// MaxSegmentSize is the largest segment the decoder will buffer (1MB).
// SECURITY: Bounds memory use against a body that never sends a delimiter.
const MaxSegmentSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	delimiter  = []byte("\n\n")
)

// DropFunc is called for every segment the decoder discards.
type DropFunc func(reason string, size int)

// Decoder turns raw body bytes into events. It is not safe for concurrent use;
// one decoder belongs to one read loop.
type Decoder struct {
	buf    []byte
	onDrop DropFunc

	// pendingCR holds a trailing '\r' until the next byte shows whether it
	// starts a CRLF pair.
	pendingCR bool
}

// NewDecoder creates a decoder with an empty buffer.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// OnDrop installs a hook that observes discarded segments.
func (d *Decoder) OnDrop(fn DropFunc) {
	d.onDrop = fn
}

// Feed appends p to the rolling buffer and returns the events of every
// segment that is now fully delimited. The undelimited remainder is kept for
// the next call. Segments that fail to decode are dropped.
func (d *Decoder) Feed(p []byte) []Event {
	if len(p) == 0 {
		return nil
	}
	d.appendNormalized(p)

	var events []Event
	for {
		idx := bytes.Index(d.buf, delimiter)
		if idx < 0 {
			break
		}
		segment := d.buf[:idx]
		d.buf = d.buf[idx+len(delimiter):]

		ev := d.decodeSegment(segment)
		if skip, ok := ev.(Skip); ok {
			if skip.Reason != ReasonEmpty {
				d.drop(skip.Reason, len(segment))
			}
			continue
		}
		events = append(events, ev)
	}

	if len(d.buf) > MaxSegmentSize {
		d.drop(ReasonOversize, len(d.buf))
		d.buf = d.buf[:0]
	}

	// Reclaim the consumed prefix once the buffer drains.
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Finish ends the stream. An unterminated trailing segment is discarded and
// never surfaced, so Finish returns no events.
func (d *Decoder) Finish() []Event {
	if len(bytes.TrimSpace(d.buf)) > 0 {
		d.drop(ReasonTruncated, len(d.buf))
	}
	d.buf = nil
	d.pendingCR = false
	return nil
}

// Buffered returns the number of bytes waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// DecodeSegment decodes a single delimited segment. Anything that is not a
// well-formed known event decodes to Skip.
func DecodeSegment(segment []byte) Event {
	return (&Decoder{}).decodeSegment(segment)
}

func (d *Decoder) decodeSegment(segment []byte) Event {
	if len(bytes.TrimSpace(segment)) == 0 {
		return Skip{Reason: ReasonEmpty}
	}

	var dataLines [][]byte
	for _, line := range bytes.Split(segment, []byte("\n")) {
		if !bytes.HasPrefix(line, dataPrefix) {
			// Ignore comments and other SSE fields (id:, event:, retry:)
			continue
		}
		data := line[len(dataPrefix):]
		if len(data) > 0 && data[0] == ' ' {
			data = data[1:]
		}
		dataLines = append(dataLines, data)
	}
	if len(dataLines) == 0 {
		return Skip{Reason: ReasonNoPrefix}
	}

	return decodePayload(bytes.Join(dataLines, []byte("\n")))
}

// appendNormalized appends p converting CRLF line endings to LF, including a
// CR/LF pair split across two Feed calls.
func (d *Decoder) appendNormalized(p []byte) {
	if d.pendingCR {
		d.pendingCR = false
		if p[0] != '\n' {
			d.buf = append(d.buf, '\r')
		}
	}
	if p[len(p)-1] == '\r' {
		d.pendingCR = true
		p = p[:len(p)-1]
	}
	if bytes.IndexByte(p, '\r') < 0 {
		d.buf = append(d.buf, p...)
		return
	}
	d.buf = append(d.buf, bytes.ReplaceAll(p, []byte("\r\n"), []byte("\n"))...)
}

func (d *Decoder) drop(reason string, size int) {
	if d.onDrop != nil {
		d.onDrop(reason, size)
	}
}
