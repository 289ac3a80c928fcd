// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"
	"time"

	"github.com/jeranaias/companion/internal/metrics"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/stream"
)

// DefaultThrottleInterval is the minimum time between visible refreshes of a
// streaming message.
const DefaultThrottleInterval = 50 * time.Millisecond

// Sink receives the transcript mutations of one request.
type Sink interface {
	// Materialize makes the assistant message visible with content.
	Materialize(content string)
	// Refresh replaces the visible content of the assistant message.
	Refresh(content string)
	// SetStatus updates the transient thinking label.
	SetStatus(status string)
	// SetProvider records which provider and model answer.
	SetProvider(name, modelName string)
	// AddCharts appends auxiliary chart messages.
	AddCharts(charts []model.Chart)
}

// FlushStats counts visible refreshes by kind.
type FlushStats struct {
	MidStream int // materialize plus throttled refreshes
	Final     int
}

// Accumulator consumes the events of one request in arrival order and turns
// them into Sink calls. Chunk text always accumulates; only refreshes of the
// visible message are throttled. Not safe for concurrent use.
type Accumulator struct {
	sink     Sink
	interval time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics

	text         strings.Builder
	chunks       int
	materialized bool
	lastFlush    time.Time
	finished     bool

	provider  string
	modelName string
	errText   string
	stats     FlushStats
}

// NewAccumulator creates an accumulator writing to sink. A zero interval
// uses DefaultThrottleInterval; a nil clock uses time.Now.
func NewAccumulator(sink Sink, interval time.Duration, now func() time.Time) *Accumulator {
	if interval <= 0 {
		interval = DefaultThrottleInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Accumulator{sink: sink, interval: interval, now: now}
}

// WithMetrics counts flushes on m.
func (a *Accumulator) WithMetrics(m *metrics.Metrics) *Accumulator {
	a.metrics = m
	return a
}

// Apply handles one event and reports whether it ended the stream.
// Events after the end are ignored.
func (a *Accumulator) Apply(ev stream.Event) bool {
	if a.finished {
		return true
	}

	switch e := ev.(type) {
	case stream.Status:
		a.sink.SetStatus(e.Text)

	case stream.Provider:
		a.provider, a.modelName = e.Name, e.Model
		a.sink.SetProvider(e.Name, e.Model)

	case stream.Chunk:
		a.text.WriteString(e.Text)
		a.chunks++
		a.flushMidStream()

	case stream.Visualizations:
		if len(e.Charts) > 0 {
			a.sink.AddCharts(e.Charts)
		}

	case stream.Done:
		if e.Provider != "" {
			a.provider = e.Provider
		}
		if e.Model != "" {
			a.modelName = e.Model
		}
		a.Finish()
		return true

	case stream.Error:
		a.errText = e.Text
		if a.text.Len() == 0 {
			a.text.WriteString(ErrorNotice(e.Text))
		}
		a.Finish()
		return true
	}

	return false
}

// Finish performs the one final refresh. A request that produced text but no
// chunk still materializes exactly one message. Calling Finish again is a
// no-op.
func (a *Accumulator) Finish() {
	if a.finished {
		return
	}
	a.finished = true

	content := a.text.String()
	switch {
	case a.materialized:
		a.sink.Refresh(content)
	case content != "":
		a.sink.Materialize(content)
		a.materialized = true
	default:
		return
	}
	a.lastFlush = a.now()
	a.stats.Final++
	a.metrics.Flush(metrics.FlushFinal)
}

func (a *Accumulator) flushMidStream() {
	now := a.now()
	if !a.materialized {
		a.sink.Materialize(a.text.String())
		a.materialized = true
		a.lastFlush = now
		a.stats.MidStream++
		a.metrics.Flush(metrics.FlushMaterialize)
		return
	}
	if now.Sub(a.lastFlush) >= a.interval {
		a.sink.Refresh(a.text.String())
		a.lastFlush = now
		a.stats.MidStream++
		a.metrics.Flush(metrics.FlushThrottled)
	}
}

// Text returns all accumulated text.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Chunks returns the number of chunk events seen.
func (a *Accumulator) Chunks() int {
	return a.chunks
}

// Materialized reports whether the assistant message is visible.
func (a *Accumulator) Materialized() bool {
	return a.materialized
}

// Finished reports whether the final refresh happened.
func (a *Accumulator) Finished() bool {
	return a.finished
}

// Provider returns the provider and model reported by the stream.
func (a *Accumulator) Provider() (string, string) {
	return a.provider, a.modelName
}

// Err returns the text of a stream Error event, or "".
func (a *Accumulator) Err() string {
	return a.errText
}

// Stats returns the flush counts.
func (a *Accumulator) Stats() FlushStats {
	return a.stats
}

// ErrorNotice is the assistant text shown when the backend reports an error
// before any answer text.
func ErrorNotice(text string) string {
	if text == "" {
		return "Sorry, something went wrong while answering."
	}
	return "Sorry, something went wrong while answering: " + text
}
