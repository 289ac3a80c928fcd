// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/companion/internal/model"
)

// Event is one decoded stream segment. The set of implementations is closed.
type Event interface {
	isEvent()
}

// Status updates the transient "thinking" label.
type Status struct {
	Text string
}

// Provider announces which backend provider and model answer the turn.
type Provider struct {
	Name  string
	Model string
}

// Chunk carries a piece of the answer text.
type Chunk struct {
	Text string
}

// Visualizations carries charts to show next to the answer.
type Visualizations struct {
	Charts []model.Chart
}

// Done marks the successful end of the answer.
type Done struct {
	Provider string
	Model    string
}

// Error reports a backend-side failure inside an open stream.
type Error struct {
	Text string
}

// Skip is the no-op variant for unknown or malformed segments.
type Skip struct {
	Reason string
}

func (Status) isEvent()         {}
func (Provider) isEvent()       {}
func (Chunk) isEvent()          {}
func (Visualizations) isEvent() {}
func (Done) isEvent()           {}
func (Error) isEvent()          {}
func (Skip) isEvent()           {}

// Skip reasons.
const (
	ReasonNoPrefix    = "no_prefix"
	ReasonBadJSON     = "bad_json"
	ReasonUnknownType = "unknown_type"
	ReasonEmpty       = "empty"
	ReasonTruncated   = "truncated"
	ReasonOversize    = "oversize"
)

// payload is the wire shape shared by every segment type.
type payload struct {
	Type     string          `json:"type"`
	Content  string          `json:"content"`
	Message  string          `json:"message"`
	Error    string          `json:"error"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Data     json.RawMessage `json:"data"`
}

// decodePayload maps one JSON payload onto the Event union.
func decodePayload(data []byte) Event {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Skip{Reason: ReasonBadJSON}
	}

	switch strings.ToLower(p.Type) {
	case "status":
		return Status{Text: firstNonEmpty(p.Message, p.Content)}
	case "provider":
		return Provider{Name: p.Provider, Model: p.Model}
	case "chunk":
		return Chunk{Text: p.Content}
	case "visualizations":
		charts, ok := decodeCharts(p.Data)
		if !ok {
			return Skip{Reason: ReasonBadJSON}
		}
		return Visualizations{Charts: charts}
	case "done":
		return Done{Provider: p.Provider, Model: p.Model}
	case "error":
		return Error{Text: firstNonEmpty(p.Error, p.Message, p.Content)}
	default:
		return Skip{Reason: ReasonUnknownType}
	}
}

// decodeCharts accepts either a list of charts or a single chart object.
func decodeCharts(raw json.RawMessage) ([]model.Chart, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var charts []model.Chart
	if err := json.Unmarshal(raw, &charts); err == nil {
		return charts, len(charts) > 0
	}
	var single model.Chart
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, false
	}
	return []model.Chart{single}, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
