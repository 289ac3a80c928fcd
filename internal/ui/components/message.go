// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/ui/styles"
	"github.com/jeranaias/companion/internal/util"
)

// streamingCursor trails the text of the answer being streamed.
const streamingCursor = "▌"

// MessageView renders one transcript entry.
type MessageView struct {
	Message   model.Message
	Width     int
	Streaming bool
	// Markdown renders finished assistant answers; nil shows plain text.
	Markdown *Markdown
}

// View renders the message with its role label.
func (v MessageView) View(theme *styles.Theme) string {
	width := max(v.Width, 24)
	msg := v.Message

	switch {
	case msg.IsChart():
		return RenderChart(theme, *msg.Chart, width)

	case msg.Role == model.RoleUser:
		body := wordWrap(msg.Content, width-4)
		if n := len(msg.Images); n > 0 {
			body += "\n" + theme.Meta.Render(fmt.Sprintf("[%d image(s) attached]", n))
		}
		return theme.UserLabel.Render(msg.Role.DisplayName()) + "\n" + theme.UserText.Render(body)

	case msg.IsError:
		label := theme.AssistantLabel.Render(msg.Role.DisplayName())
		body := styles.StatusIndicators.Error + " " + wordWrap(msg.Content, width-8)
		return label + "\n" + theme.ErrorText.Render(body)

	default:
		label := theme.AssistantLabel.Render(msg.Role.DisplayName())
		if msg.Provider != "" {
			label += " " + theme.Meta.Render(providerLabel(msg.Provider, msg.Model))
		}

		var body string
		switch {
		case v.Streaming:
			body = wordWrap(msg.Content, width-4) + streamingCursor
		case v.Markdown != nil:
			body = v.Markdown.Render(msg.Content, width-4)
		default:
			body = wordWrap(msg.Content, width-4)
		}
		return label + "\n" + theme.AssistantText.Render(body)
	}
}

func providerLabel(provider, modelName string) string {
	if modelName == "" {
		return "via " + provider
	}
	return "via " + provider + " / " + modelName
}

// =============================================================================
// CHARTS
// =============================================================================

// chartSeries is the labels/values shape bar charts arrive in.
type chartSeries struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// RenderChart draws bar charts as text bars. Other chart types show their
// type and title only.
func RenderChart(theme *styles.Theme, chart model.Chart, width int) string {
	title := chart.Title
	if title == "" {
		title = "Chart"
	}
	header := fmt.Sprintf("%s (%s)", title, chart.Type)

	var data chartSeries
	if err := json.Unmarshal(chart.Data, &data); err != nil || len(data.Labels) == 0 || len(data.Labels) != len(data.Values) {
		return theme.ChartBox.Render(header)
	}
	return theme.ChartBox.Render(header + "\n" + renderBars(data, width-6))
}

func renderBars(data chartSeries, width int) string {
	labelWidth := 0
	peak := 0.0
	for i, l := range data.Labels {
		labelWidth = max(labelWidth, util.StringWidth(l))
		peak = max(peak, data.Values[i])
	}
	labelWidth = min(labelWidth, 16)
	barWidth := max(width-labelWidth-10, 4)

	lines := make([]string, 0, len(data.Labels))
	for i, l := range data.Labels {
		n := 0
		if peak > 0 && data.Values[i] > 0 {
			n = max(int(data.Values[i]/peak*float64(barWidth)), 1)
		}
		lines = append(lines, fmt.Sprintf("%s %s %g", util.PadWidth(l, labelWidth), strings.Repeat("#", n), data.Values[i]))
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// wordWrap wraps text on word boundaries to fit within width columns.
func wordWrap(text string, width int) string {
	if width <= 0 {
		return text
	}

	var result strings.Builder
	for lineIdx, line := range strings.Split(text, "\n") {
		if lineIdx > 0 {
			result.WriteString("\n")
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}

		currentLine := words[0]
		for _, word := range words[1:] {
			if util.StringWidth(currentLine)+1+util.StringWidth(word) <= width {
				currentLine += " " + word
			} else {
				result.WriteString(currentLine)
				result.WriteString("\n")
				currentLine = word
			}
		}
		result.WriteString(currentLine)
	}
	return result.String()
}
