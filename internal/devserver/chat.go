// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/jeranaias/companion/internal/model"
)

// MaxMessageLength bounds one chat message.
const MaxMessageLength = 100000

// FailCommand makes the server answer with an in-stream error event.
const FailCommand = "/fail"

type chatRequest struct {
	Message  string   `json:"message"`
	ThreadID string   `json:"thread_id"`
	Images   []string `json:"images"`
	Model    string   `json:"model"`
}

// streamEvent is the JSON payload of one stream segment.
type streamEvent struct {
	Type     string        `json:"type"`
	Message  string        `json:"message,omitempty"`
	Content  string        `json:"content,omitempty"`
	Error    string        `json:"error,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Model    string        `json:"model,omitempty"`
	Data     []model.Chart `json:"data,omitempty"`
}

func (s *Server) handleChat(c echo.Context) error {
	if s.takeColdStart() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "backend is starting")
	}

	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" && len(req.Images) == 0 {
		return badRequest("message is required")
	}
	if utf8.RuneCountInString(req.Message) > MaxMessageLength {
		return badRequest(fmt.Sprintf("message exceeds %d characters", MaxMessageLength))
	}
	if req.Model == "" {
		req.Model = DefaultModel
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	send := func(ev streamEvent) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
			return err
		}
		res.Flush()
		return nil
	}

	if err := send(streamEvent{Type: "status", Message: "Thinking..."}); err != nil {
		return nil
	}
	if err := send(streamEvent{Type: "provider", Provider: ProviderName, Model: req.Model}); err != nil {
		return nil
	}

	if strings.HasPrefix(req.Message, FailCommand) {
		_ = send(streamEvent{Type: "error", Error: "simulated backend failure"})
		return nil
	}

	for i, word := range strings.Fields(reply(req)) {
		if i > 0 {
			word = " " + word
			if !sleepCtx(ctx, s.wordDelay) {
				return nil
			}
		}
		if err := send(streamEvent{Type: "chunk", Content: word}); err != nil {
			return nil
		}
	}

	if s.visualize && strings.Contains(strings.ToLower(req.Message), "chart") {
		if err := send(streamEvent{Type: "visualizations", Data: []model.Chart{wordChart(req.Message)}}); err != nil {
			return nil
		}
	}

	_ = send(streamEvent{Type: "done", Provider: ProviderName, Model: req.Model})
	return nil
}

// reply builds the scripted answer to a chat request.
func reply(req chatRequest) string {
	var b strings.Builder
	if req.Message != "" {
		b.WriteString("You said: ")
		b.WriteString(req.Message)
	} else {
		b.WriteString("You sent no text.")
	}
	switch n := len(req.Images); n {
	case 0:
	case 1:
		b.WriteString(" (with 1 image)")
	default:
		fmt.Fprintf(&b, " (with %d images)", n)
	}
	return b.String()
}

// wordChart charts the length of each word in msg.
func wordChart(msg string) model.Chart {
	type series struct {
		Labels []string `json:"labels"`
		Values []int    `json:"values"`
	}
	var data series
	for _, w := range strings.Fields(msg) {
		data.Labels = append(data.Labels, w)
		data.Values = append(data.Values, utf8.RuneCountInString(w))
	}
	raw, _ := json.Marshal(data)
	return model.Chart{Type: "bar", Title: "Word lengths", Data: raw}
}

// sleepCtx waits for d, reporting false when ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
