// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// DefaultVoice is the voice used when a request names none.
const DefaultVoice = "nova"

// streamChunkSize is how many audio bytes each streamed write carries.
const streamChunkSize = 4096

type voiceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var voices = []voiceInfo{
	{ID: "nova", Name: "Nova"},
	{ID: "calm", Name: "Calm"},
	{ID: "echo", Name: "Echo"},
}

// personaKeywords picks a voice from words in the conversation context.
var personaKeywords = []struct {
	voice string
	words []string
}{
	{voice: "calm", words: []string{"story", "bedtime", "relax", "sleep"}},
	{voice: "echo", words: []string{"news", "brief", "summary", "report"}},
}

type synthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

type resolveRequest struct {
	Context string `json:"context"`
}

func knownVoice(id string) bool {
	for _, v := range voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) bindSynth(c echo.Context) (synthRequest, error) {
	var req synthRequest
	if err := c.Bind(&req); err != nil {
		return req, badRequest("invalid request body")
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return req, badRequest("text is required")
	}
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}
	if !knownVoice(req.Voice) {
		return req, badRequest("unknown voice '" + req.Voice + "'")
	}
	return req, nil
}

func (s *Server) handleSynthesize(c echo.Context) error {
	req, err := s.bindSynth(c)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "audio/wav", synthesizeTone(req.Text, req.Voice))
}

func (s *Server) handleSynthesizeStream(c echo.Context) error {
	req, err := s.bindSynth(c)
	if err != nil {
		return err
	}

	audio := synthesizeTone(req.Text, req.Voice)
	ctx := c.Request().Context()
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "audio/wav")
	res.WriteHeader(http.StatusOK)

	for len(audio) > 0 {
		if ctx.Err() != nil {
			return nil
		}
		n := min(streamChunkSize, len(audio))
		if _, err := res.Write(audio[:n]); err != nil {
			return nil
		}
		res.Flush()
		audio = audio[n:]
	}
	return nil
}

func (s *Server) handleResolveVoice(c echo.Context) error {
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	text := strings.ToLower(req.Context)
	for _, p := range personaKeywords {
		for _, w := range p.words {
			if strings.Contains(text, w) {
				return c.JSON(http.StatusOK, map[string]string{"voice_id": p.voice})
			}
		}
	}
	return c.JSON(http.StatusOK, map[string]string{})
}

func (s *Server) handleVoices(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"default": DefaultVoice,
		"voices":  voices,
	})
}
