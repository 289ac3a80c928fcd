// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/labstack/echo/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/companion/internal/model"
)

const (
	// DefaultThreadTitle names threads created without a title.
	DefaultThreadTitle = "New chat"

	// MaxTitleLength bounds stored titles.
	MaxTitleLength = 120

	// autoTitleWords is how many words of the first user message make a title.
	autoTitleWords = 6
)

type wireMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type createThreadRequest struct {
	Title    string        `json:"title"`
	Messages []wireMessage `json:"messages"`
}

type renameRequest struct {
	Title string `json:"title"`
}

type pinRequest struct {
	Pinned *bool `json:"pinned"`
}

type statusResponse struct {
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
	Pinned *bool  `json:"pinned,omitempty"`
}

type threadDetail struct {
	model.Thread
	Messages []wireMessage `json:"messages"`
}

// toStored validates a wire message.
func toStored(m wireMessage) (StoredMessage, error) {
	role := model.Role(strings.ToLower(strings.TrimSpace(m.Role)))
	if !role.Valid() {
		return StoredMessage{}, errors.New("invalid role '" + m.Role + "': must be user or assistant")
	}
	return StoredMessage{Role: role, Content: m.Content, Timestamp: m.Timestamp}, nil
}

func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if r := []rune(title); len(r) > MaxTitleLength {
		title = string(r[:MaxTitleLength])
	}
	return title
}

// threadError maps store errors onto HTTP errors.
func threadError(err error) error {
	if errors.Is(err, ErrThreadNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "thread storage failed").SetInternal(err)
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleListThreads(c echo.Context) error {
	list, err := s.store.ListThreads(c.Request().Context())
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, map[string][]model.Thread{"threads": list})
}

func (s *Server) handleCreateThread(c echo.Context) error {
	var req createThreadRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}

	msgs := make([]StoredMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		sm, err := toStored(m)
		if err != nil {
			return badRequest(err.Error())
		}
		msgs = append(msgs, sm)
	}

	title := cleanTitle(req.Title)
	if title == "" {
		title = DefaultThreadTitle
	}

	th, err := s.store.CreateThread(c.Request().Context(), title, msgs)
	if err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": th.ID})
}

func (s *Server) handleGetThread(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	th, err := s.store.Thread(ctx, id)
	if err != nil {
		return threadError(err)
	}
	msgs, err := s.store.Messages(ctx, id)
	if err != nil {
		return threadError(err)
	}

	detail := threadDetail{Thread: th, Messages: make([]wireMessage, 0, len(msgs))}
	for _, m := range msgs {
		detail.Messages = append(detail.Messages, wireMessage{Role: m.Role.String(), Content: m.Content, Timestamp: m.Timestamp})
	}
	return c.JSON(http.StatusOK, detail)
}

func (s *Server) handleAppend(c echo.Context) error {
	var m wireMessage
	if err := c.Bind(&m); err != nil {
		return badRequest("invalid request body")
	}
	sm, err := toStored(m)
	if err != nil {
		return badRequest(err.Error())
	}
	if err := s.store.AppendMessage(c.Request().Context(), c.Param("id"), sm); err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleRename(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	title := cleanTitle(req.Title)
	if title == "" {
		return badRequest("title is required")
	}
	if err := s.store.Rename(c.Request().Context(), c.Param("id"), title); err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ok", Title: title})
}

func (s *Server) handlePin(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req pinRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest("invalid request body")
		}
	}

	// Without a desired state the pin toggles.
	pinned := false
	if req.Pinned != nil {
		pinned = *req.Pinned
	} else {
		th, err := s.store.Thread(ctx, id)
		if err != nil {
			return threadError(err)
		}
		pinned = !th.Pinned
	}

	if err := s.store.SetPinned(ctx, id, pinned); err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ok", Pinned: &pinned})
}

func (s *Server) handleDelete(c echo.Context) error {
	if err := s.store.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "deleted"})
}

func (s *Server) handleAutoTitle(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	msgs, err := s.store.Messages(ctx, id)
	if err != nil {
		return threadError(err)
	}
	title := autoTitle(msgs)
	if title == "" {
		return c.JSON(http.StatusOK, statusResponse{Status: "unchanged"})
	}
	if err := s.store.Rename(ctx, id, title); err != nil {
		return threadError(err)
	}
	return c.JSON(http.StatusOK, statusResponse{Status: "ok", Title: title})
}

// autoTitle title-cases the opening words of the first user message.
func autoTitle(msgs []StoredMessage) string {
	for _, m := range msgs {
		if m.Role != model.RoleUser {
			continue
		}
		words := strings.FieldsFunc(m.Content, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
		})
		if len(words) == 0 {
			continue
		}
		if len(words) > autoTitleWords {
			words = words[:autoTitleWords]
		}
		return cleanTitle(cases.Title(language.English).String(strings.Join(words, " ")))
	}
	return ""
}
