// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Companion"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// =============================================================================
// CHART TYPE
// =============================================================================

// Chart is a structured visualization delivered alongside an answer.
// Data is kept raw; rendering is the UI's concern.
type Chart struct {
	Type  string          `json:"type"`
	Title string          `json:"title,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a transcript.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
	Chart   *Chart   `json:"chart,omitempty"`

	// Provenance for assistant messages
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// IsError marks an assistant message that reports a failure to the user.
	IsError bool `json:"is_error,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        NewMessageID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewChartMessage creates an auxiliary assistant message carrying a chart.
func NewChartMessage(chart Chart) Message {
	msg := NewMessage(RoleAssistant, chart.Title)
	c := chart
	msg.Chart = &c
	return msg
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}

// IsChart reports whether the message is an auxiliary chart message.
func (m Message) IsChart() bool {
	return m.Chart != nil
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Content)
	if len(runes) <= maxLen {
		return m.Content
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
