// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// placeholderPrefix marks ids minted locally while a create call is in flight.
const placeholderPrefix = "pending-"

// Thread is a backend-persisted conversation record.
type Thread struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Pinned       bool      `json:"pinned"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// NewPlaceholderID returns a transient id for a thread whose create call has
// not completed yet.
func NewPlaceholderID() string {
	return placeholderPrefix + shortuuid.New()
}

// IsPlaceholderID reports whether id was minted by NewPlaceholderID.
func IsPlaceholderID(id string) bool {
	return strings.HasPrefix(id, placeholderPrefix)
}

// IsPending reports whether the thread is still waiting for its server id.
func (t Thread) IsPending() bool {
	return IsPlaceholderID(t.ID)
}
