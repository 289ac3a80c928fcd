// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"

	"github.com/jeranaias/companion/internal/model"
)

// ErrImmutableMessage is returned when a finished message would be modified.
var ErrImmutableMessage = errors.New("message is not streaming")

// Transcript is the ordered list of messages in a conversation. Only the
// message whose id equals the streaming id may change. Transcript is not safe
// for concurrent use; Session guards it.
type Transcript struct {
	messages    []model.Message
	streamingID string
}

// Append adds a finished message.
func (t *Transcript) Append(msg model.Message) {
	t.messages = append(t.messages, msg)
}

// BeginStreaming adds msg and makes it the streaming message.
func (t *Transcript) BeginStreaming(msg model.Message) {
	t.messages = append(t.messages, msg)
	t.streamingID = msg.ID
}

// UpdateStreaming replaces the content of the streaming message.
func (t *Transcript) UpdateStreaming(id, content string) error {
	if id == "" || id != t.streamingID {
		return ErrImmutableMessage
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			t.messages[i].Content = content
			return nil
		}
	}
	return ErrImmutableMessage
}

// Annotate sets provenance on the streaming message.
func (t *Transcript) Annotate(id, provider, modelName string, isError bool) error {
	if id == "" || id != t.streamingID {
		return ErrImmutableMessage
	}
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			if provider != "" {
				t.messages[i].Provider = provider
			}
			if modelName != "" {
				t.messages[i].Model = modelName
			}
			t.messages[i].IsError = t.messages[i].IsError || isError
			return nil
		}
	}
	return ErrImmutableMessage
}

// EndStreaming freezes the streaming message if its id is id.
func (t *Transcript) EndStreaming(id string) {
	if t.streamingID == id {
		t.streamingID = ""
	}
}

// StreamingID returns the id of the streaming message, or "".
func (t *Transcript) StreamingID() string {
	return t.streamingID
}

// Get returns the message with id.
func (t *Transcript) Get(id string) (model.Message, bool) {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return t.messages[i], true
		}
	}
	return model.Message{}, false
}

// Messages returns a copy of the messages.
func (t *Transcript) Messages() []model.Message {
	out := make([]model.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Reset empties the transcript.
func (t *Transcript) Reset() {
	t.messages = nil
	t.streamingID = ""
}
