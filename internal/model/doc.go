// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for threads and messages.
//
// This package defines the domain types shared by the streaming session,
// the thread store and the user interfaces.
//
// # Key Types
//
//   - Message: Single transcript entry with role, content, timestamp and
//     optional images or chart payload
//   - Chart: Structured visualization attached to an auxiliary message
//   - Thread: Backend-persisted conversation record (ConversationThread)
//   - Role: Message role enumeration (user, assistant)
//
// # Usage
//
// Create messages for the transcript:
//
//	user := model.NewUserMessage("Hello!")
//	reply := model.NewAssistantMessage("Hi there")
//
// Thread ids are only ever assigned by the backend. A client-side placeholder
// is recognizable with IsPlaceholderID and must never be sent to the API.
package model
