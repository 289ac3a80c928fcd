// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session orchestrates one conversation: sending a turn, streaming
// the answer into the transcript, persisting it and speaking it.
//
// # Key Types
//
//   - Session: One open conversation and its single in-flight request
//   - CancellationController: Owns the current cancellation token
//   - Transcript: Ordered messages; only the streaming message may change
//   - Accumulator: Builds the assistant message from stream events with a
//     render throttle
//
// # Usage
//
//	s := session.New(session.Options{
//	    Gateway: gw,
//	    Threads: store,
//	})
//	s.SetOnChange(func() { render(s.Snapshot()) })
//
//	go func() {
//	    res, err := s.Send(ctx, session.SendRequest{Text: "Hello"})
//	    ...
//	}()
//
//	// From the UI goroutine
//	s.Stop()
//
// # Concurrency
//
// Send runs one turn on the calling goroutine and reads the stream
// sequentially. Stop, DeleteThread, Snapshot and the thread operations may be
// called from any goroutine. Shared state sits behind one mutex and
// observers are notified after it is released.
//
// Starting a new turn cancels the previous one. A cancelled turn stops
// applying events immediately, keeps whatever text is already visible and is
// never reported as an error.
package session
