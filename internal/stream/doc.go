// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the chat response body into typed events.
//
// The backend answers a chat turn with a long-lived body of segments. Each
// segment is one or more "data: <json>" lines terminated by a blank line, and
// each JSON payload carries a "type" discriminator.
//
// # Key Types
//
//   - Event: Closed union of Status, Provider, Chunk, Visualizations, Done,
//     Error and the no-op Skip variant
//   - Decoder: Incremental decoder fed with raw bytes as they arrive
//
// # Usage
//
//	dec := stream.NewDecoder()
//	for {
//	    n, err := body.Read(buf)
//	    for _, ev := range dec.Feed(buf[:n]) {
//	        handle(ev)
//	    }
//	    if err != nil {
//	        dec.Finish()
//	        break
//	    }
//	}
//
// A segment that cannot be decoded never fails the stream. It is dropped and
// reported through the decoder's drop hook.
package stream
