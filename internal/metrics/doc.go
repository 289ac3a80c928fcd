// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exports Prometheus counters for the chat session.
//
// # Key Types
//
//   - Metrics: Collectors for stream, gateway, session and voice events
//
// # Usage
//
//	m := metrics.New(nil)
//	m.SegmentDropped(stream.ReasonBadJSON)
//	http.Handle("/metrics", m.Handler())
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally.
//
// # Privacy
//
// Only counts are exported. Message text never reaches a label.
package metrics
