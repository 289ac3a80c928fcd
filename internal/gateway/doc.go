// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gateway opens the streaming chat request against the backend.
//
// The backend may be asleep when the first request arrives, so opening a
// stream is retried on any connection failure with a fixed delay between
// attempts. Only the connection step is bounded. Once a body is handed back
// the stream may run as long as the backend keeps it open.
//
// # Key Types
//
//   - Gateway: Opens chat streams and probes backend health
//   - TerminalError: Returned when every connection attempt failed
//   - Warmer: Periodic, rate-limited health probe that keeps the backend awake
//
// # Usage
//
//	gw := gateway.New(gateway.Endpoints{
//	    ChatURL:   "http://localhost:8787/api/chat",
//	    HealthURL: "http://localhost:8787/api/health",
//	}, gateway.Options{})
//
//	body, err := gw.Open(ctx, gateway.Payload{Message: "Hello"})
//	switch {
//	case errors.Is(err, gateway.ErrCancelled):
//	    // user stopped the turn
//	case gateway.IsTerminal(err):
//	    // backend never answered
//	}
//	defer body.Close()
//
// # Error Handling
//
// Cancellation is never retried and surfaces as ErrCancelled, which also
// matches context.Canceled. Non-2xx responses count as connection failures.
package gateway
