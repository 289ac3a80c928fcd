// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
)

// =============================================================================
// CANCELLATION TOKENS
// =============================================================================

// Token is the cancellation handle of one request.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	seq    uint64
}

// Context returns the context carried by the token. It is done once the
// token is cancelled.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancelled reports whether the token has been cancelled.
func (t *Token) Cancelled() bool {
	return t == nil || t.ctx.Err() != nil
}

// Seq returns the token's position in the sequence of minted tokens.
func (t *Token) Seq() uint64 {
	return t.seq
}

// CancellationController owns at most one current token per conversation.
// It is safe for concurrent use.
type CancellationController struct {
	mu      sync.Mutex
	current *Token
	seq     uint64
}

// NewCancellationController creates a controller with no current token.
func NewCancellationController() *CancellationController {
	return &CancellationController{}
}

// Begin cancels the current token, if any, and mints a new current token
// derived from parent.
func (c *CancellationController) Begin(parent context.Context) *Token {
	if parent == nil {
		parent = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.cancel()
	}

	ctx, cancel := context.WithCancel(parent)
	c.seq++
	c.current = &Token{ctx: ctx, cancel: cancel, seq: c.seq}
	return c.current
}

// Cancel cancels tok. Cancelling the current token leaves the controller
// with no current token. Safe to call multiple times.
func (c *CancellationController) Cancel(tok *Token) {
	if tok == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tok.cancel()
	if c.current == tok {
		c.current = nil
	}
}

// IsCancelled reports whether tok has been cancelled.
func (c *CancellationController) IsCancelled(tok *Token) bool {
	return tok.Cancelled()
}

// IsCurrent reports whether tok is still the current token.
func (c *CancellationController) IsCurrent(tok *Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok != nil && c.current == tok
}

// Current returns the current token, or nil.
func (c *CancellationController) Current() *Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Stop cancels the current token, if any, and reports whether there was one.
func (c *CancellationController) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return false
	}
	c.current.cancel()
	c.current = nil
	return true
}

// Release retires tok after its request finished. The token's context is
// cancelled to free its resources, and tok stops being current.
func (c *CancellationController) Release(tok *Token) {
	c.Cancel(tok)
}
