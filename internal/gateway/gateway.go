// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/metrics"
)

const (
	// DefaultMaxAttempts is the total number of connection attempts.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = 3 * time.Second

	// userAgent identifies the client to the backend.
	userAgent = "companion/0.1"
)

// PERFORMANCE: Connection pooling for streaming requests.
// No timeout on the client; the stream lifetime is controlled via context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Payload is the body of one chat request.
type Payload struct {
	Message  string   `json:"message"`
	ThreadID string   `json:"thread_id,omitempty"`
	Images   []string `json:"images,omitempty"`
	Model    string   `json:"model,omitempty"`
}

// Endpoints locates the backend.
type Endpoints struct {
	ChatURL   string
	HealthURL string
}

// Options tunes a Gateway. Zero values take the defaults.
type Options struct {
	MaxAttempts int
	RetryDelay  time.Duration // negative disables the wait
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Gateway opens chat streams. It is safe for concurrent use.
type Gateway struct {
	endpoints   Endpoints
	maxAttempts int
	retryDelay  time.Duration
	client      *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a Gateway for the given endpoints.
func New(endpoints Endpoints, opts Options) *Gateway {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	} else if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = sharedStreamingClient
	}

	return &Gateway{
		endpoints:   endpoints,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		client:      opts.HTTPClient,
		logger:      logging.OrDiscard(opts.Logger),
		metrics:     opts.Metrics,
	}
}

// Endpoints returns the configured endpoints.
func (g *Gateway) Endpoints() Endpoints {
	return g.endpoints
}

// Open issues the chat request and returns the response body. On connection
// failure it retries with a fixed delay; after the last attempt it returns a
// *TerminalError. Cancellation of ctx at any point returns ErrCancelled and
// is never retried. The caller owns the returned body.
func (g *Gateway) Open(ctx context.Context, p Payload) (io.ReadCloser, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			g.metrics.GatewayAttempt(metrics.ResultCancelled)
			return nil, ErrCancelled
		}

		rc, err := g.attempt(ctx, body)
		if err == nil {
			g.metrics.GatewayAttempt(metrics.ResultOK)
			return rc, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			g.metrics.GatewayAttempt(metrics.ResultCancelled)
			return nil, ErrCancelled
		}

		g.metrics.GatewayAttempt(metrics.ResultFailed)
		lastErr = err
		g.logger.Warn("chat stream connect failed",
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"error", err)

		if attempt == g.maxAttempts {
			break
		}

		timer := time.NewTimer(g.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.metrics.GatewayAttempt(metrics.ResultCancelled)
			return nil, ErrCancelled
		case <-timer.C:
		}
	}

	return nil, &TerminalError{Attempts: g.maxAttempts, Err: lastErr}
}

// attempt performs one POST and returns the body of a 2xx response.
func (g *Gateway) attempt(ctx context.Context, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoints.ChatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("User-Agent", userAgent)

	// Don't log headers or body
	g.logger.Debug("api request", "method", req.Method, "path", req.URL.Path)

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	g.logger.Debug("api response", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return resp.Body, nil
}
