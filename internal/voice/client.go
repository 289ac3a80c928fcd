// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/companion/internal/logging"
)

const (
	// DefaultTimeout bounds resolve and catalog requests.
	DefaultTimeout = 15 * time.Second

	// MaxAudioSize caps a synthesized clip.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxAudioSize = 32 * 1024 * 1024

	maxJSONSize = 1024 * 1024
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Synthesis can take a while, so this client has no overall timeout; callers
// bound requests with their context.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
}

// Voice is one entry of the server catalog.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog is the server's voice list and its advertised default.
type Catalog struct {
	Default string  `json:"default,omitempty"`
	Voices  []Voice `json:"voices"`
}

type resolveRequest struct {
	Context string `json:"context"`
}

type resolveResponse struct {
	VoiceID string `json:"voice_id,omitempty"`
}

type synthRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// ClientOptions tunes a Client.
type ClientOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the voice endpoints rooted at baseURL. It is safe for
// concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	catalog singleflight.Group
}

// NewClient creates a Client for the voice base URL (for example ".../api/voice").
func NewClient(baseURL string, opts ClientOptions) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = sharedHTTPClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		logger:  logging.OrDiscard(opts.Logger),
	}
}

// ResolvePersona asks the server for a voice fitting the conversational
// context. An empty id means the server had no opinion.
func (c *Client) ResolvePersona(ctx context.Context, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	var out resolveResponse
	if err := c.doJSON(ctx, http.MethodPost, "/resolve", resolveRequest{Context: contextText}, &out); err != nil {
		return "", err
	}
	return out.VoiceID, nil
}

// Voices fetches the catalog. Concurrent callers share one request.
func (c *Client) Voices(ctx context.Context) (Catalog, error) {
	v, err, _ := c.catalog.Do("voices", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTimeout)
		defer cancel()

		var out Catalog
		if err := c.doJSON(rctx, http.MethodGet, "/voices", nil, &out); err != nil {
			return Catalog{}, err
		}
		return out, nil
	})
	if err != nil {
		return Catalog{}, err
	}
	return v.(Catalog), nil
}

// Stream requests audio from the streaming endpoint and collects the streamed
// bytes into one buffer.
func (c *Client) Stream(ctx context.Context, text, voiceID string) ([]byte, error) {
	return c.audio(ctx, "/stream", text, voiceID)
}

// Synthesize requests a complete clip from the full-download endpoint.
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	return c.audio(ctx, "", text, voiceID)
}

func (c *Client) audio(ctx context.Context, path, text, voiceID string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodPost, path, synthRequest{Text: text, Voice: voiceID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxAudioSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) > MaxAudioSize {
		return nil, fmt.Errorf("audio exceeded maximum size of %d bytes", MaxAudioSize)
	}
	if len(data) == 0 {
		return nil, ErrNoAudio
	}
	return data, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.send(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// send issues the request and returns a 2xx response. The caller closes the
// body.
func (c *Client) send(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Don't log headers or body
	c.logger.Debug("voice request", "method", method, "path", req.URL.Path)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voice request failed: %w", err)
	}
	c.logger.Debug("voice response", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		text := strings.TrimSpace(string(msg))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{Status: resp.StatusCode, Message: text}
	}
	return resp, nil
}
