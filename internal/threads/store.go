// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package threads

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/metrics"
	"github.com/jeranaias/companion/internal/model"
)

const (
	// DefaultTimeout bounds every thread request.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 4 * 1024 * 1024
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	},
	Timeout: DefaultTimeout,
}

// wireMessage is a message as the thread endpoints see it.
type wireMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func toWire(m model.Message) wireMessage {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return wireMessage{Role: m.Role.String(), Content: m.Content, Timestamp: ts.UTC()}
}

type createRequest struct {
	Title    string        `json:"title"`
	Messages []wireMessage `json:"messages"`
}

type createResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
	Pinned *bool  `json:"pinned,omitempty"`
}

type listResponse struct {
	Threads []model.Thread `json:"threads"`
}

type detailResponse struct {
	model.Thread
	Messages []wireMessage `json:"messages"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StoreOptions tunes a Store. Zero values take the defaults.
type StoreOptions struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Store talks to the backend thread endpoints rooted at apiURL.
// It is safe for concurrent use.
type Store struct {
	apiURL  string
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStore creates a Store for the API base URL (for example ".../api").
func NewStore(apiURL string, opts StoreOptions) *Store {
	if opts.HTTPClient == nil {
		opts.HTTPClient = sharedHTTPClient
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		apiURL:  strings.TrimRight(apiURL, "/"),
		client:  opts.HTTPClient,
		logger:  logging.OrDiscard(opts.Logger),
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// =============================================================================
// THREAD OPERATIONS
// =============================================================================

// EnsureThread persists msg and returns the thread it belongs to. With an
// existingID the message is appended and the id is returned unchanged. Without
// one a thread is created, titled from the message content.
func (s *Store) EnsureThread(ctx context.Context, existingID string, msg model.Message) (string, error) {
	if existingID != "" {
		if err := s.Append(ctx, existingID, msg); err != nil {
			return existingID, err
		}
		return existingID, nil
	}

	title := DeriveTitle(msg.Content, s.now())
	return s.Create(ctx, title, []model.Message{msg})
}

// Create creates a thread with title and its first messages.
func (s *Store) Create(ctx context.Context, title string, msgs []model.Message) (string, error) {
	req := createRequest{Title: title, Messages: make([]wireMessage, 0, len(msgs))}
	for _, m := range msgs {
		req.Messages = append(req.Messages, toWire(m))
	}

	var resp createResponse
	if err := s.do(ctx, "create", http.MethodPost, "/threads", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		s.metrics.PersistFailure("create")
		return "", ErrMissingID
	}
	return resp.ID, nil
}

// Append adds one message to an existing thread.
func (s *Store) Append(ctx context.Context, id string, msg model.Message) error {
	if err := checkID(id); err != nil {
		return err
	}
	return s.do(ctx, "append", http.MethodPost, threadPath(id), toWire(msg), nil)
}

// AutoTitle asks the backend to regenerate the title. It returns the new
// title, or "" when the backend produced none.
func (s *Store) AutoTitle(ctx context.Context, id string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	var resp statusResponse
	if err := s.do(ctx, "auto_title", http.MethodPost, threadPath(id)+"/auto-title", nil, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Title), nil
}

// Rename sets the thread title and returns the title the backend stored.
func (s *Store) Rename(ctx context.Context, id, title string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return "", ErrEmptyTitle
	}

	var resp statusResponse
	body := map[string]string{"title": title}
	if err := s.do(ctx, "rename", http.MethodPatch, threadPath(id), body, &resp); err != nil {
		return "", err
	}
	if resp.Title == "" {
		return title, nil
	}
	return resp.Title, nil
}

// SetPinned pins or unpins a thread. Sending the desired state keeps the
// call idempotent.
func (s *Store) SetPinned(ctx context.Context, id string, pinned bool) (bool, error) {
	if err := checkID(id); err != nil {
		return false, err
	}
	var resp statusResponse
	body := map[string]bool{"pinned": pinned}
	if err := s.do(ctx, "pin", http.MethodPost, threadPath(id)+"/pin", body, &resp); err != nil {
		return false, err
	}
	if resp.Pinned == nil {
		return pinned, nil
	}
	return *resp.Pinned, nil
}

// Delete removes a thread. Deleting a thread that no longer exists succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	err := s.do(ctx, "delete", http.MethodDelete, threadPath(id), nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// List returns every thread the backend knows about.
func (s *Store) List(ctx context.Context) ([]model.Thread, error) {
	var resp listResponse
	if err := s.do(ctx, "list", http.MethodGet, "/threads", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Threads, nil
}

// Get returns a thread with its stored messages, oldest first.
func (s *Store) Get(ctx context.Context, id string) (model.Thread, []model.Message, error) {
	if err := checkID(id); err != nil {
		return model.Thread{}, nil, err
	}
	var resp detailResponse
	if err := s.do(ctx, "get", http.MethodGet, threadPath(id), nil, &resp); err != nil {
		return model.Thread{}, nil, err
	}
	msgs := make([]model.Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msg := model.NewMessage(model.Role(m.Role), m.Content)
		msg.Timestamp = m.Timestamp
		msgs = append(msgs, msg)
	}
	return resp.Thread, msgs, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

func threadPath(id string) string {
	return "/threads/" + url.PathEscape(id)
}

func checkID(id string) error {
	if id == "" {
		return ErrNoThreadID
	}
	if model.IsPlaceholderID(id) {
		return ErrPlaceholderID
	}
	return nil
}

// do sends one JSON request and decodes the JSON response into out when out
// is non-nil. Failures are counted under op.
func (s *Store) do(ctx context.Context, op, method, path string, in, out any) error {
	err := s.roundTrip(ctx, method, path, in, out)
	if err != nil && ctx.Err() == nil {
		s.metrics.PersistFailure(op)
	}
	return err
}

func (s *Store) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.apiURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	// Don't log headers or body
	s.logger.Debug("api request", "method", method, "path", req.URL.Path)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	s.logger.Debug("api response", "status", resp.StatusCode, "duration", time.Since(start))

	data, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return handleErrorResponse(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return data, nil
}

// handleErrorResponse converts a non-2xx response into an *APIError.
func handleErrorResponse(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if msg := firstNonEmpty(er.Error, er.Message); msg != "" {
			return &APIError{Status: status, Message: msg}
		}
	}
	return &APIError{Status: status, Message: http.StatusText(status)}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
