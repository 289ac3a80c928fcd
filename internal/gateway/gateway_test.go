// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jeranaias/companion/internal/metrics"
)

func newTestGateway(url string, opts Options) *Gateway {
	if opts.RetryDelay == 0 {
		opts.RetryDelay = -1
	}
	return New(Endpoints{ChatURL: url + "/chat", HealthURL: url + "/health"}, opts)
}

func TestOpen_SendsPayload(t *testing.T) {
	var got Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("data: {\"type\":\"done\"}\n\n"))
	}))
	defer server.Close()

	gw := newTestGateway(server.URL, Options{})
	body, err := gw.Open(context.Background(), Payload{
		Message:  "Hello",
		ThreadID: "t-1",
		Images:   []string{"aGk="},
		Model:    "auto",
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "data: {\"type\":\"done\"}\n\n", string(data))
	assert.Equal(t, Payload{Message: "Hello", ThreadID: "t-1", Images: []string{"aGk="}, Model: "auto"}, got)
}

func TestOpen_OmitsEmptyThreadID(t *testing.T) {
	var raw map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
	}))
	defer server.Close()

	body, err := newTestGateway(server.URL, Options{}).Open(context.Background(), Payload{Message: "hi"})
	require.NoError(t, err)
	body.Close()

	_, present := raw["thread_id"]
	assert.False(t, present)
}

func TestOpen_RetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	m := metrics.New(nil)
	body, err := newTestGateway(server.URL, Options{Metrics: m}).Open(context.Background(), Payload{Message: "hi"})
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, int32(3), hits.Load())
}

func TestOpen_TerminalAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestGateway(server.URL, Options{}).Open(context.Background(), Payload{Message: "hi"})
	require.Error(t, err)
	assert.True(t, IsTerminal(err))

	var te *TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, DefaultMaxAttempts, te.Attempts)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)

	assert.Equal(t, int32(DefaultMaxAttempts), hits.Load())
	assert.False(t, errors.Is(err, ErrCancelled))
}

func TestOpen_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestGateway(url, Options{MaxAttempts: 2}).Open(context.Background(), Payload{Message: "hi"})
	var te *TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, te.Attempts)
}

func TestOpen_CancelDuringRetryDelayIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := newTestGateway(server.URL, Options{RetryDelay: 5 * time.Second}).Open(ctx, Payload{Message: "hi"})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTerminal(err))
	assert.Equal(t, int32(1), hits.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOpen_CancelledBeforeStart(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestGateway(server.URL, Options{}).Open(ctx, Payload{Message: "hi"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestOpen_CancelWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := newTestGateway(server.URL, Options{}).Open(ctx, Payload{Message: "hi"})
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestHealth(t *testing.T) {
	healthy := atomic.Bool{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	gw := newTestGateway(server.URL, Options{})

	err := gw.Health(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)

	healthy.Store(true)
	assert.NoError(t, gw.Health(context.Background()))
}

type countingProber struct {
	calls atomic.Int32
	err   error
}

func (p *countingProber) Health(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

func TestWarmer_ProbesImmediatelyAndOnPoke(t *testing.T) {
	p := &countingProber{}
	w := NewWarmer(p, time.Hour)
	w.limiter = rate.NewLimiter(rate.Inf, 1)

	results := make(chan error, 4)
	w.SetOnResult(func(err error) { results <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("no initial probe")
	}

	w.Poke()
	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("poke did not probe")
	}
	assert.Equal(t, int32(2), p.calls.Load())

	at, err := w.Last()
	assert.NoError(t, err)
	assert.False(t, at.IsZero())
}

func TestWarmer_PokesAreRateLimited(t *testing.T) {
	p := &countingProber{err: errors.New("asleep")}
	w := NewWarmer(p, time.Hour)

	results := make(chan error, 4)
	w.SetOnResult(func(err error) { results <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	select {
	case err := <-results:
		assert.EqualError(t, err, "asleep")
	case <-time.After(2 * time.Second):
		t.Fatal("no initial probe")
	}

	w.Poke()
	w.Poke()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), p.calls.Load())
}
