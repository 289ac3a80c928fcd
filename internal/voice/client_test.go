// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ResolvePersona(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/voice/resolve", r.URL.Path)

		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["context"] == "bedtime story" {
			_, _ = w.Write([]byte(`{"voice_id":"calm"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/voice/", ClientOptions{})

	id, err := c.ResolvePersona(context.Background(), "bedtime story")
	require.NoError(t, err)
	assert.Equal(t, "calm", id)

	id, err = c.ResolvePersona(context.Background(), "taxes")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_VoicesSharesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voices", r.URL.Path)
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"default":"nova","voices":[{"id":"nova","name":"Nova"},{"id":"echo","name":"Echo"}]}`))
	}))
	defer server.Close()

	c := NewClient(server.URL, ClientOptions{})

	var wg sync.WaitGroup
	results := make([]Catalog, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cat, err := c.Voices(context.Background())
			assert.NoError(t, err)
			results[i] = cat
		}(i)
	}

	require.Eventually(t, func() bool { return hits.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for _, cat := range results {
		assert.Equal(t, "nova", cat.Default)
		assert.Len(t, cat.Voices, 2)
	}
}

func TestClient_StreamAndSynthesizeEndpoints(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Hi.", req.Text)
		assert.Equal(t, "nova", req.Voice)

		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()

		w.Header().Set("Content-Type", "audio/wav")
		if r.URL.Path == "/voice/stream" {
			flusher := w.(http.Flusher)
			for _, part := range []string{"RIFF", "....", "WAVE"} {
				_, _ = w.Write([]byte(part))
				flusher.Flush()
			}
			return
		}
		_, _ = w.Write([]byte("RIFFfull"))
	}))
	defer server.Close()

	c := NewClient(server.URL+"/voice", ClientOptions{})

	clip, err := c.Stream(context.Background(), "Hi.", "nova")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WAVE"), clip)

	clip, err = c.Synthesize(context.Background(), "Hi.", "nova")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFFfull"), clip)

	assert.Equal(t, []string{"/voice/stream", "/voice"}, paths)
}

func TestClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stream":
			http.Error(w, "tts overloaded", http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, ClientOptions{})

	_, err := c.Stream(context.Background(), "x", "v")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "tts overloaded", apiErr.Message)

	_, err = c.Synthesize(context.Background(), "x", "v")
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestClient_PipelineFallsBackOverHTTP(t *testing.T) {
	var fullHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stream":
			w.WriteHeader(http.StatusInternalServerError)
		case "/":
			fullHits.Add(1)
			_, _ = w.Write([]byte("RIFF"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL+"/", ClientOptions{})
	p := NewPipeline(c, nil, nil, PipelineOptions{})

	require.NoError(t, p.Speak(context.Background(), "Hello", "nova"))
	assert.Equal(t, int32(1), fullHits.Load())
}
