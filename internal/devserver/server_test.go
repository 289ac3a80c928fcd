// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/companion/internal/gateway"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/session"
	"github.com/jeranaias/companion/internal/stream"
	"github.com/jeranaias/companion/internal/threads"
	"github.com/jeranaias/companion/internal/voice"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	if opts.WordDelay == 0 {
		opts.WordDelay = -1
	}
	ts := httptest.NewServer(New(openTestStore(t), opts).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func newTestGateway(ts *httptest.Server) *gateway.Gateway {
	return gateway.New(gateway.Endpoints{
		ChatURL:   ts.URL + APIPrefix + "/chat",
		HealthURL: ts.URL + APIPrefix + "/health",
	}, gateway.Options{RetryDelay: -1})
}

func readEvents(t *testing.T, body io.ReadCloser) []stream.Event {
	t.Helper()
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)

	dec := stream.NewDecoder()
	events := dec.Feed(data)
	return append(events, dec.Finish()...)
}

func chunkText(events []stream.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if c, ok := ev.(stream.Chunk); ok {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// =============================================================================
// CHAT
// =============================================================================

func TestServer_ChatStreamsWords(t *testing.T) {
	ts := newTestServer(t, Options{})
	gw := newTestGateway(ts)

	body, err := gw.Open(context.Background(), gateway.Payload{Message: "hello there", Model: "m1"})
	require.NoError(t, err)
	events := readEvents(t, body)

	require.NotEmpty(t, events)
	assert.Equal(t, stream.Status{Text: "Thinking..."}, events[0])
	assert.Equal(t, stream.Provider{Name: ProviderName, Model: "m1"}, events[1])
	assert.Equal(t, stream.Done{Provider: ProviderName, Model: "m1"}, events[len(events)-1])
	assert.Equal(t, "You said: hello there", chunkText(events))

	var chunks int
	for _, ev := range events {
		if _, ok := ev.(stream.Chunk); ok {
			chunks++
		}
	}
	assert.Equal(t, 4, chunks)
}

func TestServer_ChatRejectsEmptyMessage(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Post(ts.URL+APIPrefix+"/chat", "application/json", strings.NewReader(`{"message":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_ColdStartFailsFirstRequests(t *testing.T) {
	ts := newTestServer(t, Options{ColdStartFailures: 2})
	gw := newTestGateway(ts)

	// Two 503s then an answer, all inside one Open's retry budget.
	body, err := gw.Open(context.Background(), gateway.Payload{Message: "wake up"})
	require.NoError(t, err)
	assert.Equal(t, "You said: wake up", chunkText(readEvents(t, body)))
}

func TestServer_ColdStartExhaustsRetries(t *testing.T) {
	ts := newTestServer(t, Options{ColdStartFailures: 5})
	gw := newTestGateway(ts)

	_, err := gw.Open(context.Background(), gateway.Payload{Message: "hello"})
	var terminal *gateway.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, gateway.DefaultMaxAttempts, terminal.Attempts)
}

func TestServer_FailCommandSendsErrorEvent(t *testing.T) {
	ts := newTestServer(t, Options{})
	gw := newTestGateway(ts)

	body, err := gw.Open(context.Background(), gateway.Payload{Message: "/fail now"})
	require.NoError(t, err)
	events := readEvents(t, body)

	assert.Equal(t, stream.Error{Text: "simulated backend failure"}, events[len(events)-1])
	assert.Empty(t, chunkText(events))
}

func TestServer_Visualizations(t *testing.T) {
	ts := newTestServer(t, Options{Visualize: true})
	gw := newTestGateway(ts)

	body, err := gw.Open(context.Background(), gateway.Payload{Message: "show a chart"})
	require.NoError(t, err)

	var charts []model.Chart
	for _, ev := range readEvents(t, body) {
		if v, ok := ev.(stream.Visualizations); ok {
			charts = append(charts, v.Charts...)
		}
	}
	require.Len(t, charts, 1)
	assert.Equal(t, "bar", charts[0].Type)
	assert.JSONEq(t, `{"labels":["show","a","chart"],"values":[4,1,5]}`, string(charts[0].Data))
}

func TestServer_NoVisualizationsWhenDisabled(t *testing.T) {
	ts := newTestServer(t, Options{})
	gw := newTestGateway(ts)

	body, err := gw.Open(context.Background(), gateway.Payload{Message: "show a chart"})
	require.NoError(t, err)
	for _, ev := range readEvents(t, body) {
		_, isViz := ev.(stream.Visualizations)
		assert.False(t, isViz)
	}
}

// =============================================================================
// THREADS
// =============================================================================

func TestServer_ThreadLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})
	store := threads.NewStore(ts.URL+APIPrefix, threads.StoreOptions{})
	ctx := context.Background()

	id, err := store.EnsureThread(ctx, "", model.NewUserMessage("What is the weather like?"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	same, err := store.EnsureThread(ctx, id, model.NewAssistantMessage("Sunny."))
	require.NoError(t, err)
	assert.Equal(t, id, same)

	title, err := store.AutoTitle(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "What Is The Weather Like", title)

	title, err = store.Rename(ctx, id, "  Weather  ")
	require.NoError(t, err)
	assert.Equal(t, "Weather", title)

	pinned, err := store.SetPinned(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, pinned)
	pinned, err = store.SetPinned(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, pinned, "pinning twice keeps the thread pinned")

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Weather", list[0].Title)
	assert.True(t, list[0].Pinned)
	assert.Equal(t, 2, list[0].MessageCount)

	require.NoError(t, store.Delete(ctx, id))
	require.NoError(t, store.Delete(ctx, id), "deleting a missing thread succeeds")

	err = store.Append(ctx, id, model.NewUserMessage("late"))
	assert.True(t, threads.IsNotFound(err))
}

func TestServer_RejectsInvalidRole(t *testing.T) {
	ts := newTestServer(t, Options{})

	resp, err := http.Post(ts.URL+APIPrefix+"/threads", "application/json",
		strings.NewReader(`{"title":"x","messages":[{"role":"root","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_PinToggleWithoutBody(t *testing.T) {
	ts := newTestServer(t, Options{})
	store := threads.NewStore(ts.URL+APIPrefix, threads.StoreOptions{})
	id, err := store.Create(context.Background(), "t", nil)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+APIPrefix+"/threads/"+id+"/pin", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok","pinned":true}`, string(data))
}

func TestAutoTitle(t *testing.T) {
	msgs := []StoredMessage{
		{Role: model.RoleAssistant, Content: "Welcome back"},
		{Role: model.RoleUser, Content: "  ...  "},
		{Role: model.RoleUser, Content: "can you plan my week's meals, please? thanks"},
	}
	assert.Equal(t, "Can You Plan My Week's Meals", autoTitle(msgs))
	assert.Empty(t, autoTitle(msgs[:2]))
}

// =============================================================================
// VOICE
// =============================================================================

func TestServer_Voice(t *testing.T) {
	ts := newTestServer(t, Options{})
	c := voice.NewClient(ts.URL+APIPrefix+"/voice", voice.ClientOptions{})
	ctx := context.Background()

	cat, err := c.Voices(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultVoice, cat.Default)
	assert.Len(t, cat.Voices, len(voices))

	id, err := c.ResolvePersona(ctx, "tell me a bedtime story")
	require.NoError(t, err)
	assert.Equal(t, "calm", id)
	id, err = c.ResolvePersona(ctx, "what is 2+2")
	require.NoError(t, err)
	assert.Empty(t, id)

	streamed, err := c.Stream(ctx, "Hello world", "echo")
	require.NoError(t, err)
	full, err := c.Synthesize(ctx, "Hello world", "echo")
	require.NoError(t, err)
	assert.Equal(t, full, streamed)
	assert.Equal(t, "RIFF", string(full[:4]))

	_, err = c.Synthesize(ctx, "Hello", "robot")
	var apiErr *voice.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

// =============================================================================
// END TO END
// =============================================================================

func TestSession_AgainstDevServer(t *testing.T) {
	ts := newTestServer(t, Options{ColdStartFailures: 1})
	idx := threads.NewIndex()
	sess := session.New(session.Options{
		Gateway: newTestGateway(ts),
		Threads: threads.NewStore(ts.URL+APIPrefix, threads.StoreOptions{}),
		Index:   idx,
	})

	res, err := sess.Send(context.Background(), session.SendRequest{Text: "Hello there"})
	require.NoError(t, err)
	sess.Wait()

	assert.Equal(t, session.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "You said: Hello there", res.Text)
	require.NotEmpty(t, res.ThreadID)

	state := sess.Snapshot()
	assert.Equal(t, "Hello There", state.Title)
	assert.False(t, state.Loading)
	require.Len(t, state.Messages, 2)

	require.Equal(t, 1, idx.Len())
	th, ok := idx.Get(res.ThreadID)
	require.True(t, ok)
	assert.Equal(t, "Hello There", th.Title)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestServer_ServeAndShutdown(t *testing.T) {
	srv := New(openTestStore(t), Options{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	gw := gateway.New(gateway.Endpoints{HealthURL: "http://" + ln.Addr().String() + APIPrefix + "/health"}, gateway.Options{})
	require.NoError(t, gw.Health(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.False(t, err != nil && !errors.Is(err, context.Canceled), "unexpected error: %v", err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not shut down")
	}
}
