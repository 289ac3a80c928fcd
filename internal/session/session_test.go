// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/companion/internal/gateway"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/threads"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

type storeCall struct {
	Op      string
	ID      string
	Role    model.Role
	Content string
	Title   string
	Later   []string // contents after the first message of a create
}

// fakeStore is an in-memory ThreadStore that records calls.
type fakeStore struct {
	mu    sync.Mutex
	calls []storeCall
	next  int

	createErr    error
	failCreates  int // creates that fail before createErr applies
	appendErr    error
	autoTitle    string
	autoTitleErr error
	renameErr    error
	deleteErr    error
}

func (f *fakeStore) Create(ctx context.Context, title string, msgs []model.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := storeCall{Op: "create", Title: title}
	if len(msgs) > 0 {
		call.Role, call.Content = msgs[0].Role, msgs[0].Content
	}
	for _, m := range msgs[1:] {
		call.Later = append(call.Later, m.Content)
	}
	f.calls = append(f.calls, call)

	if f.failCreates > 0 {
		f.failCreates--
		return "", errors.New("threads table locked")
	}
	if f.createErr != nil {
		return "", f.createErr
	}
	f.next++
	return fmt.Sprintf("th_%d", f.next), nil
}

func (f *fakeStore) EnsureThread(ctx context.Context, existingID string, msg model.Message) (string, error) {
	if existingID == "" {
		return f.Create(ctx, threads.DeriveTitle(msg.Content, time.Now()), []model.Message{msg})
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{Op: "append", ID: existingID, Role: msg.Role, Content: msg.Content})
	return existingID, f.appendErr
}

func (f *fakeStore) AutoTitle(ctx context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{Op: "auto_title", ID: id})
	return f.autoTitle, f.autoTitleErr
}

func (f *fakeStore) Rename(ctx context.Context, id, title string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{Op: "rename", ID: id, Title: title})
	if f.renameErr != nil {
		return "", f.renameErr
	}
	return title, nil
}

func (f *fakeStore) SetPinned(ctx context.Context, id string, pinned bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{Op: "pin", ID: id})
	return pinned, nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, storeCall{Op: "delete", ID: id})
	return f.deleteErr
}

func (f *fakeStore) Calls() []storeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storeCall(nil), f.calls...)
}

func (f *fakeStore) count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// gatewayFunc adapts a function to Opener.
type gatewayFunc func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error)

func (f gatewayFunc) Open(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
	return f(ctx, p)
}

// mockSpeaker is a testify mock for Speaker.
type mockSpeaker struct {
	mock.Mock
}

func (m *mockSpeaker) Say(ctx context.Context, text, hint string) error {
	args := m.Called(ctx, text, hint)
	return args.Error(0)
}

func (m *mockSpeaker) Stop() {
	m.Called()
}

func seg(json string) string {
	return "data: " + json + "\n\n"
}

func chunk(text string) string {
	return seg(fmt.Sprintf(`{"type":"chunk","content":%q}`, text))
}

func body(segments ...string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(strings.Join(segments, "")))
}

func staticGateway(segments ...string) gatewayFunc {
	return func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
		return body(segments...), nil
	}
}

func assistantMessages(st State) []model.Message {
	var out []model.Message
	for _, m := range st.Messages {
		if m.Role == model.RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_CompletesAndPersistsBothTurns(t *testing.T) {
	store := &fakeStore{autoTitle: "Friendly greeting"}
	var payload gateway.Payload
	gw := gatewayFunc(func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
		payload = p
		return body(
			seg(`{"type":"status","message":"Thinking..."}`),
			seg(`{"type":"provider","provider":"anthropic","model":"claude"}`),
			chunk("Hi"), chunk(" there"), chunk("!"),
			seg(`{"type":"done","provider":"anthropic","model":"claude"}`),
		), nil
	})

	s := New(Options{Gateway: gw, Threads: store, Model: "auto"})
	res, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "th_1", res.ThreadID)
	assert.Equal(t, "Hi there!", res.Text)
	assert.Equal(t, "th_1", payload.ThreadID)
	assert.Equal(t, "auto", payload.Model)

	st := s.Snapshot()
	assert.False(t, st.Loading)
	assert.False(t, st.Thinking)
	assert.Empty(t, st.StreamingID)
	assert.Equal(t, "Friendly greeting", st.Title)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "Hello", st.Messages[0].Content)
	assert.Equal(t, "Hi there!", st.Messages[1].Content)
	assert.Equal(t, "anthropic", st.Messages[1].Provider)
	assert.False(t, st.Messages[1].IsError)

	calls := store.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, storeCall{Op: "create", Role: model.RoleUser, Content: "Hello", Title: "Hello"}, calls[0])
	assert.Equal(t, storeCall{Op: "append", ID: "th_1", Role: model.RoleAssistant, Content: "Hi there!"}, calls[1])
	assert.Equal(t, "auto_title", calls[2].Op)
}

func TestSend_ThreadCreatedBeforeFirstChunk(t *testing.T) {
	store := &fakeStore{}
	var s *Session

	gw := gatewayFunc(func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
		// The thread exists, titled from the message, before any chunk.
		assert.Equal(t, 1, store.count("create"))
		st := s.Snapshot()
		assert.Equal(t, "Hello", st.Title)
		assert.NotEmpty(t, st.ThreadID)
		assert.Empty(t, assistantMessages(st))
		return body(chunk("Hey"), seg(`{"type":"done"}`)), nil
	})

	s = New(Options{Gateway: gw, Threads: store})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
}

func TestSend_OneCreatePerConversation(t *testing.T) {
	store := &fakeStore{}
	s := New(Options{Gateway: staticGateway(chunk("ok"), seg(`{"type":"done"}`)), Threads: store})

	for i := 0; i < 3; i++ {
		res, err := s.Send(context.Background(), SendRequest{Text: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
		assert.Equal(t, "th_1", res.ThreadID)
	}
	s.Wait()

	assert.Equal(t, 1, store.count("create"))
	assert.Equal(t, 5, store.count("append"))
}

func TestSend_EmptyMessage(t *testing.T) {
	s := New(Options{Gateway: staticGateway()})
	_, err := s.Send(context.Background(), SendRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s.Snapshot().Messages)
}

func TestSend_ThrottledContentIsExact(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock.Advance(10 * time.Millisecond)
		return clock.Now()
	}

	var segments []string
	var want strings.Builder
	for i := 0; i < 100; i++ {
		piece := fmt.Sprintf("w%d ", i)
		want.WriteString(piece)
		segments = append(segments, chunk(piece))
	}

	s := New(Options{Gateway: staticGateway(segments...), Now: now})
	res, err := s.Send(context.Background(), SendRequest{Text: "count"})
	require.NoError(t, err)
	assert.Equal(t, want.String(), res.Text)

	msgs := assistantMessages(s.Snapshot())
	require.Len(t, msgs, 1)
	assert.Equal(t, want.String(), msgs[0].Content)
}

func TestSend_StreamClosedWithoutDone(t *testing.T) {
	s := New(Options{Gateway: staticGateway(chunk("Half"), chunk(" done"), `data: {"type":"chunk","content":"lost"}`)})
	res, err := s.Send(context.Background(), SendRequest{Text: "go"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Half done", res.Text)
}

func TestSend_StreamErrorEvent(t *testing.T) {
	store := &fakeStore{}
	s := New(Options{Gateway: staticGateway(seg(`{"type":"error","error":"model overloaded"}`)), Threads: store})

	res, err := s.Send(context.Background(), SendRequest{Text: "hi"})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, OutcomeStreamError, res.Outcome)
	assert.EqualError(t, res.Err, "model overloaded")

	msgs := assistantMessages(s.Snapshot())
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsError)
	assert.Equal(t, ErrorNotice("model overloaded"), msgs[0].Content)
	assert.False(t, s.Snapshot().Loading)
	assert.Equal(t, 0, store.count("auto_title"))
}

func TestSend_Visualizations(t *testing.T) {
	s := New(Options{Gateway: staticGateway(
		chunk("Sales are up."),
		seg(`{"type":"visualizations","data":[{"type":"bar","title":"Q1","data":[1,2,3]}]}`),
		seg(`{"type":"done"}`),
	)})
	_, err := s.Send(context.Background(), SendRequest{Text: "chart"})
	require.NoError(t, err)

	msgs := assistantMessages(s.Snapshot())
	require.Len(t, msgs, 2)
	assert.Equal(t, "Sales are up.", msgs[0].Content)
	require.True(t, msgs[1].IsChart())
	assert.Equal(t, "bar", msgs[1].Chart.Type)
}

func TestSend_MalformedSegmentsAreSkipped(t *testing.T) {
	s := New(Options{Gateway: staticGateway(
		chunk("one"),
		seg(`{"type":"chunk",`),
		seg(`{"type":"unknown"}`),
		chunk(" two"),
		seg(`{"type":"done"}`),
	)})
	res, err := s.Send(context.Background(), SendRequest{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "one two", res.Text)
}

// =============================================================================
// CANCELLATION
// =============================================================================

func TestStop_MidStreamKeepsVisibleText(t *testing.T) {
	store := &fakeStore{}
	pr, pw := io.Pipe()
	defer pw.Close()

	s := New(Options{
		Gateway: gatewayFunc(func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
			return pr, nil
		}),
		Threads: store,
	})

	visible := make(chan struct{}, 1)
	s.SetOnChange(func() {
		for _, m := range assistantMessages(s.Snapshot()) {
			if m.Content == "The answer is" {
				select {
				case visible <- struct{}{}:
				default:
				}
			}
		}
	})

	done := make(chan Result, 1)
	go func() {
		res, _ := s.Send(context.Background(), SendRequest{Text: "What is the answer?"})
		done <- res
	}()

	_, err := pw.Write([]byte(chunk("The answer is")))
	require.NoError(t, err)

	select {
	case <-visible:
	case <-time.After(2 * time.Second):
		t.Fatal("first chunk never became visible")
	}

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	// The backend keeps talking; none of it may land.
	go func() {
		pw.Write([]byte(chunk(" 42")))
		pw.Write([]byte(seg(`{"type":"done"}`)))
	}()

	var res Result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Stop")
	}

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.NoError(t, res.Err)

	st := s.Snapshot()
	assert.False(t, st.Loading)
	assert.False(t, st.Thinking)
	assert.Empty(t, st.StreamingID)

	msgs := assistantMessages(st)
	require.Len(t, msgs, 1)
	assert.Equal(t, "The answer is", msgs[0].Content)
	assert.False(t, msgs[0].IsError)

	// Only the user turn was persisted.
	assert.Equal(t, 1, store.count("create"))
	assert.Equal(t, 0, store.count("append"))
}

func TestStop_BeforeConnectIsSilent(t *testing.T) {
	s := New(Options{
		Gateway: gatewayFunc(func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
			<-ctx.Done()
			return nil, gateway.ErrCancelled
		}),
	})

	done := make(chan Result, 1)
	go func() {
		res, _ := s.Send(context.Background(), SendRequest{Text: "hi"})
		done <- res
	}()

	require.Eventually(t, func() bool { return s.Snapshot().Loading }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	res := <-done
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	st := s.Snapshot()
	assert.Empty(t, assistantMessages(st))
	assert.False(t, st.Loading)
}

func TestSend_SupersedesPreviousTurn(t *testing.T) {
	pr1, pw1 := io.Pipe()
	pr2, pw2 := io.Pipe()
	defer pw1.Close()
	defer pw2.Close()

	var opens atomic.Int32
	opened := make(chan int, 2)
	gw := gatewayFunc(func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
		n := opens.Add(1)
		opened <- int(n)
		if n == 1 {
			return pr1, nil
		}
		return pr2, nil
	})
	s := New(Options{Gateway: gw})

	first := make(chan Result, 1)
	go func() {
		res, _ := s.Send(context.Background(), SendRequest{Text: "first"})
		first <- res
	}()
	<-opened
	_, err := pw1.Write([]byte(chunk("partial")))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := assistantMessages(s.Snapshot())
		return len(msgs) == 1 && msgs[0].Content == "partial"
	}, 2*time.Second, 5*time.Millisecond)

	second := make(chan Result, 1)
	go func() {
		res, _ := s.Send(context.Background(), SendRequest{Text: "second"})
		second <- res
	}()
	<-opened

	// Unblock the first reader; it must notice it was superseded.
	go pw1.Write([]byte(chunk(" ignored")))

	res1 := <-first
	assert.Equal(t, OutcomeCancelled, res1.Outcome)
	assert.True(t, s.Snapshot().Loading, "cleanup of the old turn must not clear the new turn's state")

	_, err = pw2.Write([]byte(chunk("fresh") + seg(`{"type":"done"}`)))
	require.NoError(t, err)

	res2 := <-second
	assert.Equal(t, OutcomeCompleted, res2.Outcome)

	st := s.Snapshot()
	assert.False(t, st.Loading)
	msgs := assistantMessages(st)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[0].Content)
	assert.Equal(t, "fresh", msgs[1].Content)
}

// =============================================================================
// COLD START
// =============================================================================

func TestSend_UnreachableBackend(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gw := gateway.New(gateway.Endpoints{ChatURL: server.URL}, gateway.Options{RetryDelay: -1})
	store := &fakeStore{}
	s := New(Options{Gateway: gw, Threads: store})

	res, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, OutcomeUnreachable, res.Outcome)
	assert.True(t, gateway.IsTerminal(res.Err))
	assert.Equal(t, int32(3), hits.Load())

	st := s.Snapshot()
	assert.False(t, st.Loading)
	assert.False(t, st.Thinking)
	msgs := assistantMessages(st)
	require.Len(t, msgs, 1)
	assert.Equal(t, ColdStartMessage, msgs[0].Content)
	assert.True(t, msgs[0].IsError)

	persisted := 0
	for _, c := range store.Calls() {
		if c.Op == "append" && c.Content == ColdStartMessage {
			persisted++
		}
	}
	assert.Equal(t, 1, persisted)
	assert.Equal(t, 0, store.count("auto_title"))
}

func TestSend_UnreachableBackendCreatesThreadWithBothTurns(t *testing.T) {
	gw := gatewayFunc(func(ctx context.Context, p gateway.Payload) (io.ReadCloser, error) {
		return nil, &gateway.TerminalError{Attempts: 3, Err: errors.New("connection refused")}
	})
	store := &fakeStore{failCreates: 1}
	index := threads.NewIndex()
	s := New(Options{Gateway: gw, Threads: store, Index: index})

	res, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, OutcomeUnreachable, res.Outcome)
	assert.Equal(t, "th_1", res.ThreadID)
	assert.Equal(t, "th_1", s.Snapshot().ThreadID)

	calls := store.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "create", calls[0].Op)
	assert.Equal(t, storeCall{Op: "create", Role: model.RoleUser, Content: "Hello", Title: "Hello", Later: []string{ColdStartMessage}}, calls[1])

	list := index.Threads()
	require.Len(t, list, 1)
	assert.Equal(t, "th_1", list[0].ID)
	assert.Equal(t, 2, list[0].MessageCount)
}

func TestSend_StoredTitleMatchesDisplayedTitle(t *testing.T) {
	lateNight := time.Date(2025, time.March, 9, 23, 59, 59, 0, time.UTC)
	store := &fakeStore{}
	index := threads.NewIndex()
	s := New(Options{
		Gateway: staticGateway(chunk("Looks like a link."), seg(`{"type":"done"}`)),
		Threads: store,
		Index:   index,
		Now:     func() time.Time { return lateNight },
	})

	_, err := s.Send(context.Background(), SendRequest{Text: "https://example.com/report"})
	require.NoError(t, err)

	want := threads.PlaceholderTitle(lateNight)
	calls := store.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, want, calls[0].Title)
	assert.Equal(t, want, s.Snapshot().Title)
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

func TestSend_CreateFailureRaisesNoticeAndChatContinues(t *testing.T) {
	store := &fakeStore{createErr: errors.New("db down")}
	index := threads.NewIndex()
	s := New(Options{Gateway: staticGateway(chunk("still here"), seg(`{"type":"done"}`)), Threads: store, Index: index})

	var notices []Notice
	var mu sync.Mutex
	s.SetOnNotice(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	res, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "still here", res.Text)
	assert.Empty(t, res.ThreadID)
	assert.Equal(t, 0, index.Len(), "placeholder removed after failed create")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticePersistFailed, notices[0].Kind)
}

func TestSend_IndexPlaceholderResolved(t *testing.T) {
	store := &fakeStore{}
	index := threads.NewIndex()
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store, Index: index})

	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	list := index.Threads()
	require.Len(t, list, 1)
	assert.Equal(t, "th_1", list[0].ID)
	assert.Equal(t, "Hello", list[0].Title)
	assert.Equal(t, 2, list[0].MessageCount)
}

func TestAutoTitleFailureKeepsProvisionalTitle(t *testing.T) {
	store := &fakeStore{autoTitleErr: errors.New("llm unavailable")}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})

	res, err := s.Send(context.Background(), SendRequest{Text: "Plan my week. Include gym."})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, "Plan my week.", s.Snapshot().Title)
	assert.Equal(t, 1, store.count("auto_title"))
}

func TestAutoTitleEmptyKeepsProvisionalTitle(t *testing.T) {
	store := &fakeStore{autoTitle: ""}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})

	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, "Hello", s.Snapshot().Title)
}

// =============================================================================
// THREAD OPERATIONS
// =============================================================================

func TestRenameFailureKeepsTitle(t *testing.T) {
	store := &fakeStore{renameErr: errors.New("conflict")}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	var got Notice
	s.SetOnNotice(func(n Notice) { got = n })

	_, err = s.Rename(context.Background(), "th_1", "Better")
	require.Error(t, err)
	assert.Equal(t, "Hello", s.Snapshot().Title)
	assert.Equal(t, NoticeRenameFailed, got.Kind)
}

func TestRenameAndPin(t *testing.T) {
	store := &fakeStore{}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	title, err := s.Rename(context.Background(), "th_1", "Better")
	require.NoError(t, err)
	assert.Equal(t, "Better", title)
	require.NoError(t, s.SetPinned(context.Background(), "th_1", true))

	st := s.Snapshot()
	assert.Equal(t, "Better", st.Title)
	assert.True(t, st.Pinned)

	// Renaming another thread leaves the current title alone.
	_, err = s.Rename(context.Background(), "th_other", "Elsewhere")
	require.NoError(t, err)
	assert.Equal(t, "Better", s.Snapshot().Title)
}

func TestDeleteCurrentThreadResets(t *testing.T) {
	store := &fakeStore{}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	require.NoError(t, s.DeleteThread(context.Background(), "th_1"))

	st := s.Snapshot()
	assert.Empty(t, st.ThreadID)
	assert.Empty(t, st.Title)
	assert.Empty(t, st.Messages)
	assert.False(t, st.Loading)

	// The next message starts a new thread.
	res, err := s.Send(context.Background(), SendRequest{Text: "Again"})
	require.NoError(t, err)
	assert.Equal(t, "th_2", res.ThreadID)
	assert.Equal(t, 2, store.count("create"))
}

func TestDeleteOtherThreadKeepsConversation(t *testing.T) {
	store := &fakeStore{}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	require.NoError(t, s.DeleteThread(context.Background(), "th_other"))
	st := s.Snapshot()
	assert.Equal(t, "th_1", st.ThreadID)
	assert.Len(t, st.Messages, 2)
}

func TestDeleteFailureKeepsThread(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("nope")}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	assert.Error(t, s.DeleteThread(context.Background(), "th_1"))
	assert.Equal(t, "th_1", s.Snapshot().ThreadID)
}

func TestAttachContinuesExistingThread(t *testing.T) {
	store := &fakeStore{}
	s := New(Options{Gateway: staticGateway(chunk("hey"), seg(`{"type":"done"}`)), Threads: store})
	s.Attach(model.Thread{ID: "th_42", Title: "Old chat"})

	res, err := s.Send(context.Background(), SendRequest{Text: "Continue"})
	require.NoError(t, err)
	s.Wait()

	assert.Equal(t, "th_42", res.ThreadID)
	assert.Equal(t, 0, store.count("create"))
	assert.Equal(t, "Old chat", s.Snapshot().Title)
}

// =============================================================================
// VOICE
// =============================================================================

func TestAutoSpeakCompletedAnswer(t *testing.T) {
	speaker := &mockSpeaker{}
	speaker.On("Stop").Return()
	speaker.On("Say", mock.Anything, "Hi there!", "Hello").Return(nil).Once()

	s := New(Options{
		Gateway:   staticGateway(chunk("Hi there!"), seg(`{"type":"done"}`)),
		Speaker:   speaker,
		AutoSpeak: true,
	})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	speaker.AssertExpectations(t)
}

func TestNoSpeechWithoutAutoSpeak(t *testing.T) {
	speaker := &mockSpeaker{}
	speaker.On("Stop").Return()

	s := New(Options{Gateway: staticGateway(chunk("quiet"), seg(`{"type":"done"}`)), Speaker: speaker})
	_, err := s.Send(context.Background(), SendRequest{Text: "Hello"})
	require.NoError(t, err)
	s.Wait()

	speaker.AssertNotCalled(t, "Say", mock.Anything, mock.Anything, mock.Anything)
	speaker.AssertCalled(t, "Stop")
}
