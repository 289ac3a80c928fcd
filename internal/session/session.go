// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/companion/internal/gateway"
	"github.com/jeranaias/companion/internal/logging"
	"github.com/jeranaias/companion/internal/metrics"
	"github.com/jeranaias/companion/internal/model"
	"github.com/jeranaias/companion/internal/stream"
	"github.com/jeranaias/companion/internal/threads"
)

const (
	// DefaultPersistTimeout bounds each thread create or append.
	DefaultPersistTimeout = 30 * time.Second

	// DefaultAutoTitleTimeout bounds the best-effort title request.
	DefaultAutoTitleTimeout = 15 * time.Second

	// readBufferSize is the size of each stream read.
	readBufferSize = 4096

	// interruptedText is the stream error used when the connection breaks.
	interruptedText = "the connection was interrupted"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Opener opens the chat stream for one turn.
type Opener interface {
	Open(ctx context.Context, p gateway.Payload) (io.ReadCloser, error)
}

// ThreadStore persists the conversation.
type ThreadStore interface {
	Create(ctx context.Context, title string, msgs []model.Message) (string, error)
	EnsureThread(ctx context.Context, existingID string, msg model.Message) (string, error)
	AutoTitle(ctx context.Context, id string) (string, error)
	Rename(ctx context.Context, id, title string) (string, error)
	SetPinned(ctx context.Context, id string, pinned bool) (bool, error)
	Delete(ctx context.Context, id string) error
}

// Speaker reads finished answers aloud. hint is the conversational context
// used to pick a persona voice.
type Speaker interface {
	Say(ctx context.Context, text, hint string) error
	Stop()
}

// Options configures a Session.
type Options struct {
	Gateway Opener
	Threads ThreadStore    // nil disables persistence
	Index   *threads.Index // optional sidebar list
	Speaker Speaker        // optional
	Model   string         // default model for turns that name none

	// AutoSpeak reads each completed answer aloud through Speaker.
	AutoSpeak bool

	ThrottleInterval time.Duration
	PersistTimeout   time.Duration
	AutoTitleTimeout time.Duration
	Now              func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// SendRequest is one user turn.
type SendRequest struct {
	Text   string
	Images []string
	Model  string
}

// Result describes how a turn ended.
type Result struct {
	Outcome  Outcome
	ThreadID string
	Text     string // final assistant text, if any
	Err      error  // cause of OutcomeUnreachable or OutcomeStreamError
}

// State is a consistent copy of the session's visible state.
type State struct {
	SessionID      string
	ThreadID       string
	Title          string
	Pinned         bool
	Messages       []model.Message
	StreamingID    string
	Loading        bool
	Thinking       bool
	ThinkingStatus string
	Provider       string
	Model          string
	LastActivity   time.Time
}

// =============================================================================
// SESSION
// =============================================================================

// Session is one open conversation.
type Session struct {
	id        string
	gateway   Opener
	store     ThreadStore
	index     *threads.Index
	speaker   Speaker
	model     string
	autoSpeak bool

	interval         time.Duration
	persistTimeout   time.Duration
	autoTitleTimeout time.Duration
	now              func() time.Time
	logger           *slog.Logger
	metrics          *metrics.Metrics

	cancel *CancellationController

	// persistMu serializes thread create and append calls so a conversation
	// never issues two creates.
	persistMu sync.Mutex
	// unsaved holds the user message of a turn whose thread create failed,
	// retried once together with the reply. Guarded by persistMu.
	unsaved *unsavedTurn

	// bg tracks auto-title and speech goroutines.
	bg sync.WaitGroup

	mu           sync.Mutex
	transcript   Transcript
	threadID     string
	title        string
	pinned       bool
	loading      bool
	thinking     bool
	status       string
	provider     string
	modelName    string
	epoch        uint64
	lastActivity time.Time

	cbMu     sync.RWMutex
	onChange func()
	onNotice func(Notice)
}

// New creates a Session in the unattached state.
func New(opts Options) *Session {
	if opts.ThrottleInterval <= 0 {
		opts.ThrottleInterval = DefaultThrottleInterval
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = DefaultPersistTimeout
	}
	if opts.AutoTitleTimeout <= 0 {
		opts.AutoTitleTimeout = DefaultAutoTitleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Session{
		id:               "sess_" + uuid.NewString(),
		gateway:          opts.Gateway,
		store:            opts.Threads,
		index:            opts.Index,
		speaker:          opts.Speaker,
		model:            opts.Model,
		autoSpeak:        opts.AutoSpeak,
		interval:         opts.ThrottleInterval,
		persistTimeout:   opts.PersistTimeout,
		autoTitleTimeout: opts.AutoTitleTimeout,
		now:              opts.Now,
		logger:           logging.OrDiscard(opts.Logger),
		metrics:          opts.Metrics,
		cancel:           NewCancellationController(),
		lastActivity:     opts.Now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// SetOnChange registers a callback invoked after every visible state change.
// The callback runs without the session lock held and may call Snapshot.
func (s *Session) SetOnChange(fn func()) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onChange = fn
}

// SetOnNotice registers a callback for transient notices.
func (s *Session) SetOnNotice(fn func(Notice)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.onNotice = fn
}

// SetAutoSpeak toggles reading completed answers aloud.
func (s *Session) SetAutoSpeak(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSpeak = on
}

// Snapshot returns a copy of the visible state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		SessionID:      s.id,
		ThreadID:       s.threadID,
		Title:          s.title,
		Pinned:         s.pinned,
		Messages:       s.transcript.Messages(),
		StreamingID:    s.transcript.StreamingID(),
		Loading:        s.loading,
		Thinking:       s.thinking,
		ThinkingStatus: s.status,
		Provider:       s.provider,
		Model:          s.modelName,
		LastActivity:   s.lastActivity,
	}
}

// ThreadID returns the id of the attached thread, or "".
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// Wait blocks until background auto-title and speech work has finished.
func (s *Session) Wait() {
	s.bg.Wait()
}

// =============================================================================
// SEND
// =============================================================================

// Send runs one turn to completion on the calling goroutine. Any turn still
// in flight is cancelled first. The returned error is non-nil only for an
// invalid request; every other ending is described by Result.Outcome.
func (s *Session) Send(ctx context.Context, req SendRequest) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" && len(req.Images) == 0 {
		return Result{}, ErrEmptyMessage
	}

	if s.speaker != nil {
		s.speaker.Stop()
	}

	userMsg := model.NewUserMessage(text)
	userMsg.Images = req.Images
	userMsg.Timestamp = s.now()

	s.mu.Lock()
	tok := s.cancel.Begin(ctx)
	// A superseded turn may still own the streaming message.
	s.transcript.EndStreaming(s.transcript.StreamingID())
	s.transcript.Append(userMsg)
	s.loading, s.thinking, s.status = true, true, ""
	s.provider, s.modelName = "", ""
	s.lastActivity = s.now()
	epoch := s.epoch
	s.mu.Unlock()
	s.notifyChange()

	threadID := s.persistUser(ctx, epoch, userMsg)

	if tok.Cancelled() {
		return s.finishCancelled(tok, "", threadID), nil
	}

	modelName := req.Model
	if modelName == "" {
		modelName = s.model
	}

	body, err := s.gateway.Open(tok.Context(), gateway.Payload{
		Message:  text,
		ThreadID: threadID,
		Images:   req.Images,
		Model:    modelName,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrCancelled) || tok.Cancelled() {
			return s.finishCancelled(tok, "", threadID), nil
		}
		return s.finishUnreachable(ctx, tok, epoch, threadID, err), nil
	}

	return s.readStream(ctx, tok, epoch, threadID, userMsg, body), nil
}

// readStream runs the read loop for one open stream.
func (s *Session) readStream(ctx context.Context, tok *Token, epoch uint64, threadID string, userMsg model.Message, body io.ReadCloser) Result {
	defer body.Close()

	t := &turn{s: s, tok: tok, msgID: model.NewMessageID()}
	acc := NewAccumulator(t, s.interval, s.now).WithMetrics(s.metrics)

	dec := stream.NewDecoder()
	dec.OnDrop(func(reason string, size int) {
		s.metrics.SegmentDropped(reason)
		s.logger.Debug("dropped stream segment", "reason", reason, "size", size)
	})

	buf := make([]byte, readBufferSize)
	var readErr error

readLoop:
	for {
		if tok.Cancelled() {
			return s.finishCancelled(tok, t.msgID, threadID)
		}

		n, err := body.Read(buf)

		if tok.Cancelled() {
			return s.finishCancelled(tok, t.msgID, threadID)
		}

		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if tok.Cancelled() {
					return s.finishCancelled(tok, t.msgID, threadID)
				}
				if acc.Apply(ev) {
					break readLoop
				}
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) {
				readErr = err
			}
			break
		}
	}

	dec.Finish()

	if !acc.Finished() {
		if readErr != nil {
			s.logger.Warn("chat stream interrupted", "error", readErr)
			acc.Apply(stream.Error{Text: interruptedText})
		} else {
			acc.Finish()
		}
	}

	return s.finishTurn(ctx, tok, epoch, threadID, userMsg, t, acc, readErr)
}

// finishTurn settles a turn whose stream ended by itself.
func (s *Session) finishTurn(ctx context.Context, tok *Token, epoch uint64, threadID string, userMsg model.Message, t *turn, acc *Accumulator, readErr error) Result {
	provider, modelName := acc.Provider()

	outcome := OutcomeCompleted
	var turnErr error
	if acc.Err() != "" {
		outcome = OutcomeStreamError
		turnErr = errors.New(acc.Err())
		if readErr != nil {
			turnErr = readErr
		}
	}

	var (
		final model.Message
		have  bool
	)

	s.mu.Lock()
	if acc.Materialized() {
		_ = s.transcript.Annotate(t.msgID, provider, modelName, outcome != OutcomeCompleted && acc.Chunks() == 0)
		s.transcript.EndStreaming(t.msgID)
		final, have = s.transcript.Get(t.msgID)
	}
	if s.ownsStateLocked(tok) {
		s.loading, s.thinking, s.status = false, false, ""
		if provider != "" {
			s.provider, s.modelName = provider, modelName
		}
	}
	autoSpeak := s.autoSpeak
	s.mu.Unlock()

	s.cancel.Release(tok)
	s.notifyChange()
	s.metrics.SessionOutcome(string(outcome))

	if have && final.Content != "" {
		threadID = s.persistAssistant(ctx, epoch, final)
	}

	if outcome == OutcomeCompleted && threadID != "" && s.store != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.autoTitle(ctx, threadID)
		}()
	}

	if outcome == OutcomeCompleted && autoSpeak && s.speaker != nil && final.Content != "" {
		s.bg.Add(1)
		go func(text string) {
			defer s.bg.Done()
			if err := s.speaker.Say(ctx, text, userMsg.Content); err != nil {
				s.logger.Debug("speech ended without playback", "error", err)
			}
		}(final.Content)
	}

	return Result{Outcome: outcome, ThreadID: threadID, Text: final.Content, Err: turnErr}
}

// finishCancelled settles a cancelled turn. Visible text stays as it was and
// nothing is persisted.
func (s *Session) finishCancelled(tok *Token, msgID, threadID string) Result {
	var text string

	s.mu.Lock()
	if msgID != "" {
		if msg, ok := s.transcript.Get(msgID); ok {
			text = msg.Content
		}
		s.transcript.EndStreaming(msgID)
	}
	if s.ownsStateLocked(tok) {
		s.loading, s.thinking, s.status = false, false, ""
	}
	s.mu.Unlock()

	s.cancel.Release(tok)
	s.metrics.SessionOutcome(string(OutcomeCancelled))
	s.logger.Debug("turn cancelled", "session", s.id)
	s.notifyChange()

	return Result{Outcome: OutcomeCancelled, ThreadID: threadID, Text: text}
}

// finishUnreachable appends the cold-start explanation and persists it once.
func (s *Session) finishUnreachable(ctx context.Context, tok *Token, epoch uint64, threadID string, cause error) Result {
	msg := model.NewAssistantMessage(ColdStartMessage)
	msg.IsError = true
	msg.Timestamp = s.now()

	s.mu.Lock()
	if tok.Cancelled() {
		s.mu.Unlock()
		return s.finishCancelled(tok, "", threadID)
	}
	s.transcript.Append(msg)
	s.loading, s.thinking, s.status = false, false, ""
	s.mu.Unlock()

	s.cancel.Release(tok)
	s.metrics.SessionOutcome(string(OutcomeUnreachable))
	s.logger.Warn("backend unreachable", "error", cause)
	s.notifyChange()

	threadID = s.persistAssistant(ctx, epoch, msg)

	return Result{Outcome: OutcomeUnreachable, ThreadID: threadID, Text: msg.Content, Err: cause}
}

// ownsStateLocked reports whether tok may clear the loading indicators:
// it is current, or no newer turn has started. Caller holds s.mu.
func (s *Session) ownsStateLocked(tok *Token) bool {
	cur := s.cancel.Current()
	return cur == nil || cur == tok
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// unsavedTurn is a user message still waiting for its thread.
type unsavedTurn struct {
	epoch uint64
	title string
	msg   model.Message
}

// persistUser saves the user message before the stream opens, creating the
// thread on the first message. It returns the thread id, or "" when the
// conversation has no thread.
func (s *Session) persistUser(ctx context.Context, epoch uint64, msg model.Message) string {
	if s.store == nil {
		return ""
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.unsaved = nil

	s.mu.Lock()
	threadID, stale := s.threadID, s.epoch != epoch
	s.mu.Unlock()
	if stale {
		return ""
	}

	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if threadID != "" {
		s.appendMessage(pctx, threadID, msg)
		return threadID
	}

	title := threads.DeriveTitle(msg.Content, s.now())
	id, err := s.createThread(pctx, epoch, title, []model.Message{msg})
	if err != nil {
		s.unsaved = &unsavedTurn{epoch: epoch, title: title, msg: msg}
		s.notify(Notice{Kind: NoticePersistFailed, Message: "Couldn't save this conversation. Chat continues unsaved.", Err: err})
		return ""
	}
	return id
}

// persistAssistant appends an assistant message to the conversation's
// thread. When the turn's create failed, the thread is created once more
// with the user message and msg together.
func (s *Session) persistAssistant(ctx context.Context, epoch uint64, msg model.Message) string {
	if s.store == nil {
		return ""
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	threadID, stale := s.threadID, s.epoch != epoch
	s.mu.Unlock()
	if stale {
		return ""
	}

	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if threadID == "" {
		pending := s.unsaved
		s.unsaved = nil
		if pending == nil || pending.epoch != epoch {
			return ""
		}
		id, err := s.createThread(pctx, epoch, pending.title, []model.Message{pending.msg, msg})
		if err != nil {
			return ""
		}
		return id
	}

	s.appendMessage(pctx, threadID, msg)
	return threadID
}

// createThread creates a thread titled title holding msgs and attaches it
// when epoch is still current. The sidebar shows a placeholder meanwhile.
// Caller holds s.persistMu.
func (s *Session) createThread(ctx context.Context, epoch uint64, title string, msgs []model.Message) (string, error) {
	var placeholder string
	if s.index != nil {
		placeholder = s.index.AddPlaceholder(title)
	}

	id, err := s.store.Create(ctx, title, msgs)
	if err != nil {
		if s.index != nil {
			s.index.Remove(placeholder)
		}
		s.logger.Warn("thread create failed", "messages", len(msgs), "error", err)
		return "", err
	}

	s.mu.Lock()
	attached := s.epoch == epoch && s.threadID == ""
	if attached {
		s.threadID, s.title, s.pinned = id, title, false
	}
	s.mu.Unlock()

	if s.index != nil {
		s.index.Resolve(placeholder, id)
		if len(msgs) > 1 {
			s.index.Touch(id, len(msgs)-1)
		}
	}
	s.notifyChange()

	if !attached {
		return "", nil
	}
	s.logger.Info("thread created", "thread", id, "messages", len(msgs))
	return id, nil
}

func (s *Session) appendMessage(ctx context.Context, threadID string, msg model.Message) {
	if _, err := s.store.EnsureThread(ctx, threadID, msg); err != nil {
		s.logger.Warn("thread append failed", "thread", threadID, "error", err)
		s.notify(Notice{Kind: NoticePersistFailed, Message: "Couldn't save the latest message.", Err: err})
		return
	}
	if s.index != nil {
		s.index.Touch(threadID, 1)
	}
}

// persistContext detaches persistence from turn cancellation so a stopped
// turn still saves what the user sent.
func (s *Session) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
}

// autoTitle asks the backend for a better title. Failure or an empty answer
// leaves the current title alone.
func (s *Session) autoTitle(ctx context.Context, threadID string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.autoTitleTimeout)
	defer cancel()

	title, err := s.store.AutoTitle(actx, threadID)
	if err != nil {
		s.logger.Debug("auto title failed", "thread", threadID, "error", err)
		return
	}
	if title == "" {
		return
	}

	s.mu.Lock()
	current := s.threadID == threadID
	if current {
		s.title = title
	}
	s.mu.Unlock()

	if s.index != nil {
		s.index.SetTitle(threadID, title)
	}
	if current {
		s.notifyChange()
	}
}

// =============================================================================
// CONTROL
// =============================================================================

// Stop cancels the in-flight turn and any speech. Text already visible stays.
func (s *Session) Stop() {
	s.mu.Lock()
	stopped := s.cancel.Stop()
	s.loading, s.thinking, s.status = false, false, ""
	s.transcript.EndStreaming(s.transcript.StreamingID())
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Stop()
	}
	if stopped {
		s.notifyChange()
	}
}

// Reset returns to a new, unattached conversation.
func (s *Session) Reset() {
	s.mu.Lock()
	s.resetLocked()
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Stop()
	}
	s.notifyChange()
}

// Attach resets the session and continues the existing thread id.
func (s *Session) Attach(thread model.Thread) {
	s.mu.Lock()
	s.resetLocked()
	s.threadID, s.title, s.pinned = thread.ID, thread.Title, thread.Pinned
	s.mu.Unlock()

	if s.speaker != nil {
		s.speaker.Stop()
	}
	s.notifyChange()
}

func (s *Session) resetLocked() {
	s.cancel.Stop()
	s.transcript.Reset()
	s.threadID, s.title, s.pinned = "", "", false
	s.loading, s.thinking, s.status = false, false, ""
	s.provider, s.modelName = "", ""
	s.epoch++
}

// Rename renames a thread. On failure the displayed title is unchanged and a
// notice is raised.
func (s *Session) Rename(ctx context.Context, threadID, title string) (string, error) {
	if s.store == nil {
		return "", ErrNoThread
	}

	newTitle, err := s.store.Rename(ctx, threadID, title)
	if err != nil {
		s.notify(Notice{Kind: NoticeRenameFailed, Message: "Couldn't rename the conversation.", Err: err})
		return "", err
	}

	s.mu.Lock()
	current := s.threadID == threadID
	if current {
		s.title = newTitle
	}
	s.mu.Unlock()

	if s.index != nil {
		s.index.SetTitle(threadID, newTitle)
	}
	if current {
		s.notifyChange()
	}
	return newTitle, nil
}

// SetPinned pins or unpins a thread.
func (s *Session) SetPinned(ctx context.Context, threadID string, pinned bool) error {
	if s.store == nil {
		return ErrNoThread
	}

	got, err := s.store.SetPinned(ctx, threadID, pinned)
	if err != nil {
		s.notify(Notice{Kind: NoticePinFailed, Message: "Couldn't update the pin.", Err: err})
		return err
	}

	s.mu.Lock()
	current := s.threadID == threadID
	if current {
		s.pinned = got
	}
	s.mu.Unlock()

	if s.index != nil {
		s.index.SetPinned(threadID, got)
	}
	if current {
		s.notifyChange()
	}
	return nil
}

// DeleteThread deletes a thread. Deleting the attached thread resets the
// session to a new, unattached conversation.
func (s *Session) DeleteThread(ctx context.Context, threadID string) error {
	if s.store == nil {
		return ErrNoThread
	}

	if err := s.store.Delete(ctx, threadID); err != nil {
		s.notify(Notice{Kind: NoticeDeleteFailed, Message: "Couldn't delete the conversation.", Err: err})
		return err
	}

	if s.index != nil {
		s.index.Remove(threadID)
	}

	s.mu.Lock()
	current := s.threadID == threadID
	if current {
		s.resetLocked()
	}
	s.mu.Unlock()

	if current {
		if s.speaker != nil {
			s.speaker.Stop()
		}
		s.notifyChange()
	}
	return nil
}

// =============================================================================
// OBSERVERS
// =============================================================================

func (s *Session) notifyChange() {
	s.cbMu.RLock()
	fn := s.onChange
	s.cbMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (s *Session) notify(n Notice) {
	s.cbMu.RLock()
	fn := s.onNotice
	s.cbMu.RUnlock()
	if fn != nil {
		fn(n)
	}
}

// =============================================================================
// TURN SINK
// =============================================================================

// turn applies accumulator output to the session on behalf of one token.
// Every mutation re-checks the token under the session lock, so nothing is
// applied after cancellation.
type turn struct {
	s     *Session
	tok   *Token
	msgID string
}

func (t *turn) mutate(fn func()) {
	t.s.mu.Lock()
	if t.tok.Cancelled() {
		t.s.mu.Unlock()
		return
	}
	fn()
	t.s.mu.Unlock()
	t.s.notifyChange()
}

func (t *turn) Materialize(content string) {
	t.mutate(func() {
		msg := model.NewAssistantMessage(content)
		msg.ID = t.msgID
		msg.Timestamp = t.s.now()
		t.s.transcript.BeginStreaming(msg)
		t.s.thinking, t.s.status = false, ""
	})
}

func (t *turn) Refresh(content string) {
	t.mutate(func() {
		_ = t.s.transcript.UpdateStreaming(t.msgID, content)
	})
}

func (t *turn) SetStatus(status string) {
	t.mutate(func() {
		t.s.status = status
	})
}

func (t *turn) SetProvider(name, modelName string) {
	t.mutate(func() {
		t.s.provider, t.s.modelName = name, modelName
	})
}

func (t *turn) AddCharts(charts []model.Chart) {
	t.mutate(func() {
		for _, c := range charts {
			msg := model.NewChartMessage(c)
			msg.Timestamp = t.s.now()
			t.s.transcript.Append(msg)
		}
	})
}
